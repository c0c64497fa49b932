package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v69/github"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/nugget/apiconsole/internal/apperr"
	"github.com/nugget/apiconsole/internal/buildinfo"
	"github.com/nugget/apiconsole/internal/httpkit"
)

const (
	defaultGitHubURL   = "https://api.github.com"
	defaultGitHubLimit = 5
)

// GitHubUser is a search hit enriched with profile counts.
type GitHubUser struct {
	Login     string    `json:"login"`
	Name      string    `json:"name"`
	Avatar    string    `json:"avatar"`
	Followers int       `json:"followers"`
	Repos     int       `json:"repos"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

// GitHubClient searches GitHub users through go-github.
type GitHubClient struct {
	client  *gogithub.Client
	limit   int
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
	now     func() time.Time
}

// NewGitHub creates a user search adapter. An empty or default baseURL
// targets api.github.com; anything else is treated as a GitHub
// Enterprise root (requests go to <baseURL>/api/v3/). A non-empty token
// authenticates requests and raises the rate limit.
func NewGitHub(httpClient *http.Client, token, baseURL string, limit int, logger *slog.Logger) (*GitHubClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("provider", "github")
	if httpClient == nil {
		httpClient = httpkit.NewClient(httpkit.WithLogger(logger))
	}
	if limit <= 0 {
		limit = defaultGitHubLimit
	}

	client := gogithub.NewClient(httpClient)
	client.UserAgent = buildinfo.UserAgent()
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if u := strings.TrimRight(baseURL, "/"); u != "" && u != defaultGitHubURL {
		var err error
		client, err = client.WithEnterpriseURLs(u, u)
		if err != nil {
			return nil, fmt.Errorf("github base url %q: %w", baseURL, err)
		}
	}

	return &GitHubClient{
		client:  client,
		limit:   limit,
		breaker: newBreaker("github", logger),
		logger:  logger,
		now:     time.Now,
	}, nil
}

// checkRateLimit logs a warning when remaining API calls run low.
func (g *GitHubClient) checkRateLimit(resp *gogithub.Response) {
	if resp == nil {
		return
	}
	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 5 {
		g.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time,
		)
	}
}

// SearchUsers returns up to the configured limit of users matching
// query. Each hit is enriched with a profile lookup; a failed lookup
// degrades that one user to the search fields rather than failing the
// batch.
func (g *GitHubClient) SearchUsers(ctx context.Context, query string) ([]GitHubUser, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Validation("github.search", "Search query cannot be empty")
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		opts := &gogithub.SearchOptions{ListOptions: gogithub.ListOptions{PerPage: g.limit}}
		result, resp, err := g.client.Search.Users(ctx, query, opts)
		if err != nil {
			return nil, err
		}
		g.checkRateLimit(resp)
		return result.Users, nil
	})
	if err != nil {
		return nil, apperr.Upstream("github.search", transportError(err))
	}

	hits := out.([]*gogithub.User)
	if len(hits) > g.limit {
		hits = hits[:g.limit]
	}

	users := make([]GitHubUser, len(hits))
	var eg errgroup.Group
	for i, hit := range hits {
		eg.Go(func() error {
			users[i] = g.enrich(ctx, hit)
			return nil
		})
	}
	_ = eg.Wait()

	return users, nil
}

func (g *GitHubClient) enrich(ctx context.Context, hit *gogithub.User) GitHubUser {
	u := GitHubUser{
		Login:     hit.GetLogin(),
		Name:      hit.GetLogin(),
		Avatar:    hit.GetAvatarURL(),
		URL:       hit.GetHTMLURL(),
		Timestamp: g.now(),
	}

	detail, resp, err := g.client.Users.Get(ctx, hit.GetLogin())
	if err != nil {
		g.logger.Warn("github user detail lookup failed, using search fields",
			"login", u.Login,
			"error", err,
		)
		return u
	}
	g.checkRateLimit(resp)

	if name := detail.GetName(); name != "" {
		u.Name = name
	}
	u.Followers = detail.GetFollowers()
	u.Repos = detail.GetPublicRepos()
	return u
}
