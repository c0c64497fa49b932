package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/nugget/apiconsole/internal/apperr"
)

// maxJokeMatches caps how many search hits are returned.
const maxJokeMatches = 5

// Joke is a single normalized joke.
type Joke struct {
	Joke      string    `json:"joke"`
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
}

// JokeResult holds either one random joke or a list of search matches.
// It encodes as the bare object or the bare array respectively.
type JokeResult struct {
	Random  *Joke
	Matches []Joke
}

// MarshalJSON implements json.Marshaler.
func (r JokeResult) MarshalJSON() ([]byte, error) {
	if r.Random != nil {
		return json.Marshal(r.Random)
	}
	if r.Matches == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.Matches)
}

type upstreamJoke struct {
	Value      string   `json:"value"`
	Categories []string `json:"categories"`
}

// JokesClient talks to api.chucknorris.io.
type JokesClient struct {
	base
}

// NewJokes creates a joke adapter rooted at baseURL
// (https://api.chucknorris.io/jokes in production).
func NewJokes(baseURL string, client *http.Client, logger *slog.Logger) *JokesClient {
	return &JokesClient{base: newBase("chucknorris", baseURL, client, logger)}
}

// Joke returns a random joke when term is empty and search matches
// otherwise.
func (j *JokesClient) Joke(ctx context.Context, term string) (JokeResult, error) {
	if term == "" {
		joke, err := j.Random(ctx)
		if err != nil {
			return JokeResult{}, err
		}
		return JokeResult{Random: joke}, nil
	}
	matches, err := j.Search(ctx, term)
	if err != nil {
		return JokeResult{}, err
	}
	return JokeResult{Matches: matches}, nil
}

// Random returns one random joke.
func (j *JokesClient) Random(ctx context.Context) (*Joke, error) {
	var resp upstreamJoke
	if err := j.getJSON(ctx, "chucknorris.random", "/random", nil, &resp); err != nil {
		return nil, err
	}
	joke := j.normalize(resp)
	return &joke, nil
}

// Search returns up to five jokes matching query. An empty result is an
// upstream error naming the query.
func (j *JokesClient) Search(ctx context.Context, query string) ([]Joke, error) {
	var resp struct {
		Result []upstreamJoke `json:"result"`
	}
	q := url.Values{"query": {query}}
	if err := j.getJSON(ctx, "chucknorris.search", "/search", q, &resp); err != nil {
		return nil, err
	}

	if len(resp.Result) == 0 {
		return nil, apperr.UpstreamMsg("chucknorris.search",
			fmt.Sprintf("No Chuck Norris jokes found for %q", query))
	}

	hits := resp.Result
	if len(hits) > maxJokeMatches {
		hits = hits[:maxJokeMatches]
	}
	jokes := make([]Joke, len(hits))
	for i, h := range hits {
		jokes[i] = j.normalize(h)
	}
	return jokes, nil
}

func (j *JokesClient) normalize(u upstreamJoke) Joke {
	category := "general"
	if len(u.Categories) > 0 && u.Categories[0] != "" {
		category = u.Categories[0]
	}
	return Joke{Joke: u.Value, Category: category, Timestamp: j.now()}
}
