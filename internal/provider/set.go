package provider

import (
	"log/slog"
	"time"

	"github.com/nugget/apiconsole/internal/config"
	"github.com/nugget/apiconsole/internal/httpkit"
)

// retryDelay is the pause between retries of a failed dial.
const retryDelay = 200 * time.Millisecond

// Set holds one instance of every adapter. It is built once by the
// composition root and shared by the dispatcher and the HTTP routes.
type Set struct {
	Weather  *WeatherClient
	CatFacts *CatFactsClient
	Jokes    *JokesClient
	GitHub   *GitHubClient
	Activity *ActivityClient
}

// New builds every adapter from cfg over one shared HTTP client.
func New(cfg config.ProvidersConfig, logger *slog.Logger) (*Set, error) {
	client := httpkit.NewClient(
		httpkit.WithTimeout(cfg.Timeout),
		httpkit.WithRetry(cfg.RetryCount, retryDelay),
		httpkit.WithLogger(logger),
	)

	gh, err := NewGitHub(client, cfg.GitHubToken, cfg.GitHubURL, cfg.GitHubLimit, logger)
	if err != nil {
		return nil, err
	}

	return &Set{
		Weather:  NewWeather(cfg.WeatherURL, client, logger),
		CatFacts: NewCatFacts(cfg.CatFactsURL, client, logger),
		Jokes:    NewJokes(cfg.ChuckNorrisURL, client, logger),
		GitHub:   gh,
		Activity: NewActivity(cfg.BoredURL, client, logger),
	}, nil
}
