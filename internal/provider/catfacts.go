package provider

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// CatFact is a single fact from catfact.ninja.
type CatFact struct {
	Fact      string    `json:"fact"`
	Length    int       `json:"length"`
	Timestamp time.Time `json:"timestamp"`
}

// CatFactsClient fetches random cat facts.
type CatFactsClient struct {
	base
}

// NewCatFacts creates a cat facts adapter rooted at baseURL.
func NewCatFacts(baseURL string, client *http.Client, logger *slog.Logger) *CatFactsClient {
	return &CatFactsClient{base: newBase("catfacts", baseURL, client, logger)}
}

// Fact returns one random fact. There is no local fallback.
func (c *CatFactsClient) Fact(ctx context.Context) (*CatFact, error) {
	var resp struct {
		Fact   string `json:"fact"`
		Length int    `json:"length"`
	}
	if err := c.getJSON(ctx, "catfacts.fact", "/fact", nil, &resp); err != nil {
		return nil, err
	}
	return &CatFact{Fact: resp.Fact, Length: resp.Length, Timestamp: c.now()}, nil
}
