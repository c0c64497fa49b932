// Package provider adapts the third-party REST APIs behind the console
// (weather, cat facts, jokes, GitHub users, activities) into stable
// payloads. Every adapter stamps its payloads with a server-side
// timestamp and reports transport failures as upstream errors, so the
// dispatcher sees a single error shape regardless of the API.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nugget/apiconsole/internal/apperr"
	"github.com/nugget/apiconsole/internal/httpkit"
)

// Breaker settings shared by every adapter. After five consecutive
// failures an upstream is short-circuited for thirty seconds, then one
// trial request is let through.
const (
	breakerTrips   = 5
	breakerTimeout = 30 * time.Second
)

// maxErrorBody caps how much of a failed upstream body is read into the
// error message.
const maxErrorBody = 256

// base is the plumbing shared by the JSON adapters: one upstream base
// URL, one HTTP client, one circuit breaker.
type base struct {
	name    string
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
	now     func() time.Time
}

func newBase(name, baseURL string, client *http.Client, logger *slog.Logger) base {
	if client == nil {
		client = httpkit.NewClient(httpkit.WithLogger(logger))
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("provider", name)

	return base{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		breaker: newBreaker(name, logger),
		logger:  logger,
		now:     time.Now,
	}
}

func newBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: breakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= breakerTrips
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("upstream circuit changed state",
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

// getJSON fetches path relative to the base URL and decodes the body
// into v. Any failure, including an open circuit, becomes an upstream
// error tagged with op.
func (b *base) getJSON(ctx context.Context, op, path string, query url.Values, v any) error {
	u := b.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.fetch(ctx, u, v)
	})
	if err != nil {
		return apperr.Upstream(op, err)
	}
	return nil
}

func (b *base) fetch(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return transportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := httpkit.ReadErrorBody(resp.Body, maxErrorBody)
		b.logger.Debug("upstream error body", "status", resp.StatusCode, "body", body)
		return fmt.Errorf("request failed with status code %d", resp.StatusCode)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", b.name, err)
	}
	return nil
}

var errTimedOut = errors.New("request timed out")

// transportError strips the request URL that net/http puts in front of
// transport failures, so query strings never reach a client message.
func transportError(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return errTimedOut
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
