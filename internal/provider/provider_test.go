package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/apiconsole/internal/apperr"
	"github.com/nugget/apiconsole/internal/httpkit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newUpstream starts a fake upstream serving mux and returns its URL.
func newUpstream(t *testing.T, mux *http.ServeMux) string {
	t.Helper()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts.URL
}

func testClient() *http.Client {
	return httpkit.NewClient(httpkit.WithTimeout(2*time.Second), httpkit.WithLogger(testLogger()))
}

var fixedNow = time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

func TestBase_SendsHeaders(t *testing.T) {
	var gotUA, gotAccept string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fact", func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte(`{"fact":"x","length":1}`))
	})

	c := NewCatFacts(newUpstream(t, mux), testClient(), testLogger())
	if _, err := c.Fact(context.Background()); err != nil {
		t.Fatalf("Fact() error: %v", err)
	}
	if gotUA != "Reactive-API-Console/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q", gotAccept)
	}
}

func TestBase_NonSuccessStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fact", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	})

	c := NewCatFacts(newUpstream(t, mux), testClient(), testLogger())
	_, err := c.Fact(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "Provider call failed: request failed with status code 503" {
		t.Errorf("error = %q", got)
	}
	if !apperr.Is(err, apperr.KindUpstream) {
		t.Errorf("kind = %v, want upstream", apperr.KindOf(err))
	}
}

func TestBase_MalformedPayload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fact", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"fact":`))
	})

	c := NewCatFacts(newUpstream(t, mux), testClient(), testLogger())
	_, err := c.Fact(context.Background())
	if err == nil || !strings.HasPrefix(err.Error(), "Provider call failed: decode catfacts response") {
		t.Errorf("error = %v, want decode failure", err)
	}
}

func TestBase_TimeoutIsUpstreamError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fact", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	client := httpkit.NewClient(httpkit.WithTimeout(50 * time.Millisecond))
	c := NewCatFacts(newUpstream(t, mux), client, testLogger())
	_, err := c.Fact(context.Background())
	if !apperr.Is(err, apperr.KindUpstream) {
		t.Errorf("error = %v, want upstream kind", err)
	}
	if got, want := err.Error(), "Provider call failed: request timed out"; got != want {
		t.Errorf("message = %q, want %q", got, want)
	}
}

func TestTransportError(t *testing.T) {
	refused := errors.New("connection refused")
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"url error unwrapped", &url.Error{Op: "Get", URL: "http://x/fact?q=secret", Err: refused}, "connection refused"},
		{"deadline", &url.Error{Op: "Get", URL: "http://x/fact", Err: context.DeadlineExceeded}, "request timed out"},
		{"plain error kept", refused, "connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := transportError(tt.err)
			if got.Error() != tt.want {
				t.Errorf("transportError = %q, want %q", got, tt.want)
			}
			if strings.Contains(got.Error(), "http://") {
				t.Errorf("message leaks URL: %q", got)
			}
		})
	}
}

func TestBase_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fact", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	c := NewCatFacts(newUpstream(t, mux), testClient(), testLogger())
	for range breakerTrips {
		if _, err := c.Fact(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	}

	_, err := c.Fact(context.Background())
	if err == nil || !strings.Contains(err.Error(), "circuit breaker is open") {
		t.Errorf("error = %v, want open circuit", err)
	}
	if got := hits.Load(); got != breakerTrips {
		t.Errorf("upstream hits = %d, want %d", got, breakerTrips)
	}
}

func TestCatFacts_Fact(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fact", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"fact":"Cats sleep 70% of their lives.","length":29}`))
	})

	c := NewCatFacts(newUpstream(t, mux), testClient(), testLogger())
	c.now = func() time.Time { return fixedNow }

	got, err := c.Fact(context.Background())
	if err != nil {
		t.Fatalf("Fact() error: %v", err)
	}
	want := CatFact{Fact: "Cats sleep 70% of their lives.", Length: 29, Timestamp: fixedNow}
	if *got != want {
		t.Errorf("Fact() = %+v, want %+v", *got, want)
	}
}
