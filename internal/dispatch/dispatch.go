// Package dispatch routes parsed intents to the provider adapters or
// the local stores and normalizes every failure into an ExecutionError.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/apiconsole/internal/apperr"
	"github.com/nugget/apiconsole/internal/command"
	"github.com/nugget/apiconsole/internal/events"
	"github.com/nugget/apiconsole/internal/history"
	"github.com/nugget/apiconsole/internal/preferences"
	"github.com/nugget/apiconsole/internal/provider"
)

// The narrow views of each collaborator the dispatcher needs.
type (
	WeatherGetter interface {
		Get(ctx context.Context, city string) (*provider.Weather, error)
	}
	FactGetter interface {
		Fact(ctx context.Context) (*provider.CatFact, error)
	}
	JokeGetter interface {
		Joke(ctx context.Context, term string) (provider.JokeResult, error)
	}
	ActivityGetter interface {
		Activity(ctx context.Context) (*provider.Activity, error)
	}
	UserSearcher interface {
		SearchUsers(ctx context.Context, query string) ([]provider.GitHubUser, error)
	}
	PreferenceReader interface {
		Get(ctx context.Context, userID string) (preferences.Preferences, error)
	}
	HistoryLister interface {
		List(ctx context.Context, userID string) ([]history.Entry, error)
	}
	Recorder interface {
		Record(userID, query, api string, ts time.Time)
	}
)

// Deps are the dispatcher's collaborators. Recorder may be nil, in
// which case nothing is recorded.
type Deps struct {
	Weather     WeatherGetter
	Facts       FactGetter
	Jokes       JokeGetter
	Activities  ActivityGetter
	Users       UserSearcher
	Preferences PreferenceReader
	History     HistoryLister
	Recorder    Recorder
}

// ExecutionError is the single failure type Execute returns. The
// message carries a fixed prefix and the cause's caller-safe text.
type ExecutionError struct {
	Intent command.Intent
	Err    error
}

func (e *ExecutionError) Error() string {
	return "Failed to execute command: " + e.Err.Error()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Dispatcher executes intents on behalf of a caller.
type Dispatcher struct {
	deps   Deps
	bus    *events.Bus
	logger *slog.Logger
	now    func() time.Time
}

// New creates a dispatcher. bus may be nil.
func New(deps Deps, bus *events.Bus, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{deps: deps, bus: bus, logger: logger, now: time.Now}
}

// Execute runs in for userID and returns the payload to send back.
// Successful non-local intents are handed to the recorder without
// waiting for the write.
func (d *Dispatcher) Execute(ctx context.Context, in command.Intent, userID string) (any, error) {
	start := d.now()
	result, err := d.route(ctx, in, userID)
	elapsed := d.now().Sub(start)

	d.bus.Publish(events.Event{
		Source: events.SourceDispatch,
		Kind:   events.KindDispatchDone,
		Data: map[string]any{
			"api":         string(in.API),
			"action":      string(in.Action),
			"user_id":     userID,
			"ok":          err == nil,
			"duration_ms": elapsed.Milliseconds(),
		},
	})

	if err != nil {
		d.logger.Info("command failed",
			"api", in.API,
			"action", in.Action,
			"user_id", userID,
			"kind", apperr.KindOf(err).String(),
			"error", err,
		)
		return nil, &ExecutionError{Intent: in, Err: err}
	}

	d.logger.Info("command dispatched",
		"api", in.API,
		"action", in.Action,
		"user_id", userID,
		"elapsed", elapsed.Round(time.Millisecond),
	)

	if !in.Local() && d.deps.Recorder != nil {
		d.deps.Recorder.Record(userID, in.OriginalCommand, string(in.API), d.now())
	}
	return result, nil
}

func (d *Dispatcher) route(ctx context.Context, in command.Intent, userID string) (any, error) {
	switch in.API {
	case command.APIWeather:
		city := in.Param(0)
		if city == "" {
			city = command.DefaultCity
		}
		return d.deps.Weather.Get(ctx, city)

	case command.APICatFacts:
		return d.deps.Facts.Fact(ctx)

	case command.APIChuckNorris:
		return d.deps.Jokes.Joke(ctx, in.Param(0))

	case command.APIBored:
		return d.deps.Activities.Activity(ctx)

	case command.APIGitHub:
		term := in.Param(0)
		if term == "" {
			return nil, apperr.Validation("dispatch.github", "Please specify a username to search")
		}
		return d.deps.Users.SearchUsers(ctx, term)

	case command.APICustom:
		switch in.Action {
		case command.ActionPreferences:
			return d.deps.Preferences.Get(ctx, userID)
		case command.ActionHistory:
			return d.deps.History.List(ctx, userID)
		}
	}

	return nil, apperr.Validation("dispatch.unknown", fmt.Sprintf(
		`Unknown command: %s. Try: "get weather berlin", "get cat fact", "search github john"`,
		in.OriginalCommand,
	))
}
