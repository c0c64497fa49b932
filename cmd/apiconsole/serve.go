package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nugget/apiconsole/internal/api"
	"github.com/nugget/apiconsole/internal/auth"
	"github.com/nugget/apiconsole/internal/buildinfo"
	"github.com/nugget/apiconsole/internal/config"
	"github.com/nugget/apiconsole/internal/database"
	"github.com/nugget/apiconsole/internal/dispatch"
	"github.com/nugget/apiconsole/internal/events"
	"github.com/nugget/apiconsole/internal/history"
	"github.com/nugget/apiconsole/internal/preferences"
	"github.com/nugget/apiconsole/internal/provider"
	"github.com/nugget/apiconsole/internal/session"
)

// shutdownTimeout bounds the graceful drain of in-flight HTTP requests.
const shutdownTimeout = 10 * time.Second

func newServeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd.OutOrStdout(), g.configPath)
		},
	}
}

// app is the assembled service. Everything is built by newApp and torn
// down by close in reverse order.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *sql.DB
	bus      *events.Bus
	stats    *events.Stats
	recorder *history.Recorder
	signer   *auth.Signer
	gate     *session.Gate
	server   *api.Server
}

// newApp wires every component from cfg. The caller owns the returned
// app and must call close.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := database.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, db: db}

	prefStore, err := preferences.NewStore(db)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create preference store: %w", err)
	}
	histStore, err := history.NewStore(db, cfg.History.PageSize)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create history store: %w", err)
	}

	a.bus = events.New()
	a.stats = events.NewStats()
	a.recorder = history.NewRecorder(histStore, cfg.History.QueueSize, a.bus, logger.With("component", "history"))

	providers, err := provider.New(cfg.Providers, logger.With("component", "provider"))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create providers: %w", err)
	}

	dispatcher := dispatch.New(dispatch.Deps{
		Weather:     providers.Weather,
		Facts:       providers.CatFacts,
		Jokes:       providers.Jokes,
		Activities:  providers.Activity,
		Users:       providers.GitHub,
		Preferences: prefStore,
		History:     histStore,
		Recorder:    a.recorder,
	}, a.bus, logger.With("component", "dispatch"))

	a.signer = auth.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTTL)
	directory, err := auth.NewDirectory(db, a.signer, cfg.Auth.RefreshTTL, logger.With("component", "auth"))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create identity directory: %w", err)
	}

	a.gate = session.NewGate(a.signer, dispatcher, session.NewRegistry(), a.bus, logger.With("component", "session"), session.Options{
		AuthTimeout:    cfg.Session.AuthTimeout,
		WriteTimeout:   cfg.Session.WriteTimeout,
		CommandTimeout: cfg.Session.CommandTimeout,
		CheckOrigin:    allowOrigin(cfg.CORSOrigin),
	})

	a.server = api.NewServer(cfg.Listen.Address, cfg.Listen.Port, cfg.CORSOrigin, api.Deps{
		Verifier:    a.signer,
		Accounts:    directory,
		HostedUI:    auth.HostedUI(cfg.Auth.HostedUI),
		Preferences: prefStore,
		History:     histStore,
		Weather:     providers.Weather,
		Facts:       providers.CatFacts,
		Jokes:       providers.Jokes,
		Activities:  providers.Activity,
		Users:       providers.GitHub,
		Stats:       a.stats,
		Sessions:    a.gate,
		WebSocket:   a.gate,
	}, logger.With("component", "api"))

	return a, nil
}

// close stops the gate, drains the recorder, and closes the database.
// It is safe on a partially built app.
func (a *app) close() {
	if a.gate != nil {
		a.gate.Close()
	}
	if a.recorder != nil {
		a.recorder.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("database close failed", "error", err)
		}
	}
}

// allowOrigin accepts WebSocket upgrades from the configured console
// origin, and from non-browser clients that send no Origin at all.
func allowOrigin(origin string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		got := r.Header.Get("Origin")
		return got == "" || origin == "*" || got == origin
	}
}

// runServe starts the API server and blocks until ctx is cancelled or
// SIGINT/SIGTERM arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := cfg.NewLogger(stdout)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	if cfgPath == "" {
		cfgPath = "(defaults)"
	}
	logger.Info("starting apiconsole",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"config", cfgPath,
		"database", cfg.Database.Path,
		"driver", cfg.Database.Driver,
	)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go a.stats.Run(ctx, a.bus)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		// Gate first so no new commands start while HTTP drains.
		a.gate.Close()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	err = a.server.Start(ctx)
	a.close()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("apiconsole stopped")
	return nil
}
