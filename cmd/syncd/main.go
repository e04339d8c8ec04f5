package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/pagesync/internal/auth"
	"github.com/erauner12/pagesync/internal/config"
	"github.com/erauner12/pagesync/internal/db"
	"github.com/erauner12/pagesync/internal/engine"
	"github.com/erauner12/pagesync/internal/httpapi"
	"github.com/erauner12/pagesync/internal/httpx"
	"github.com/erauner12/pagesync/internal/ratelimit"
	"github.com/erauner12/pagesync/internal/retry"
	"github.com/erauner12/pagesync/internal/store"
	"github.com/erauner12/pagesync/internal/systema"
	"github.com/erauner12/pagesync/internal/systemb"
)

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "pagesync").Logger()

	cfg, err := config.Load(os.Getenv("PAGESYNC_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Pretty logging for local dev
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	// Storage: Postgres when DATABASE_URL is set, in-memory otherwise.
	// The memory store loses all state on restart, so it is dev-only.
	var st engine.Storage
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()

		pg := store.NewPG(pool)
		if err := pg.Init(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize schema")
		}
		st = pg
	} else {
		if cfg.Env != "dev" {
			log.Fatal().Msg("DATABASE_URL is required outside dev")
		}
		log.Warn().Msg("no DATABASE_URL, using in-memory store (state is lost on restart)")
		st = store.NewMemory()
	}

	// One queue-form limiter per external system, shared by every call
	// toward that system.
	limiterA := ratelimit.New("system_a", cfg.RateLimitA)
	limiterB := ratelimit.New("system_b", cfg.RateLimitB)
	defer limiterA.Stop()
	defer limiterB.Stop()

	policy := retry.Policy{MaxAttempts: cfg.RetryMaxAttempts, BaseDelay: cfg.RetryBaseDelay()}
	timeoutsA := systema.Timeouts{List: cfg.ListTimeout(), Record: cfg.RecordTimeout()}
	timeoutsB := systemb.Timeouts{List: cfg.ListTimeout(), Record: cfg.RecordTimeout()}

	clientA := systema.NewClient(
		httpx.New("system_a", cfg.SystemA.BaseURL, cfg.SystemA.Token, limiterA, policy, nil),
		timeoutsA,
	)
	clientB := systemb.NewClient(
		httpx.New("system_b", cfg.SystemB.BaseURL, cfg.SystemB.Token, limiterB, policy, nil),
		timeoutsB,
	)

	runner := engine.NewRunner(clientA, clientB, st, engine.NewSink(st), engine.RunnerConfig{
		BatchSize:            cfg.BatchSize,
		AutoArchiveUnmatched: cfg.AutoArchiveUnmatched,
		StrictSanitization:   cfg.StrictSanitization,
	})

	sched := engine.NewScheduler(runner, st)
	if err := sched.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize scheduler")
	}

	// HTTP server setup
	srv := &httpapi.Server{Store: st, Sched: sched}

	jwtCfg := auth.JWTCfg{
		HS256Secret: cfg.JWTSecret,
		DevMode:     cfg.DevMode,
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Routes(jwtCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Stop tickers and cancel in-flight runs before releasing limiters.
	sched.Shutdown()

	log.Info().Msg("daemon stopped")
}
