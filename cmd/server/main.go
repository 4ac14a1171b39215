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

	"github.com/sunray-sh/sunray-api/internal/config"
	"github.com/sunray-sh/sunray-api/internal/db"
	"github.com/sunray-sh/sunray-api/internal/httpapi"
	"github.com/sunray-sh/sunray-api/internal/jobs"
	"github.com/sunray-sh/sunray-api/internal/mailer"
	"github.com/sunray-sh/sunray-api/internal/service/control"
	"github.com/sunray-sh/sunray-api/internal/workerrpc"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "sunray-api").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Pretty logging for local dev
	if cfg.Dev() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx := context.Background()

	// Database connection and schema
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	// Email delivery, disabled unless Postmark credentials are present
	var mail mailer.Sender = mailer.Disabled{}
	if cfg.PostmarkServerToken != "" {
		mail = mailer.NewPostmark(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.EmailFrom, cfg.EmailReplyTo)
		log.Info().Str("from", cfg.EmailFrom).Msg("postmark email delivery enabled")
	} else {
		log.Info().Msg("email delivery disabled")
	}

	ctl := control.New(pool, workerrpc.New(), mail)

	srv := &httpapi.Server{
		DB:      pool,
		Control: ctl,
		Version: version,
		RateLimitConfig: httpapi.RateLimitInfo{
			WindowSeconds: cfg.RateLimitWindowS,
			MaxRequests:   cfg.RateLimitMax,
			Burst:         cfg.RateLimitBurst,
		},
		Metrics: httpapi.NewMetrics(),
	}

	// Maintenance jobs: OTP cleanup, session GC, go-live scan, audit retention
	var sched *jobs.Scheduler
	if cfg.CronEnabled {
		if sched, err = jobs.New(ctl); err != nil {
			log.Fatal().Err(err).Msg("failed to build job schedule")
		}
		sched.Start()
		log.Info().Msg("maintenance jobs scheduled")
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("version", version).Msg("starting HTTP server")
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
	if sched != nil {
		// Let any in-flight maintenance run finish.
		<-sched.Stop().Done()
	}

	log.Info().Msg("server stopped")
}
