package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/soko/internal/app"
	"github.com/seanblong/soko/internal/auth"
	"github.com/seanblong/soko/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	_ = godotenv.Load()
	fs := pflag.NewFlagSet("soko-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	fs.Usage = cfg.Usage

	if err := app.SetupLogging(cfg.LogLevel, os.Stdout, false); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting soko api")

	authn, err := auth.New(cfg.Auth.JwtSecret, cfg.Auth.Enabled)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize auth")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.New(ctx, cfg, reg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}
	defer a.Close()

	if err := a.Indexer.EnsureReady(ctx); err != nil {
		log.Warn().Err(err).Msg("vector store not ready, will retry on first request")
	}
	if cfg.Auth.Enabled {
		log.Info().Msg("Authentication is ENABLED")
	} else {
		log.Info().Msg("Authentication is DISABLED - running in open mode")
	}

	srv := &server{app: a, auth: authn, gather: reg, logger: log.Logger, timeout: 30 * time.Second}
	s := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdown); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
		}
	}()

	log.Info().Str("addr", s.Addr).Msg("api server listening")
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("api server stopped")
}
