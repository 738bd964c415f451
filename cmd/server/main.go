package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quotegateway/internal/api"
	"quotegateway/internal/app"
	"quotegateway/internal/config"
	"quotegateway/internal/logging"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config.yaml (optional; CONFIG_FILE also works)")
	flag.Parse()

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "quotegateway: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	}, os.Stdout)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("closing resources")
		}
	}()
	go a.Cache.RunSweeper(ctx, time.Duration(cfg.Cache.SweepIntervalSec)*time.Second)

	router := api.NewRouter(a.Service, api.Options{
		Logger:         log,
		Metrics:        a.Metrics,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
	})
	srv := app.HTTPServer(":"+cfg.Server.Port, router)

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Strs("providers", a.Service.Providers()).
			Str("cache", cfg.Cache.Backend).
			Dur("cache_ttl", a.Cache.TTL()).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
