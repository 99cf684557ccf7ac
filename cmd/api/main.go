package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"storyreel/internal/app"
	"storyreel/internal/http/httpapi"
	"storyreel/internal/infra"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("bootstrap failed")
	}
	defer services.Close()

	// Reclaim jobs interrupted by a previous shutdown before taking traffic.
	if err := services.Scheduler.Recover(ctx); err != nil {
		logger.Fatal().Err(err).Msg("queue recovery failed")
	}

	schedDone := make(chan error, 1)
	go func() {
		schedDone <- services.Scheduler.Start(ctx)
	}()

	router := httpapi.NewRouter(services.Handlers(), httpapi.Options{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	<-schedDone
	logger.Info().Msg("server stopped")
}
