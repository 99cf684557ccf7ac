// The worker binary runs the job scheduler without the HTTP surface. It
// shares the bootstrap wiring with the api binary, so deployments that want
// queue processing isolated from request traffic can run one of each.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"storyreel/internal/app"
	"storyreel/internal/infra"
)

func main() {
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
		logger.Fatal().Err(err).Msg("worker: bootstrap failed")
	}
	defer services.Close()

	if err := services.Scheduler.Recover(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: queue recovery failed")
	}

	logger.Info().Int("lane_width", cfg.LaneWidth).Msg("worker: started")
	if err := services.Scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
