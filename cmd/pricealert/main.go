package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"pricealert/internal/infrastructure/config"
	"pricealert/internal/infrastructure/logger"
	"pricealert/internal/infrastructure/svc"

	"github.com/rs/zerolog/log"
)

func main() {
	logger.Setup("info")

	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("service init failed")
	}

	log.Info().
		Str("config", *configPath).
		Strs("feeds", cfg.EnabledExchanges()).
		Int("status_every_min", cfg.App.StatusEveryMin).
		Msg("pricealert starting")

	runErr := sc.Run(ctx)
	if runErr != nil {
		log.Error().Err(runErr).Msg("service exited")
	}
	log.Info().Msg("\n" + sc.Status())

	if err := sc.Close(); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	if runErr != nil {
		os.Exit(1)
	}
}
