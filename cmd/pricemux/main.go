package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"pricemux/internal/infrastructure/config"
	"pricemux/internal/infrastructure/logger"
	"pricemux/internal/infrastructure/svc"
)

func main() {
	logger.Setup()

	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initialization failed")
	}
	defer sc.Close()

	log.Info().
		Str("config", *configPath).
		Int("symbols", len(cfg.Symbols.List)).
		Msg("pricemux started")

	if err := sc.Engine().Run(ctx); err != nil {
		log.Error().Err(err).Msg("engine exited")
	}
}
