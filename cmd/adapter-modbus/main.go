package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

func main() {
	configFile := flag.String("config", "", "path to config file (default: search /etc/smh-modbus, ~/.smh-modbus, .)")
	flag.Parse()

	handler, cleanup, err := InitMainHandler(ConfigPath(*configFile))
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = handler.Run(ctx)
	stop()
	cleanup()
	if err != nil {
		handler.Logger.Fatal().Err(err).Msg("adapter-modbus stopped")
	}
	handler.Logger.Info().Msg("adapter-modbus stopped")
}
