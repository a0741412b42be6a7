package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/pbxmon/internal/collector"
	"github.com/danmuck/pbxmon/internal/config"
	"github.com/danmuck/pbxmon/internal/observability"
)

func main() {
	configPath := flag.String("config", "pbxmon.toml", "path to pbxmon.toml")
	once := flag.Bool("once", false, "collect every target once and exit (for cron)")
	flag.Parse()

	observability.InitLogger("pbxmonctl")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbxmonctl: %v\n", err)
		os.Exit(1)
	}
	svc, err := collector.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbxmonctl: %v\n", err)
		os.Exit(1)
	}

	if *once {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := svc.CollectOnce(ctx); err != nil {
			log.Error().Err(err).Msg("collect_once_failed")
			os.Exit(1)
		}
		return
	}

	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "pbxmonctl: %v\n", err)
		os.Exit(1)
	}
}
