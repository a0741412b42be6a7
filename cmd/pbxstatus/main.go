package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/pbxmon/internal/cache"
	"github.com/danmuck/pbxmon/internal/config"
	"github.com/danmuck/pbxmon/internal/logging"
	"github.com/danmuck/pbxmon/internal/status"
)

func main() {
	configPath := flag.String("config", "pbxmon.toml", "path to pbxmon.toml")
	jsonOut := flag.Bool("json", false, "emit the report as JSON")
	attention := flag.Bool("attention", false, "print only actionable items")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbxstatus: %v\n", err)
		os.Exit(1)
	}
	store, err := cache.NewStore(cfg.Collector.CacheDir, cfg.Collector.CacheTTL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pbxstatus: %v\n", err)
		os.Exit(1)
	}

	specs := make([]status.TargetSpec, 0, len(cfg.Targets))
	for _, target := range cfg.Targets {
		specs = append(specs, status.TargetSpec{
			Name:            target.Name,
			ExpectEndpoints: target.ExpectEndpoints,
			QueueWaitWarn:   target.QueueWaitWarn,
		})
	}
	report := status.Build(specs, store)

	switch {
	case *jsonOut:
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "pbxstatus: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(data))
	case *attention:
		fmt.Print(renderAttention(report))
	default:
		fmt.Print(renderReport(report))
	}

	if report.Overall != status.SevOK {
		os.Exit(2)
	}
}
