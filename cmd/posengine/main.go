// Package main is the entry point for the position engine.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tathienbao/position-engine/internal/config"
)

// Version information (set by build flags).
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Parse command
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "replay":
		cmdReplay(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Position Engine - single-position lifecycle manager

Usage:
  posengine <command> [options]

Commands:
  replay      Replay a CSV bar file through the position manager
  validate    Validate configuration file
  version     Show version information
  help        Show this help message

Examples:
  posengine replay --config config.yaml --data data/mes_5m.csv
  posengine replay --config config.yaml --data data/mes_5m.csv --equity 25000 --verbose
  posengine validate --config config.yaml`)
}

func cmdVersion() {
	fmt.Printf("posengine %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		os.Exit(1)
	}

	spec := cfg.Instrument()
	fmt.Println("Configuration valid!")
	fmt.Printf("  Instrument:  %s (tick %s = $%s)\n", spec.Symbol, spec.TickSize, spec.TickValue)
	fmt.Printf("  Session:     %s %s (cutoff %dm)\n", cfg.Market.SessionClose, cfg.Market.Timezone, cfg.Market.SessionCloseCutoffMin)
	fmt.Printf("  Session end: %s\n", cfg.Position.SessionEndPolicy)
	fmt.Printf("  Plan:        %s\n", cfg.ToPlan())
	fmt.Printf("  Commission:  $%.2f per contract per side\n", cfg.Venue.CommissionPerContract)
	if cfg.Persistence.Enabled {
		fmt.Printf("  Persistence: %s\n", cfg.Persistence.Type)
	}
	if cfg.Alerting.Enabled {
		fmt.Printf("  Alerting:    %d channel(s), min severity %s\n", len(cfg.Alerting.Channels), cfg.MinAlertSeverity())
	}
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics:     :%d%s\n", cfg.Metrics.Port, cfg.Metrics.Path)
	}
}
