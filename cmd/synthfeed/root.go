package main

import (
	"fmt"
	"log/slog"
	"os"

	"synthfeed/config"
	"synthfeed/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "synthfeed",
	Short: "Synthetic OHLCV price feed for trading dashboards",
	Long: `synthfeed generates a rolling window of hourly candles from a seeded random
walk and appends one candle per tick while live.

Commands:
  serve     run the engine with websocket, REST and metrics endpoints
  relay     mirror an upstream synthfeed read-only
  generate  print a deterministic window and exit`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("SYNTHFEED_CONFIG"), "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
}

// loadConfig reads the config file and sets up the default logger for
// service.
func loadConfig(service string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	log := logger.Init(service, logger.ParseLevel(cfg.LogLevel))
	return cfg, log, nil
}
