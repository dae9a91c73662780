package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thatsimonsguy/pump-controller/internal/config"
	"github.com/thatsimonsguy/pump-controller/internal/datadog"
	"github.com/thatsimonsguy/pump-controller/internal/env"
	"github.com/thatsimonsguy/pump-controller/internal/logging"
	"github.com/thatsimonsguy/pump-controller/internal/notifications"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "pump-controller",
	Short:         "Drive a dispenser and retractor pump pair over Modbus RTU",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd, runCmd, portsCmd, scheduleCmd, installServiceCmd)
}

// setup loads the configuration and brings up the ambient services every
// command that touches the pumps needs.
func setup() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = config.ParseLogLevel(logLevel)
	env.Cfg = cfg

	logging.Init(cfg.LogLevel, cfg.Runtime.LogFile)
	datadog.InitMetrics()
	notifications.Init()

	log.Info().
		Str("config", cfg.ConfigFile).
		Bool("simulate", cfg.Runtime.Simulate).
		Int("dispenser_unit", cfg.PumpDispenser.UnitID).
		Int("retractor_unit", cfg.PumpRetractor.UnitID).
		Msg("Starting pump controller")
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
