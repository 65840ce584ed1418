// Package cmd holds the todoless command line.
package cmd

import (
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"todoless/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "todoless",
	Short:         "Household todo and notes server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file (defaults to $"+config.EnvConfigFile+")")
	rootCmd.AddCommand(newServeCmd(), newInitStorageCmd(), newTokenCmd())
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func newLogger(cfg *config.Config) *log.Logger {
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if strings.EqualFold(cfg.LogFormat, "json") {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	return logger
}
