package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"callpipe/config"
	"callpipe/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "callpipe",
	Short: "Ingest, transform and route unified-communications call records",
	Long: "callpipe accepts call records from Teams, Avaya, Zoom and Ringcentral over HTTP,\n" +
		"normalizes them and stores each one in the sink configured for its source.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.GetEnv("CALLPIPE_CONFIG", ""), "path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(durationCmd)
	rootCmd.Version = version
}

// loadConfig reads the configuration and applies its log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.LogLevel != "" {
		logger.SetLevel(cfg.LogLevel)
	}
	return cfg, nil
}

func main() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
