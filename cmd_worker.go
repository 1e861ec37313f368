package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"callpipe/config"
	"callpipe/kafka"
	"callpipe/pipeline"
)

var workerCmd = &cobra.Command{
	Use:       "worker transform|route",
	Short:     "Run a single stage consumer without the HTTP API",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{pipeline.StageTransform, pipeline.StageRoute},
	RunE:      runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Mode != config.ModeStream {
		return fmt.Errorf("worker needs stream mode, got %q", cfg.Mode)
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.shutdown(cfg.ShutdownTimeout)

	var c *kafka.Consumer
	switch args[0] {
	case pipeline.StageTransform:
		c = a.transformConsumer()
	case pipeline.StageRoute:
		c = a.routeConsumer()
	}
	return c.Run(ctx)
}
