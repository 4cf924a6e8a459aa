package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/foodbridge/relay/app"
	"github.com/foodbridge/relay/config"
	"github.com/foodbridge/relay/infra/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Food donation matching and dispatch engine",
	Long: `relay matches perishable food postings with nearby receivers,
dispatches volunteer couriers and tracks each delivery to completion.

It loads the city roster and tuning from the configuration file, then
runs the dispatch and escalation loops until interrupted. Notifications
go out over MQTT and metrics are exposed for Prometheus when enabled.`,
	RunE: run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}
