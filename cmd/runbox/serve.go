package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	runbox "github.com/runbox/runbox"
	"github.com/runbox/runbox/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Runbox server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		app, err := runbox.NewBuilder().WithConfig(cfg).Build()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return app.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
