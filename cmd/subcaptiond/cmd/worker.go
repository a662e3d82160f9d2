package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"frameworks/pkg/logging"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the scheduler worker pool without the ingress API",
	RunE: func(c *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		d, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		d.logger.WithFields(logging.Fields{"workers": d.cfg.Workers}).Info("subcaptiond worker starting")
		d.scheduler.Run(ctx)
		return nil
	},
}
