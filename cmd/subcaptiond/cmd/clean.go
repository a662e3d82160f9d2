package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"frameworks/pkg/logging"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Run one sweep of the blob-store TTL cleaner and exit",
	RunE: func(c *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		d, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		deleted, err := d.cleaner.Run(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("clean: %w", err)
		}
		d.logger.WithFields(logging.Fields{"deleted": deleted}).Info("subcaptiond clean complete")
		return nil
	},
}
