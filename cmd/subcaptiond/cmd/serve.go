package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"frameworks/pkg/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingress API and the scheduler worker pool in one process",
	RunE: func(c *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		d, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		cleanSched, err := d.cleaner.Schedule(d.cfg.CleanCron)
		if err != nil {
			return fmt.Errorf("schedule cleaner: %w", err)
		}
		defer cleanSched.Stop()

		router := d.ingress.Router(d.health.Handler(), d.metrics.Handler(), d.metrics.MetricsMiddleware())
		httpSrv := &http.Server{Addr: ":" + d.cfg.Port, Handler: router}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return runHTTPServer(gctx, httpSrv, d.logger) })
		g.Go(func() error {
			d.scheduler.Run(gctx)
			return nil
		})

		d.logger.WithFields(logging.Fields{"port": d.cfg.Port, "workers": d.cfg.Workers}).Info("subcaptiond serve starting")
		return g.Wait()
	},
}

// runHTTPServer runs srv until ctx is cancelled, then shuts it down
// gracefully with a bounded drain window.
func runHTTPServer(ctx context.Context, srv *http.Server, logger logging.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info("http server shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	}
}
