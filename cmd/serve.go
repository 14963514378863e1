package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, if enabled, the periodic pipeline scheduler.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFromContext(cmd.Context())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
				Handler:           a.Server.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.Logger.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			if a.Config.Scheduler.Enabled {
				go func() {
					if err := a.Scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						a.Logger.Error("scheduler exited", zap.Error(err))
					}
				}()
			}

			select {
			case <-ctx.Done():
				a.Logger.Info("shutdown signal received")
			case err := <-errCh:
				return fmt.Errorf("http server: %w", err)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown http server: %w", err)
			}
			a.Logger.Info("server stopped")
			return nil
		},
	}
}
