package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the HTTP API and the optional cron schedule",
		Long: `Starts the HTTP API (runs, live state over WebSocket, archive,
settings and downloads). When schedule.enabled is set, runs are also
started on schedule.cron. SIGINT or SIGTERM drains the server.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.GetLogger()
	cfg := appInstance.GetConfig()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go appInstance.WatchArchive(ctx)

	if cfg.Schedule.Enabled {
		runner, err := appInstance.NewScheduler()
		if err != nil {
			return err
		}
		go func() {
			if err := runner.Run(ctx); err != nil {
				logger.Error("scheduler stopped", zap.Error(err))
			}
		}()
		logger.Info("scheduled runs enabled", zap.String("cron", cfg.Schedule.Cron))
	}

	srv := &http.Server{
		Addr:              ":" + listenPort(cfg.Server.Port),
		Handler:           appInstance.NewServer().Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// listenPort prefers the PORT variable set by hosting platforms.
func listenPort(configured int) string {
	if p := os.Getenv("PORT"); p != "" {
		return p
	}
	return strconv.Itoa(configured)
}
