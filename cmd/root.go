// Package cmd defines and implements the CLI commands for the booklist executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-booklist/internal/api"
	"github.com/JakeFAU/realtime-booklist/internal/app"
	"github.com/JakeFAU/realtime-booklist/internal/archive"
	"github.com/JakeFAU/realtime-booklist/internal/config"
	"github.com/JakeFAU/realtime-booklist/internal/keystore"
	"github.com/JakeFAU/realtime-booklist/internal/logging"
	"github.com/JakeFAU/realtime-booklist/internal/pipeline"
	"github.com/JakeFAU/realtime-booklist/internal/schedule"
)

const defaultDashboardLog = "booklist.log"

var (
	cfgFile string
	logFile string
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows a test double to be injected.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetConfig() config.Config
	GetController() *pipeline.Controller
	GetArchive() *archive.Live
	GetKeys() *keystore.File
	NewServer() *api.Server
	NewScheduler() (*schedule.Runner, error)
	WatchArchive(ctx context.Context)
}

// newApp is the application factory. It's a variable so tests can swap in
// stub collaborators.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.NewApp(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "booklist",
		Short: "A production line for book-review social posts.",
		Long: `booklist picks up to two books (yours plus trending titles), has a
generative model write a post for each, renders every post into card images
one at a time and packages the day's output into a single zip archive.`,
		SilenceUsage: true,

		// Builds the application before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err := buildLogger(cmd, cfg)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (TOML, YAML or JSON)")
	cmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file instead of stderr")

	cmd.AddCommand(newServeCmd(), newRunCmd(), newKeyCmd(), newArchiveCmd())
	return cmd
}

// buildLogger keeps the terminal clear while the dashboard owns it.
func buildLogger(cmd *cobra.Command, cfg config.Config) (*zap.Logger, error) {
	path := logFile
	if path == "" && dashboardRequested(cmd) {
		path = defaultDashboardLog
	}
	if path != "" {
		return logging.ToFile(path)
	}
	return logging.New(cfg.Logging.Development)
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
