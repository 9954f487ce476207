package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/realtime-booklist/internal/pipeline"
	"github.com/JakeFAU/realtime-booklist/internal/tui"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the production line once",
		Long: `Runs one production cycle in the foreground: discovery, generation,
sequential rendering and packaging. --book puts a title of your own in the
first slot; trending titles fill whatever is left. --tui follows the run on
a terminal dashboard.`,
		RunE: runOnce,
	}
	cmd.Flags().String("book", "", "book title to produce first")
	cmd.Flags().Bool("tui", false, "follow the run on a terminal dashboard")
	return cmd
}

func dashboardRequested(cmd *cobra.Command) bool {
	f := cmd.Flags().Lookup("tui")
	return f != nil && f.Value.String() == "true"
}

func runOnce(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	book, err := cmd.Flags().GetString("book")
	if err != nil {
		return err
	}
	controller := appInstance.GetController()
	sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	if dashboardRequested(cmd) {
		go appInstance.WatchArchive(ctx)
		return tui.Run(ctx, tui.Options{
			States: controller.Subscribe(ctx),
			Run: func() error {
				_, err := controller.Run(ctx, book)
				return err
			},
			Archived: appInstance.GetArchive().Count,
		})
	}

	out := cmd.OutOrStdout()
	done := make(chan struct{})
	go func() {
		defer close(done)
		printMessages(out, controller.Subscribe(ctx))
	}()

	art, runErr := controller.Run(ctx, book)
	cancel()
	<-done
	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	fmt.Fprintf(out, "archive: %s\n", art.Path)
	if art.URI != "" {
		fmt.Fprintf(out, "uri: %s\n", art.URI)
	}
	fmt.Fprintf(out, "sha256: %s\n", art.SHA256)
	return nil
}

// printMessages echoes each new status message until states closes.
func printMessages(w io.Writer, states <-chan pipeline.State) {
	last := ""
	for s := range states {
		if s.Message == "" || s.Message == last {
			continue
		}
		last = s.Message
		fmt.Fprintln(w, s.Message)
	}
}
