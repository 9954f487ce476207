package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspects and edits the record of produced books",
		Long: `Books in the archive are skipped by trend discovery. Deleting an
entry makes the book eligible again.`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Lists archived books, newest first",
			Args:  cobra.NoArgs,
			RunE:  runArchiveList,
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Removes one archived book",
			Args:  cobra.ExactArgs(1),
			RunE:  runArchiveDelete,
		},
	)
	return cmd
}

func runArchiveList(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	projects, err := appInstance.GetArchive().List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list archive: %w", err)
	}
	if len(projects) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "archive is empty")
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "BOOK", "ARCHIVED")
	for _, p := range projects {
		t.Row(p.ID, p.BookName, p.CreatedAt.Local().Format(time.DateTime))
	}
	fmt.Fprintln(cmd.OutOrStdout(), t.Render())
	return nil
}

func runArchiveDelete(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if err := appInstance.GetArchive().Delete(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("delete %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}
