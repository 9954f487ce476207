package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manages the stored generative API key",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <api-key|->",
			Short: "Stores the API key; '-' reads it from stdin",
			Args:  cobra.ExactArgs(1),
			RunE:  runKeySet,
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Removes the stored API key",
			Args:  cobra.NoArgs,
			RunE:  runKeyClear,
		},
		&cobra.Command{
			Use:   "status",
			Short: "Reports whether an API key is stored",
			Args:  cobra.NoArgs,
			RunE:  runKeyStatus,
		},
	)
	return cmd
}

func runKeySet(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	key := args[0]
	if key == "-" {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read api key: %w", err)
		}
		key = line
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("api key must not be empty")
	}
	if err := appInstance.GetKeys().SetAPIKey(key); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "api key stored in %s\n", appInstance.GetKeys().Path())
	return nil
}

func runKeyClear(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if err := appInstance.GetKeys().ClearAPIKey(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "api key cleared")
	return nil
}

func runKeyStatus(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if appInstance.GetKeys().HasAPIKey() {
		fmt.Fprintln(cmd.OutOrStdout(), "configured")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "not configured")
	}
	return nil
}
