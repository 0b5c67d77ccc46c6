package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Inspect and issue tokens directly against the store",
}

var tokenStatusCmd = &cobra.Command{
	Use:   "status <username>",
	Short: "Show whether a user currently holds a valid token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, svc, store, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		identity, err := svc.LookupAccount(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		status, err := svc.CheckStatus(cmd.Context(), identity.ID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if status.ExpiresAt.IsZero() {
			fmt.Fprintf(out, "%s: %s\n", identity.Username, status.State)
			return nil
		}
		fmt.Fprintf(out, "%s: %s (expires %s)\n",
			identity.Username, status.State, status.ExpiresAt.UTC().Format(time.RFC3339))
		return nil
	},
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue <username>",
	Short: "Issue a token for a user unless the current one is still valid",
	Long:  "Issue a token and print it once. The token cannot be recovered later; only its hash is stored.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, svc, store, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		identity, err := svc.LookupAccount(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		issued, err := svc.IssueToken(cmd.Context(), identity.ID, identity.Username)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), issued.Token)
		fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", issued.ExpiresAt.UTC().Format(time.RFC3339))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenStatusCmd)
	tokenCmd.AddCommand(tokenIssueCmd)
}
