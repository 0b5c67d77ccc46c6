package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage accounts in the configured store",
}

var accountAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create an account",
	Long:  "Create an account with an empty token slot. The password is read from --password or, if omitted, from the first line of stdin.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading password from stdin: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}

		_, svc, store, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		identity, err := svc.RegisterAccount(cmd.Context(), args[0], password)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", identity.Username, identity.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountAddCmd)

	accountAddCmd.Flags().String("password", "", "account password")
}
