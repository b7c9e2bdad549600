package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/maskview/internal/auth"
	"github.com/spf13/cobra"
)

func newLoginCommand(ctx *commandContext) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "login <token>",
		Short: "Store a bearer token for later commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := strings.TrimSpace(args[0])
			if token == "" {
				return errors.New("token must not be empty")
			}
			path, err := ctx.tokenFile()
			if err != nil {
				return err
			}
			if err := auth.NewFileTokenStore(path).Save(token, username); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "user", "u", "", "Username to record alongside the token")
	return cmd
}

func newLogoutCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ctx.tokenFile()
			if err != nil {
				return err
			}
			if err := auth.NewFileTokenStore(path).Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Token removed")
			return nil
		},
	}
}
