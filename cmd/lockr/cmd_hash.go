package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hnrobert/lockr/internal/auth"
)

func newHashCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print a sha512-crypt hash for the admin_hash setting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := passwordFrom(password, cmd.InOrStdin())
			if err != nil {
				return err
			}
			h, err := auth.HashPassword(pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "password to hash")
	return cmd
}
