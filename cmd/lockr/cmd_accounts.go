package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hnrobert/lockr/internal/auth"
	"github.com/hnrobert/lockr/internal/locker"
)

func newInitCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the credential file if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := opts.open()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "credential file ready at %s\n", l.Path())
			return nil
		},
	}
}

func newRegisterCmd(opts *globalOptions) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "register <username>",
		Short: "Register a new account",
		Long: `Register a new account. The password is read from --password, or from the
first line of stdin when the flag is absent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := opts.requireSecret()
			if err != nil {
				return err
			}
			pw, err := passwordFrom(password, cmd.InOrStdin())
			if err != nil {
				return err
			}
			l, err := opts.open()
			if err != nil {
				return err
			}
			if err := l.RegisterAccount(args[0], pw, secret); err != nil {
				return humanize(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	return cmd
}

func newVerifyCmd(opts *globalOptions) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "verify <username>",
		Short: "Check a password against the stored account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := opts.requireSecret()
			if err != nil {
				return err
			}
			pw, err := passwordFrom(password, cmd.InOrStdin())
			if err != nil {
				return err
			}
			l, err := opts.open()
			if err != nil {
				return err
			}
			if err := l.Authenticate(args[0], pw, secret); err != nil {
				return humanize(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "password to check")
	return cmd
}

func newRevealCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reveal <username>",
		Short: "Print the stored password of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := opts.requireSecret()
			if err != nil {
				return err
			}
			l, err := opts.open()
			if err != nil {
				return err
			}
			pw, err := l.Reveal(args[0], secret)
			if err != nil {
				return humanize(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), pw)
			return nil
		},
	}
}

func newPasswdCmd(opts *globalOptions) *cobra.Command {
	var oldPassword, newPassword string
	cmd := &cobra.Command{
		Use:   "passwd <username>",
		Short: "Change the password of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := opts.requireSecret()
			if err != nil {
				return err
			}
			l, err := opts.open()
			if err != nil {
				return err
			}
			if err := l.ChangePassword(args[0], oldPassword, newPassword, secret); err != nil {
				return humanize(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password changed for %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&oldPassword, "old", "", "current password")
	cmd.Flags().StringVar(&newPassword, "new", "", "new password")
	_ = cmd.MarkFlagRequired("old")
	_ = cmd.MarkFlagRequired("new")
	return cmd
}

func newRemoveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <username>",
		Short: "Delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := opts.open()
			if err != nil {
				return err
			}
			if err := l.Remove(args[0]); err != nil {
				return humanize(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered usernames",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := opts.open()
			if err != nil {
				return err
			}
			names, err := l.Accounts()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

// humanize keeps the sentinel in the chain while giving it a readable message.
func humanize(err error) error {
	if errors.Is(err, locker.ErrShortSecret) {
		return err
	}
	return fmt.Errorf("%s: %w", auth.HumanAuthError(err), err)
}
