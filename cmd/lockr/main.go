package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hnrobert/lockr/internal/locker"
	"github.com/hnrobert/lockr/internal/logger"
	"github.com/hnrobert/lockr/internal/vault"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	file    string
	secret  string
	verbose bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "lockr",
		Short: "Encrypted credential locker",
		Long: `lockr stores account passwords sealed with AES-128-CBC in a JSON file.

The first 16 bytes of the secret (--secret or LOCKR_SECRET) form the key.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if !opts.verbose {
				logger.SetLogger(zap.NewNop())
			}
		},
	}

	root.PersistentFlags().StringVarP(&opts.file, "file", "f", envOr("LOCKR_FILE", vault.DefaultPath()), "credential file")
	root.PersistentFlags().StringVarP(&opts.secret, "secret", "s", os.Getenv("LOCKR_SECRET"), "encryption secret (at least 16 bytes)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log operations to stdout")

	root.AddCommand(
		newInitCmd(opts),
		newRegisterCmd(opts),
		newVerifyCmd(opts),
		newRevealCmd(opts),
		newPasswdCmd(opts),
		newRemoveCmd(opts),
		newListCmd(opts),
		newHashCmd(),
		newServeCmd(),
	)
	return root
}

func (o *globalOptions) open() (*locker.Locker, error) {
	return locker.Open(o.file)
}

func (o *globalOptions) requireSecret() (string, error) {
	if o.secret == "" {
		return "", errors.New("a secret is required (--secret or LOCKR_SECRET)")
	}
	return o.secret, nil
}

// passwordFrom returns flag when set, otherwise the first line of in.
func passwordFrom(flag string, in io.Reader) (string, error) {
	if flag != "" {
		return flag, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", locker.ErrEmptyCredentials
	}
	return pw, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
