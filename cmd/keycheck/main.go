// Command keycheck redeems an executor key against the key server and exits 0 only if it was accepted.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Renetatomm/renetato-s-executor/internal/client"

	"github.com/spf13/cobra"
)

var errRejected = errors.New("key rejected")

func newRootCmd(out io.Writer) *cobra.Command {
	var (
		server  string
		key     string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:           "keycheck",
		Short:         "Validate a one-time executor key",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				return errors.New("please enter a key")
			}
			c, err := client.New(server, timeout)
			if err != nil {
				return err
			}

			ok, err := c.ValidateKey(cmd.Context(), key)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(out, "Invalid or expired key.")
				return errRejected
			}
			fmt.Fprintln(out, "Key validated. Executor unlocked.")
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", client.DefaultServer, "key server base URL")
	cmd.Flags().StringVar(&key, "key", "", "key to redeem")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	cmd.SetOut(out)
	return cmd
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	cmd := newRootCmd(out)
	cmd.SetArgs(args)
	cmd.SetErr(errOut)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errRejected) {
			fmt.Fprintf(errOut, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
