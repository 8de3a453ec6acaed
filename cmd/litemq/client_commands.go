package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sneh-joshi/litemq/pkg/client"
)

func newClientCommands(g *globalFlags) []*cobra.Command {
	return []*cobra.Command{
		newEnqueueCommand(g),
		newDequeueCommand(g),
		newLengthCommand(g),
		newPurgeCommand(g),
		newFlushCommand(g),
		newHealthCommand(g),
	}
}

// withClient dials the broker, bounds the call by --timeout unless blocking
// is set, and runs fn.
func withClient(cmd *cobra.Command, g *globalFlags, blocking bool, fn func(context.Context, *client.Client) error) error {
	c, err := client.New(g.addr)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := cmd.Context()
	if !blocking && g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	return fn(ctx, c)
}

func newEnqueueCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <queue> [data]",
		Short: "Append a message; reads stdin when data is omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			if len(args) == 2 {
				data = []byte(args[1])
			} else {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				data = b
			}
			return withClient(cmd, g, false, func(ctx context.Context, c *client.Client) error {
				n, err := c.Enqueue(ctx, args[0], data)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}
}

func newDequeueCommand(g *globalFlags) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "dequeue <queue>",
		Short: "Remove and print the oldest message, waiting for one if the queue is empty",
		Long: `Remove and print the oldest message. The raw payload is written to stdout.

By default dequeue waits as long as it takes. With --wait=false it gives up
after --timeout and exits non-zero, leaving the queue untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, g, wait, func(ctx context.Context, c *client.Client) error {
				data, err := c.Dequeue(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", true, "wait without a deadline")
	return cmd
}

func newLengthCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "length <queue>",
		Short: "Print the number of messages in a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, g, false, func(ctx context.Context, c *client.Client) error {
				n, err := c.Length(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}
}

func newPurgeCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <queue>",
		Short: "Remove every message from a queue and print how many there were",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, g, false, func(ctx context.Context, c *client.Client) error {
				n, err := c.Purge(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}
}

func newFlushCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Remove every message from every queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, g, false, func(ctx context.Context, c *client.Client) error {
				return c.Flush(ctx)
			})
		},
	}
}

func newHealthCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Exit zero if the broker is accepting requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, g, false, func(ctx context.Context, c *client.Client) error {
				if err := c.Health(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}
}

// apiKeyOrEnv returns --api-key, falling back to LITEMQ_API_KEY.
func (g *globalFlags) apiKeyOrEnv() string {
	if g.apiKey != "" {
		return g.apiKey
	}
	return os.Getenv("LITEMQ_API_KEY")
}
