package main

import (
	"time"

	"github.com/spf13/cobra"
)

// globalFlags are shared by the client commands.
type globalFlags struct {
	addr     string
	httpAddr string
	apiKey   string
	timeout  time.Duration
}

func newRootCommand() *cobra.Command {
	var g globalFlags
	var sf serveFlags

	rootCmd := &cobra.Command{
		Use:           "litemq [data-dir]",
		Short:         "LiteMQ durable message-queue broker",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, &sf, args)
		},
	}
	sf.register(rootCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.addr, "addr", "localhost:42090", "gRPC address of the broker")
	pf.StringVar(&g.httpAddr, "http-addr", "http://localhost:42080", "base URL of the broker's admin API")
	pf.StringVar(&g.apiKey, "api-key", "", "API key for the admin API (env LITEMQ_API_KEY)")
	pf.DurationVar(&g.timeout, "timeout", 10*time.Second, "per-request timeout for non-blocking commands")

	rootCmd.AddCommand(newServeCommand())
	for _, cmd := range newClientCommands(&g) {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(newQueuesCommand(&g))
	return rootCmd
}
