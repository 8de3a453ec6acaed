package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sneh-joshi/litemq/pkg/client"
)

func newQueuesCommand(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "queues",
		Short: "List queues with their length and blocked consumers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if g.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, g.timeout)
				defer cancel()
			}
			admin := client.NewAdmin(g.httpAddr, client.WithAPIKey(g.apiKeyOrEnv()))
			qs, err := admin.Queues(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(qs)
			}
			if len(qs) == 0 {
				fmt.Fprintln(out, "No queues")
				return nil
			}
			rows := make([][]string, 0, len(qs))
			for _, q := range qs {
				rows = append(rows, []string{q.Name, strconv.FormatInt(q.Length, 10), strconv.Itoa(q.Waiters)})
			}
			fmt.Fprintln(out, renderTable(out, []string{"Queue", "Length", "Waiters"}, rows,
				[]columnAlignment{alignLeft, alignRight, alignRight}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
