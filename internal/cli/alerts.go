package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var alertsCmd = &cobra.Command{
	Use:               "alerts [counter]",
	Short:             "Show alert transitions",
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeRecordedCounters,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		limit, _ := cmd.Flags().GetInt("limit")

		var name string
		if len(args) == 1 {
			name = args[0]
		}

		store, err := appInstance.Storage()
		if err != nil {
			return err
		}
		events, err := store.GetAlertHistory(ctx, name, limit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(events) == 0 {
			fmt.Fprintln(out, "No alert transitions recorded")
			return nil
		}

		fmt.Fprintln(out, "Alert Transitions")
		fmt.Fprintln(out, strings.Repeat("═", 50))
		fmt.Fprintln(out)

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tCOUNTER\tADDRESS\tSTATE\tFAILURES")
		fmt.Fprintln(w, "----\t-------\t-------\t-----\t--------")
		for _, ev := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
				ev.ChangedAt.Local().Format(timeLayout), ev.Counter, ev.Address, ev.State(), ev.Failures)
		}
		w.Flush()
		return nil
	},
}

func init() {
	alertsCmd.Flags().IntP("limit", "n", 20, "number of transitions")

	rootCmd.AddCommand(alertsCmd)
}
