package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pingcounter/internal/storage/models"
)

const timeLayout = "2006-01-02 15:04:05"

var historyCmd = &cobra.Command{
	Use:   "history [counter]",
	Short: "Show recorded probe results",
	Long: `Show the most recent probe results, newest first.

Without a counter name every counter is listed. Results of "check --record"
are stored under the name "check".`,
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
		probes, err := store.GetProbeHistory(ctx, name, limit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(probes) == 0 {
			if name == "" {
				fmt.Fprintln(out, "No probe history recorded yet")
			} else {
				fmt.Fprintf(out, "No probe history for %s\n", name)
			}
			return nil
		}

		title := "Probe History"
		if name != "" {
			title += ": " + name
		}
		fmt.Fprintln(out, title)
		fmt.Fprintln(out, strings.Repeat("═", 60))
		fmt.Fprintln(out)

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tCOUNTER\tADDRESS\tRESULT\tRTT\tFAILURES")
		fmt.Fprintln(w, "----\t-------\t-------\t------\t---\t--------")
		for _, p := range probes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
				p.ProbedAt.Local().Format(timeLayout), p.Counter, p.Address,
				probeResult(p), probeRTT(p), p.Failures)
		}
		w.Flush()
		return nil
	},
}

func probeResult(p *models.ProbeRecord) string {
	if p.Reason != "" {
		return p.Kind + " (" + p.Reason + ")"
	}
	return p.Kind
}

func probeRTT(p *models.ProbeRecord) string {
	if p.RTTMicros == nil {
		return "N/A"
	}
	return formatRTT(p.RTT())
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "number of history entries")

	rootCmd.AddCommand(historyCmd)
}
