package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"pingcounter/internal/check"
	"pingcounter/internal/echo"
	"pingcounter/internal/loop"
	"pingcounter/internal/storage"
)

var checkCmd = &cobra.Command{
	Use:   "check [address...]",
	Short: "Probe addresses once and print the result",
	Long: `Probe one or more addresses once, outside of any counter.

Addresses may be IP literals or host names. --counter adds the target of
a configured counter and --all adds every one of them. The default
strategy is icmp; use --strategy tcp where ICMP is filtered or no ICMP
socket can be opened.`,
	ValidArgsFunction: cobra.NoFileCompletions,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		strategyName, _ := cmd.Flags().GetString("strategy")
		workers, _ := cmd.Flags().GetInt64("workers")
		timeoutMS, _ := cmd.Flags().GetInt64("timeout")
		port, _ := cmd.Flags().GetInt("port")
		all, _ := cmd.Flags().GetBool("all")
		record, _ := cmd.Flags().GetBool("record")

		var store storage.Storage
		if record || !cmd.Flags().Changed("workers") || !cmd.Flags().Changed("timeout") {
			s, err := appInstance.Storage()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("workers") {
				workers = settingInt(ctx, s, "check_workers", workers)
			}
			if !cmd.Flags().Changed("timeout") {
				timeoutMS = settingInt(ctx, s, "check_timeout", timeoutMS)
			}
			if record {
				store = s
			}
		}

		counters, _ := cmd.Flags().GetStringSlice("counter")

		addresses := args
		for _, name := range counters {
			cc, ok := appInstance.Config.Find(name)
			if !ok {
				return fmt.Errorf("no counter named %q in %s", name, appInstance.ConfigPath)
			}
			addresses = append(addresses, cc.IPAddress)
		}
		if all {
			for _, c := range appInstance.Config.Counters {
				addresses = append(addresses, c.IPAddress)
			}
		}
		if len(addresses) == 0 {
			return fmt.Errorf("please specify at least one address, or use --counter / --all")
		}

		var (
			lp     *loop.Loop
			client *echo.Client
		)
		if strategyName == "icmp" || strategyName == "" {
			lp = loop.New(clockwork.NewRealClock(), appInstance.Logger)
			lp.Start()
			client = echo.New(lp, echo.WithLogger(appInstance.Logger))
			defer func() {
				lp.Stop()
				client.Close()
			}()
		}

		strategy, err := check.NewStrategy(strategyName, lp, client, port)
		if err != nil {
			return err
		}

		tester := check.NewTester(store, check.TesterConfig{
			Workers:  workers,
			Timeout:  time.Duration(timeoutMS) * time.Millisecond,
			Strategy: strategy,
		})

		out := cmd.OutOrStdout()
		if len(addresses) == 1 {
			fmt.Fprintf(out, "Probing %s (%s)... ", addresses[0], strategy.Name())
			result := tester.TestSingle(ctx, addresses[0])
			fmt.Fprintln(out, describeOutcome(result.Outcome))
			return nil
		}
		return runBatchCheck(ctx, out, tester, addresses)
	},
}

func runBatchCheck(ctx context.Context, out io.Writer, tester *check.Tester, addresses []string) error {
	fmt.Fprintf(out, "Probing %d addresses...\n\n", len(addresses))

	progress := func(result *check.Result, current, total int) {
		fmt.Fprintf(out, "  [%d/%d] %-40s %s\n", current, total,
			truncateName(result.Address, 40), describeOutcome(result.Outcome))
	}

	batch := tester.TestBatch(ctx, addresses, progress)

	fmt.Fprintf(out, "\n\nResults (sorted by round trip):\n")
	fmt.Fprintln(out, strings.Repeat("─", 60))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tADDRESS\tRTT\tSTATUS")
	fmt.Fprintln(w, "-\t-------\t---\t------")
	for i, result := range batch.Results {
		rtt := "N/A"
		status := strings.ToUpper(result.Outcome.Kind.String())
		if result.Outcome.OK() {
			rtt = formatRTT(result.Outcome.RTT)
			status = "OK"
		} else if result.Outcome.Reason != "" {
			status += " (" + result.Outcome.Reason + ")"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, truncateName(result.Address, 35), rtt, status)
	}
	w.Flush()

	fmt.Fprintf(out, "\nSummary: %d probed, %d answered, %d failed (%.1fs)\n",
		batch.Tested, batch.Succeeded, batch.Failed, batch.Duration.Seconds())
	return nil
}

func describeOutcome(o echo.Outcome) string {
	switch {
	case o.OK():
		return formatRTT(o.RTT)
	case o.Reason != "":
		return fmt.Sprintf("%s (%s)", strings.ToUpper(o.Kind.String()), o.Reason)
	default:
		return strings.ToUpper(o.Kind.String())
	}
}

func formatRTT(d time.Duration) string {
	return fmt.Sprintf("%.2f ms", float64(d.Microseconds())/1000)
}

func settingInt(ctx context.Context, store storage.Storage, key string, fallback int64) int64 {
	val, err := store.GetSetting(ctx, key)
	if err != nil {
		return fallback
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func truncateName(name string, maxLen int) string {
	if len(name) <= maxLen {
		return name
	}
	return name[:maxLen-3] + "..."
}

func init() {
	checkCmd.Flags().StringP("strategy", "s", "icmp", "probe strategy (icmp, tcp)")
	checkCmd.Flags().Int64P("workers", "w", 10, "number of concurrent probes")
	checkCmd.Flags().Int64P("timeout", "t", 2000, "per-probe timeout in milliseconds")
	checkCmd.Flags().IntP("port", "p", 443, "port for the tcp strategy")
	checkCmd.Flags().StringSlice("counter", nil, "probe the target of a configured counter (repeatable)")
	checkCmd.Flags().Bool("all", false, "probe every configured counter target")
	checkCmd.Flags().Bool("record", false, "store the results in the history database")

	checkCmd.RegisterFlagCompletionFunc("strategy", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"icmp", "tcp"}, cobra.ShellCompDirectiveNoFileComp
	})

	checkCmd.RegisterFlagCompletionFunc("counter", completeCounterNames)

	rootCmd.AddCommand(checkCmd)
}
