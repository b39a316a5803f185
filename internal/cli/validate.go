package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pingcounter/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file without probing anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appInstance.Config
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("%s is invalid:\n%w", appInstance.ConfigPath, err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: %d counter(s)\n\n", appInstance.ConfigPath, len(cfg.Counters))

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tADDRESS\tINTERVAL\tTHRESHOLD\tALERT")
		fmt.Fprintln(w, "--\t-------\t--------\t---------\t-----")
		for _, cc := range cfg.Counters {
			opts := cc.Options()
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", cc.ID, opts.Address, opts.Interval, opts.Threshold, alertLabel(cc))
		}
		return w.Flush()
	},
}

func alertLabel(cc config.CounterConfig) string {
	if cc.AlertBinarySensor == nil {
		return "-"
	}
	return cc.AlertBinarySensor.Label()
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
