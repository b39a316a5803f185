package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pingcounter/internal/app"
)

var (
	appInstance *app.App
	version     = "dev"
)

// skipApp marks commands that run without a configuration file.
const skipApp = "skip-app"

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pingcounter",
	Short: "Count failed pings and raise an alert when a host stops answering",
	Long: `pingcounter - polling ICMP probe counters

  Every counter pings one IPv4/IPv6 address per poll interval, counts
  consecutive failed or timed-out probes and turns its alert output on
  when the count reaches the threshold. One successful reply resets it.

  Quick start:
    pingcounter validate
    pingcounter run --listen :9108
    pingcounter check 192.168.1.1 1.1.1.1
    pingcounter alerts

  Raw ICMP sockets need root or CAP_NET_RAW. Without them pingcounter
  falls back to unprivileged datagram sockets (see net.ipv4.ping_group_range).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, ok := cmd.Annotations[skipApp]; ok {
			return nil
		}
		return ensureApp(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if appInstance != nil {
			return appInstance.Close()
		}
		return nil
	},
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// ensureApp lazily initializes appInstance. Cobra may invoke
// ValidArgsFunction without running PersistentPreRunE.
func ensureApp(cmd *cobra.Command) error {
	if appInstance != nil {
		return nil
	}
	configPath, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")
	dbPath, _ := cmd.Flags().GetString("db")

	a, err := app.New(app.Options{
		ConfigPath: configPath,
		DBPath:     dbPath,
		LogLevel:   logLevel,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	appInstance = a
	return nil
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path (default ~/.config/pingcounter/pingcounter.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("db", "", "database path")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print version information",
	Annotations: map[string]string{skipApp: ""},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pingcounter %s\n", version)
	},
}
