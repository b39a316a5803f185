package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-kit/log"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"pingcounter/internal/check"
	"pingcounter/internal/echo"
	"pingcounter/internal/loop"
	"pingcounter/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Run the counters with an interactive terminal dashboard",
	Long: `Start every configured counter in the foreground and show their
state, alert transitions and manual check results in a full-screen
terminal UI. Log output is discarded while the dashboard is open.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		unprivileged, _ := cmd.Flags().GetBool("unprivileged")

		// The dashboard owns the terminal.
		appInstance.Logger = log.NewNopLogger()

		m, err := newMonitor(appInstance, monitorOptions{unprivileged: unprivileged})
		if err != nil {
			return err
		}
		if err := m.start(context.Background(), appInstance); err != nil {
			return err
		}

		// Manual checks get their own echo client so they never collide
		// with the probes of a running counter.
		lp := loop.New(clockwork.NewRealClock(), appInstance.Logger)
		lp.Start()
		var echoOpts []echo.Option
		if unprivileged {
			echoOpts = append(echoOpts, echo.WithPrivileged(false))
		}
		client := echo.New(lp, echoOpts...)

		p := tui.NewProgram(tui.Deps{
			Counters: m.engine,
			Storage:  m.storage,
			NewStrategy: func(name string, port int) (check.Strategy, error) {
				return check.NewStrategy(name, lp, client, port)
			},
		})
		_, runErr := p.Run()

		lp.Stop()
		closeErr := client.Close()
		stopErr := m.stop(appInstance)

		if runErr != nil {
			return fmt.Errorf("TUI error: %w", runErr)
		}
		return errors.Join(stopErr, closeErr)
	},
}

func init() {
	tuiCmd.Flags().Bool("unprivileged", false, "use datagram ICMP sockets even when running as root")

	rootCmd.AddCommand(tuiCmd)
}
