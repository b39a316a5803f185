package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pingcounter/internal/server"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every configured ping counter until interrupted",
	Long: `Start all ping counters of the configuration file.

Probe results and alert transitions are written to the history database.
With --listen (or http_listen in the configuration) a JSON API, a
websocket event feed and Prometheus metrics are served as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		unprivileged, _ := cmd.Flags().GetBool("unprivileged")
		if !cmd.Flags().Changed("listen") {
			listen = appInstance.Config.HTTPListen
		}

		m, err := newMonitor(appInstance, monitorOptions{
			unprivileged: unprivileged,
			withHub:      listen != "",
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := m.start(ctx, appInstance); err != nil {
			return err
		}
		level.Info(appInstance.Logger).Log("msg", "ping counters running", "counters", len(m.engine.Names()))

		g, gctx := errgroup.WithContext(ctx)
		if listen != "" {
			srv := server.New(listen, server.Options{
				Counters: m.engine,
				Storage:  m.storage,
				Hub:      m.hub,
				Gatherer: m.registry,
				Logger:   appInstance.Logger,
			})
			g.Go(srv.Run)
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		}
		g.Go(func() error {
			<-gctx.Done()
			level.Info(appInstance.Logger).Log("msg", "shutting down")
			return m.stop(appInstance)
		})
		return g.Wait()
	},
}

func init() {
	runCmd.Flags().StringP("listen", "l", "", "serve the HTTP API on this address (overrides http_listen)")
	runCmd.Flags().Bool("unprivileged", false, "use datagram ICMP sockets even when running as root")

	rootCmd.AddCommand(runCmd)
}
