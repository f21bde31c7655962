package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcliao/brandkeeper/internal/engine"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled consolidation and the knowledge watcher",
		Long:  "Load the configured knowledge sources, reload them on change and consolidate memory on the configured schedule until interrupted.",
		Run:   runServe,
	}

	cmd.Flags().String("metrics-addr", "", "Expose Prometheus metrics on this address, e.g. :9090")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := openEngine(cmd)
	defer e.Close()

	if err := e.Serve(ctx, engine.ServeOptions{MetricsAddr: metricsAddr}); err != nil {
		exitErr("serve", err)
	}
}
