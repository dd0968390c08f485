package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "tradeengine",
		Short:   "Intraday equities gap-continuation trading engine",
		Version: version,
		Long: `tradeengine runs the gap-continuation scanner/monitor/cutoff loop
described in the engine's specification: a scanner tick admits new setups
through the risk gate, a monitor tick steps every managed position's
trailing-stop state machine, and a cutoff sweep force-closes everything
still open at the configured position-close time.

'start' runs the engine in the foreground and opens a local control
socket. The other subcommands are thin clients against that socket —
there is no HTTP surface (spec.md §1 scopes that out).`,
	}

	rootCmd.PersistentFlags().String("socket", defaultSocketPath, "control socket path")

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Run the engine in the foreground",
		RunE:  runStart,
	}
	startCmd.Flags().String("config", "config.yaml", "engine config YAML path")
	startCmd.Flags().String("watchlist", "watchlist.yaml", "watchlist YAML path")
	startCmd.Flags().String("profiles", "", "risk profiles YAML path (empty uses the built-in conservative/aggressive pair)")
	startCmd.Flags().String("profile", "", "risk profile name to apply over config (overrides the profiles doc's active_profile)")
	startCmd.Flags().String("store-dsn", "", "Postgres DSN for the event store (empty uses an in-memory store)")
	startCmd.Flags().Int("workers", 8, "bounded worker pool size")
	startCmd.Flags().Bool("json-logs", false, "force structured JSON logs even on a TTY")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Gracefully stop a running engine process",
		RunE:  runStop,
	}

	pauseCmd := &cobra.Command{
		Use:   "pause",
		Short: "Suspend new setup admissions; keep monitoring open positions",
		RunE:  runPause,
	}

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Lift a prior pause",
		RunE:  runResume,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the running engine's status",
		RunE:  runStatus,
	}

	closePositionCmd := &cobra.Command{
		Use:   "close-position <symbol>",
		Short: "Force-close one managed position",
		Args:  cobra.ExactArgs(1),
		RunE:  runClosePosition,
	}

	closeAllCmd := &cobra.Command{
		Use:   "close-all",
		Short: "Force-close every managed position",
		RunE:  runCloseAll,
	}

	rootCmd.AddCommand(startCmd, stopCmd, pauseCmd, resumeCmd, statusCmd, closePositionCmd, closeAllCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
