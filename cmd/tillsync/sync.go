package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push pending mutations and pull remote state now",
	Long: `Sync drains the outbox to the remote service, remapping temporary
identifiers as creates are acknowledged, then replaces local collections
with the server's current state.`,
	Example: `  tillsync sync
  tillsync sync --config ./tillsync.yaml`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// The CLI is the host here: invoking sync asserts connectivity.
	app.Monitor.SetOnline(true)

	summary := app.Engine.SyncAll(ctx)

	if summary.Success {
		color.Green("Sync complete: %s", summary.Message)
	} else {
		color.Red("Sync finished with failures: %s", summary.Message)
	}

	pending, err := app.Engine.PendingCount(ctx)
	if err == nil && pending > 0 {
		color.Yellow("%d mutation(s) still pending", pending)
	}

	if !summary.Success {
		return fmt.Errorf("sync incomplete")
	}
	return nil
}
