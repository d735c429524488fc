package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Wipe all local state",
	Long: `Reset deletes every locally stored record, the outbox and all sync
bookkeeping. Mutations that were never pushed are lost.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Skip confirmation")
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	pending, err := app.Engine.PendingCount(ctx)
	if err != nil {
		return fmt.Errorf("read pending count: %w", err)
	}

	if !resetYes {
		if pending > 0 {
			color.Red("%d unsynced mutation(s) will be lost.", pending)
		}
		fmt.Print("Type 'yes' to wipe local state: ")
		var answer string
		_, _ = fmt.Scanln(&answer)
		if answer != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := app.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset local state: %w", err)
	}

	color.Green("Local state wiped.")
	return nil
}
