package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending changes and last sync times",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	pending, err := app.Engine.PendingCount(ctx)
	if err != nil {
		return fmt.Errorf("read pending count: %w", err)
	}

	from, to := app.Engine.LastSyncTimes(ctx)

	fmt.Printf("Device:        %s\n", app.DeviceID)

	if pending == 0 {
		color.Green("Pending:       0")
	} else {
		color.Yellow("Pending:       %d mutation(s) awaiting sync", pending)
	}

	fmt.Printf("Last push:     %s\n", formatSyncTime(to))
	fmt.Printf("Last pull:     %s\n", formatSyncTime(from))

	return nil
}

func formatSyncTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s (%s ago)", t.Local().Format(time.RFC3339), time.Since(t).Round(time.Second))
}
