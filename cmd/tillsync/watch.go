package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tillsync/tillsync/internal/models"
	"github.com/tillsync/tillsync/internal/realtime"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow other devices' changes and sync periodically",
	Long: `Watch subscribes to the backend's change streams for every
collection, printing changes from other devices as they arrive, while the
periodic sync backstop keeps local state reconciled. Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app.Monitor.SetOnline(true)

	for _, entity := range models.EntityTypes {
		view := realtime.NewLiveView(entity, nil)
		merged, err := app.Realtime.Subscribe(ctx, entity, view)
		if err != nil {
			color.Yellow("Could not subscribe to %s stream: %v", entity, err)
			continue
		}

		go func(entity models.EntityType, merged <-chan models.ChangeEvent) {
			for event := range merged {
				color.Cyan("%s %s %s (from device %s)",
					event.Event, entity, event.EntityID, event.DeviceID)
			}
		}(entity, merged)
	}

	color.Green("Watching for changes. Ctrl+C to stop.")
	app.Runner.Run(ctx)
	return nil
}
