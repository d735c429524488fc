package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tillsync/tillsync/internal/client"
	"github.com/tillsync/tillsync/internal/config"
	"github.com/tillsync/tillsync/internal/events"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *events.Logger
	app     *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "tillsync",
	Short: "Offline-first sync core for the till",
	Long: `tillsync keeps a point-of-sale device's local state reconciled with
the remote backend: it drains the outbox of offline mutations, pulls
authoritative state, and follows other devices' changes in realtime.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		logger, err = events.NewLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.File, cfg.Device.ID)
		if err != nil {
			return err
		}

		app, err = client.New(cfg, logger)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if app != nil {
			return app.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Config file path (default: tillsync.yaml, ~/.config/tillsync)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
