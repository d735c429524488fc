// Package client wires the sync core together for hosts: local store,
// outbox, engine, realtime channel and the repository facades the UI layer
// consumes.
package client

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/tillsync/tillsync/internal/config"
	"github.com/tillsync/tillsync/internal/connectivity"
	"github.com/tillsync/tillsync/internal/events"
	"github.com/tillsync/tillsync/internal/outbox"
	"github.com/tillsync/tillsync/internal/realtime"
	"github.com/tillsync/tillsync/internal/repo"
	"github.com/tillsync/tillsync/internal/store"
	"github.com/tillsync/tillsync/internal/syncer"
	"github.com/tillsync/tillsync/internal/transport"
)

const settingDeviceID = "deviceID"

// Client provides the assembled offline-first core.
type Client struct {
	Orders    *repo.Orders
	Products  *repo.Products
	Customers *repo.Customers

	Engine   *syncer.Engine
	Runner   *syncer.Runner
	Realtime *realtime.Channel
	Monitor  *connectivity.Monitor
	Store    store.Store

	DeviceID string

	stream *transport.WSClient
	logger *events.Logger
}

// New assembles the core from configuration. The connectivity monitor starts
// offline; the host flips it once it knows better.
func New(cfg *config.Config, logger *events.Logger) (*Client, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Storage.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	deviceID, err := resolveDeviceID(cfg, st)
	if err != nil {
		st.Close()
		return nil, err
	}

	api := transport.NewHTTPClient(&cfg.API, deviceID, logger)
	queue := outbox.New(st, logger)
	engine := syncer.NewEngine(deviceID, st, queue, api, syncer.Options{
		BackoffBase: cfg.Sync.BackoffBase,
		BackoffMax:  cfg.Sync.BackoffMax,
	}, logger)

	monitor := connectivity.NewMonitor(false, logger)
	runner := syncer.NewRunner(engine, monitor, cfg.Sync.Interval, logger)

	stream := transport.NewWSClient(&cfg.Realtime, cfg.API.Token, deviceID, logger)
	channel := realtime.NewChannel(deviceID, stream, logger)

	deps := repo.Deps{
		Store:  st,
		API:    api,
		Port:   engine,
		Online: monitor,
		Logger: logger,
	}

	return &Client{
		Orders:    repo.NewOrders(deps),
		Products:  repo.NewProducts(deps),
		Customers: repo.NewCustomers(deps),
		Engine:    engine,
		Runner:    runner,
		Realtime:  channel,
		Monitor:   monitor,
		Store:     st,
		DeviceID:  deviceID,
		stream:    stream,
		logger:    logger,
	}, nil
}

// resolveDeviceID prefers the configured id, then the persisted one, and
// otherwise mints and persists a fresh one. The id must stay stable across
// restarts or echo suppression breaks.
func resolveDeviceID(cfg *config.Config, st store.Store) (string, error) {
	ctx := context.Background()

	if cfg.Device.ID != "" {
		if err := st.PutSetting(ctx, settingDeviceID, cfg.Device.ID); err != nil {
			return "", fmt.Errorf("persist device id: %w", err)
		}
		return cfg.Device.ID, nil
	}

	id, err := st.GetSetting(ctx, settingDeviceID)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("read device id: %w", err)
	}

	id = uuid.NewString()
	if err := st.PutSetting(ctx, settingDeviceID, id); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	if err := st.PutSetting(ctx, store.SettingInitialized, "true"); err != nil {
		return "", fmt.Errorf("mark initialized: %w", err)
	}
	return id, nil
}

// Close releases the store and any open subscriptions.
func (c *Client) Close() error {
	var errs []error
	if err := c.stream.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
