// Package realtime merges other devices' changes into the UI's live view as
// they happen, without re-fetching and without reacting to this device's own
// writes.
package realtime

import (
	"context"

	"github.com/tillsync/tillsync/internal/events"
	"github.com/tillsync/tillsync/internal/models"
	"github.com/tillsync/tillsync/internal/transport"
)

// Channel subscribes to a collection's change notifications and keeps a
// LiveView current. The device identifier is injected so the channel can
// discard echoes of this device's own writes; without that, a mutation would
// round-trip through the backend and be applied twice.
type Channel struct {
	deviceID string
	stream   transport.NotificationStream
	logger   *events.Logger
}

// NewChannel creates a realtime channel.
func NewChannel(deviceID string, stream transport.NotificationStream, logger *events.Logger) *Channel {
	return &Channel{
		deviceID: deviceID,
		stream:   stream,
		logger:   logger.WithField("component", "realtime"),
	}
}

// Subscribe attaches a LiveView to one collection's stream. The returned
// channel carries every event that was actually merged, for the UI to repaint
// on; it closes when the stream ends or the context is cancelled.
func (c *Channel) Subscribe(ctx context.Context, collection models.EntityType, view *LiveView) (<-chan models.ChangeEvent, error) {
	src, err := c.stream.Subscribe(ctx, collection)
	if err != nil {
		return nil, err
	}

	merged := make(chan models.ChangeEvent, 32)
	logger := c.logger.WithField("collection", string(collection))

	go func() {
		defer close(merged)

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-src:
				if !ok {
					logger.Info("Change stream closed")
					return
				}

				if event.DeviceID == c.deviceID {
					logger.WithField("id", event.EntityID.String()).Debug("Discarding own-device echo")
					continue
				}

				if err := view.Apply(event); err != nil {
					logger.WithError(err).Warn("Failed to merge change event")
					continue
				}

				select {
				case merged <- event:
				default:
					// UI is behind; it will catch up from the view itself.
				}
			}
		}
	}()

	return merged, nil
}
