package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tillsync/tillsync/internal/config"
	"github.com/tillsync/tillsync/internal/events"
	"github.com/tillsync/tillsync/internal/models"
)

// WSClient implements NotificationStream over WebSocket. Each subscription
// holds its own connection; the backend pushes one ChangeEvent frame per
// change on that collection.
type WSClient struct {
	url          string
	token        string
	deviceID     string
	buffer       int
	pingInterval time.Duration
	pongTimeout  time.Duration
	logger       *events.Logger

	mu     sync.Mutex
	conns  []*wsConn
	closed bool
}

type wsConn struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

func (w *wsConn) close() {
	w.once.Do(func() {
		close(w.done)
		_ = w.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = w.conn.Close()
	})
}

// subscribeFrame is the first frame sent on a new subscription connection.
type subscribeFrame struct {
	Op         string `json:"op"`
	Collection string `json:"collection"`
	DeviceID   string `json:"device_id"`
}

// NewWSClient creates a notification stream client.
func NewWSClient(cfg *config.RealtimeConfig, token, deviceID string, logger *events.Logger) *WSClient {
	url := cfg.URL
	if len(url) > 4 && url[:4] == "http" {
		url = "ws" + url[4:]
	}

	return &WSClient{
		url:          url,
		token:        token,
		deviceID:     deviceID,
		buffer:       cfg.Buffer,
		pingInterval: cfg.PingInterval,
		pongTimeout:  cfg.PongTimeout,
		logger:       logger.WithField("component", "ws_client"),
	}
}

// Subscribe opens a change-notification stream for one collection. The
// returned channel closes when the connection drops, the context is
// cancelled, or the client is closed.
func (c *WSClient) Subscribe(ctx context.Context, collection models.EntityType) (<-chan models.ChangeEvent, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("notification stream is closed")
	}
	c.mu.Unlock()

	headers := http.Header{}
	headers.Set("X-Device-ID", c.deviceID)
	if c.token != "" {
		headers.Set("Authorization", "Bearer "+c.token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	url := fmt.Sprintf("%s?collection=%s", c.url, collection)

	conn, resp, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket connect failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect failed: %w", err)
	}

	frame := subscribeFrame{Op: "subscribe", Collection: string(collection), DeviceID: c.deviceID}
	if err := conn.WriteJSON(frame); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send subscribe: %w", err)
	}

	w := &wsConn{conn: conn, done: make(chan struct{})}
	c.mu.Lock()
	c.conns = append(c.conns, w)
	c.mu.Unlock()

	ch := make(chan models.ChangeEvent, c.buffer)
	go c.readLoop(ctx, w, collection, ch)
	go c.pingLoop(w)

	c.logger.WithField("collection", string(collection)).Info("Subscribed to change stream")
	return ch, nil
}

// Close tears down every subscription.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	for _, w := range c.conns {
		w.close()
	}
	c.conns = nil
	return nil
}

func (c *WSClient) readLoop(ctx context.Context, w *wsConn, collection models.EntityType, ch chan<- models.ChangeEvent) {
	defer func() {
		w.close()
		close(ch)
	}()

	logger := c.logger.WithField("collection", string(collection))

	for {
		_ = w.conn.SetReadDeadline(time.Now().Add(c.pongTimeout + c.pingInterval))
		w.conn.SetPongHandler(func(string) error {
			_ = w.conn.SetReadDeadline(time.Now().Add(c.pongTimeout + c.pingInterval))
			return nil
		})

		var event models.ChangeEvent
		if err := w.conn.ReadJSON(&event); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				logger.WithError(err).Error("WebSocket read error")
			}
			return
		}

		logger.WithFields(map[string]interface{}{
			"event":  string(event.Event),
			"id":     event.EntityID.String(),
			"device": event.DeviceID,
		}).Debug("Received change notification")

		select {
		case ch <- event:
		case <-w.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *WSClient) pingLoop(w *wsConn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.WithError(err).Debug("Ping failed")
				return
			}
		case <-w.done:
			return
		}
	}
}
