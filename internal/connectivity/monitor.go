// Package connectivity exposes the host environment's online/offline signal
// to the rest of the core. The core never probes the network itself; the
// host drives SetOnline.
package connectivity

import (
	"sync"
	"time"

	"github.com/tillsync/tillsync/internal/events"
)

// Transition is one online/offline edge.
type Transition struct {
	Online bool
	At     time.Time
}

// Monitor holds the current connectivity state and fans transitions out to
// subscribers.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   []chan Transition
	logger *events.Logger
}

// NewMonitor creates a monitor with the given initial state.
func NewMonitor(online bool, logger *events.Logger) *Monitor {
	return &Monitor{
		online: online,
		logger: logger.WithField("component", "connectivity"),
	}
}

// IsOnline reports the current state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records a state change reported by the host. Subscribers are
// notified only on actual edges.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]chan Transition, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	if online {
		m.logger.Info("Connectivity restored")
	} else {
		m.logger.Info("Connectivity lost")
	}

	t := Transition{Online: online, At: time.Now()}
	for _, ch := range subs {
		select {
		case ch <- t:
		default:
			// Subscriber is behind; edges are level-triggered via IsOnline
			// so a dropped transition is recoverable.
		}
	}
}

// Transitions returns a channel receiving future online/offline edges.
func (m *Monitor) Transitions() <-chan Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Transition, 8)
	m.subs = append(m.subs, ch)
	return ch
}
