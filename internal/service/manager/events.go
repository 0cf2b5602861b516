package manager

import (
	"time"

	"github.com/vertextoedge/transferd/internal/service/observer"
)

// Event types
const (
	EventUpdated         = "updated"
	EventRestartRequired = "restart_required"
	EventRemoved         = "removed"
)

// Event notifies subscribers of a change they should not wait for a poll to see
type Event struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Reason   string `json:"reason,omitempty"`
	Download *View  `json:"download,omitempty"`
}

// View is the externally visible state of a download
type View struct {
	ID string `json:"id"`
	observer.Snapshot
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	PendingRestart string     `json:"pending_restart,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// view builds the external view of h. Caller holds m.mu.
func (m *Manager) view(h *handle) View {
	v := View{
		ID:          h.record.ID,
		Snapshot:    h.target.Snapshot(),
		RetryCount:  h.record.RetryCount,
		MaxRetries:  h.record.MaxRetries,
		NextRetryAt: h.record.NextRetryAt,
		LastError:   h.record.LastError,
		CreatedAt:   h.record.CreatedAt,
		UpdatedAt:   h.record.UpdatedAt,
	}
	if h.pending != nil {
		v.PendingRestart = h.pending.reason
	}
	return v
}

// Subscribe returns a channel of events and a function that ends the
// subscription. Slow subscribers miss events rather than block transfers.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.subMu.Unlock()

	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if c, ok := m.subs[id]; ok {
			close(c)
			delete(m.subs, id)
		}
	}
}

func (m *Manager) publish(e Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
