package call

import (
	"sync"
	"time"

	"peercall-core/internal/domain"
)

// defaultHistoryLimit bounds the in-memory call log.
const defaultHistoryLimit = 50

// Entry is one finished call as remembered locally. Outcome holds
// OutcomeCompleted or the error code that ended the call.
type Entry struct {
	CallID      string          `json:"call_id"`
	PeerID      string          `json:"peer_id"`
	Kind        domain.CallKind `json:"kind"`
	Initiator   bool            `json:"initiator"`
	Outcome     string          `json:"outcome"`
	StartedAt   time.Time       `json:"started_at"`
	ConnectedAt time.Time       `json:"connected_at,omitzero"`
	EndedAt     time.Time       `json:"ended_at"`
}

// Duration returns the connected duration, zero for calls that never
// connected.
func (e Entry) Duration() time.Duration {
	if e.ConnectedAt.IsZero() {
		return 0
	}
	return e.EndedAt.Sub(e.ConnectedAt)
}

// History is a bounded in-memory log of finished calls, newest first. It
// is local-only: the relay records remain the durable source.
type History struct {
	mu      sync.RWMutex
	entries []Entry
	limit   int
}

// NewHistory creates a history bounded at the default limit.
func NewHistory() *History {
	return &History{limit: defaultHistoryLimit}
}

// Record appends a finished call, evicting the oldest entry at capacity.
func (h *History) Record(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	if len(h.entries) > h.limit {
		h.entries = h.entries[len(h.entries)-h.limit:]
	}
}

// List returns the remembered calls, newest first.
func (h *History) List() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Entry, len(h.entries))
	for i, e := range h.entries {
		out[len(h.entries)-1-i] = e
	}
	return out
}

// Len returns the number of remembered calls.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
