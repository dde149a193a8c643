package core

import (
	"sync"
	"time"
)

// Workspace owns the State of one session.
type Workspace struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	state    State
	lastSeen time.Time

	// gate admits one upload at a time.
	gate *UploadLimiter
}

func newWorkspace(id string, now time.Time) *Workspace {
	return &Workspace{
		ID:        id,
		CreatedAt: now,
		lastSeen:  now,
		gate:      NewUploadLimiter(1, time.Millisecond),
	}
}

// Dispatch applies msg and returns the resulting state.
func (w *Workspace) Dispatch(msg Msg) (State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	next, err := w.state.Apply(msg)
	if err != nil {
		return w.state, err
	}
	w.state = next
	return next, nil
}

// Snapshot returns the current state.
func (w *Workspace) Snapshot() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Uploading reports whether an upload is in flight.
func (w *Workspace) Uploading() bool {
	return w.gate.ActiveCount() > 0
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	w.lastSeen = now
	w.mu.Unlock()
}

func (w *Workspace) idleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen
}
