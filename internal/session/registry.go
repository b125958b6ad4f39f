package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"github.com/pavelanni/readingquiz/internal/metrics"
	"github.com/pavelanni/readingquiz/internal/model"
)

// DefaultTTL is how long an idle session is kept.
const DefaultTTL = 2 * time.Hour

// Factory builds a fresh machine for a new session id.
type Factory func(id string) *Machine

type entry struct {
	machine  *Machine
	lastSeen time.Time
}

// Registry keeps machines in memory keyed by an opaque random id. Nothing
// survives a restart.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	ttl      time.Duration
	factory  Factory
	now      func() time.Time
}

// NewRegistry creates a Registry. ttl <= 0 uses DefaultTTL.
func NewRegistry(ttl time.Duration, factory Factory) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		factory:  factory,
		now:      time.Now,
	}
}

func newSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Get returns the machine for id and marks it as used.
func (r *Registry) Get(id string) (*Machine, bool) {
	if id == "" {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.machine, true
}

// Create starts a new session.
func (r *Registry) Create() (*Machine, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, err
	}
	m := r.factory(id)

	r.mu.Lock()
	r.sessions[id] = &entry{machine: m, lastSeen: r.now()}
	n := len(r.sessions)
	r.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	slog.Debug("session created", "session", id)
	return m, nil
}

// GetOrCreate returns the machine for id, or a new session if id is unknown.
// The second result is true when a session was created.
func (r *Registry) GetOrCreate(id string) (*Machine, bool, error) {
	if m, ok := r.Get(id); ok {
		return m, false, nil
	}
	m, err := r.Create()
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep removes sessions idle for longer than the TTL. Sessions with an
// external call in flight are kept.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	removed := 0
	for id, e := range r.sessions {
		if e.lastSeen.After(cutoff) || e.machine.Busy() {
			continue
		}
		delete(r.sessions, id)
		removed++
	}
	n := len(r.sessions)
	r.mu.Unlock()

	if removed > 0 {
		metrics.ActiveSessions.Set(float64(n))
		slog.Info("expired idle sessions", "removed", removed, "active", n)
	}
	return removed
}

// Run sweeps periodically until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	interval := r.ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Sweep()
		}
	}
}

// LogTransition is a TransitionFunc that logs the change and counts it.
func LogTransition(sessionID string, from, to model.Phase) {
	slog.Info("phase transition", "session", sessionID, "from", from, "to", to)
	metrics.PhaseTransitions.WithLabelValues(string(from), string(to)).Inc()
}
