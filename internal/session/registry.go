// Package session tracks one ephemeral processing session per in-flight
// upload. The registry is the single source of truth for last-known
// progress state, consumed by the broadcaster to replay state to
// reconnecting subscribers.
package session

import (
	"errors"
	"sync"
	"time"

	"call-insights-service/internal/models"
	"call-insights-service/internal/observability/logging"
	"call-insights-service/internal/observability/metrics"
)

// ErrSessionConflict is returned when opening a session id that is
// already owned by a live session.
var ErrSessionConflict = errors.New("session id already in use")

// ErrSessionNotFound is returned when updating a session that is not open.
var ErrSessionNotFound = errors.New("session not found")

// State is a snapshot of one session's last-known progress.
type State struct {
	SessionID string
	Stage     models.Stage
	Progress  int
	Message   string
	CreatedAt time.Time
	LastEvent time.Time
}

// EvictionHandler is invoked when the janitor force-closes an idle
// session, so a terminal error event can still reach subscribers.
type EvictionHandler func(st State)

// Registry is a concurrency-safe map of live sessions with TTL-based
// eviction of orphans.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*State

	ttl     time.Duration
	sweep   time.Duration
	onEvict EvictionHandler

	metrics *metrics.Metrics
	done    chan struct{}
	once    sync.Once
}

// NewRegistry creates a registry. Sessions not closed within ttl of
// their last update are force-closed by Start's janitor.
func NewRegistry(ttl, sweepInterval time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	return &Registry{
		sessions: make(map[string]*State),
		ttl:      ttl,
		sweep:    sweepInterval,
		metrics:  metrics.DefaultMetrics,
		done:     make(chan struct{}),
	}
}

// SetEvictionHandler registers the callback invoked on janitor eviction.
// Must be called before Start.
func (r *Registry) SetEvictionHandler(h EvictionHandler) {
	r.onEvict = h
}

// Open claims a session id. Returns ErrSessionConflict if the id is
// already owned by a live session; an id whose session has reached a
// terminal state is free for reuse.
func (r *Registry) Open(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sessionID]; exists {
		r.metrics.SessionConflicts.Inc()
		return ErrSessionConflict
	}

	now := time.Now().UTC()
	r.sessions[sessionID] = &State{
		SessionID: sessionID,
		Stage:     models.StageReceived,
		Progress:  0,
		CreatedAt: now,
		LastEvent: now,
	}
	r.metrics.SessionsOpened.Inc()
	return nil
}

// Update records the latest stage/progress for a session and refreshes
// its eviction deadline.
func (r *Registry) Update(sessionID string, stage models.Stage, progress int, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	st.Stage = stage
	st.Progress = progress
	st.Message = message
	st.LastEvent = time.Now().UTC()
	return nil
}

// Get returns a snapshot of the session's last-known state.
func (r *Registry) Get(sessionID string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.sessions[sessionID]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Close evicts a session, freeing its id for reuse.
func (r *Registry) Close(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Start launches the janitor goroutine that force-closes idle sessions.
func (r *Registry) Start() {
	go func() {
		ticker := time.NewTicker(r.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.evictExpired()
			case <-r.done:
				return
			}
		}
	}()
}

// Stop terminates the janitor.
func (r *Registry) Stop() {
	r.once.Do(func() { close(r.done) })
}

func (r *Registry) evictExpired() {
	cutoff := time.Now().UTC().Add(-r.ttl)

	r.mu.Lock()
	var expired []State
	for id, st := range r.sessions {
		if st.LastEvent.Before(cutoff) {
			st.Stage = models.StageError
			st.Message = "session timed out"
			expired = append(expired, *st)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, st := range expired {
		r.metrics.SessionsEvicted.Inc()
		logger := logging.WithSession(st.SessionID)
		logger.Warn().
			Time("lastEvent", st.LastEvent).
			Msg("Idle session force-closed")
		if r.onEvict != nil {
			r.onEvict(st)
		}
	}
}
