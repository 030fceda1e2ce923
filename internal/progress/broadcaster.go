// Package progress delivers ordered progress events to per-session
// subscriber groups and makes reconnection transparent via
// replay-on-subscribe.
package progress

import (
	"sync"
	"time"

	"call-insights-service/internal/models"
	"call-insights-service/internal/observability/logging"
	"call-insights-service/internal/observability/metrics"
	"call-insights-service/internal/session"
)

// Subscriber receives progress events for the sessions it joined.
// Deliver must not block; it returns false when the subscriber's buffer
// is full, in which case the broadcaster drops the subscriber and it
// must resubscribe (triggering a fresh replay).
type Subscriber interface {
	Deliver(ev models.ProgressEvent) bool
}

// Broadcaster fans progress events out to the subscribers of a session.
// Delivery is at-least-once per subscriber; ordering is guaranteed per
// session id only. Deliver is non-blocking by contract, so holding the
// lock across a fan-out never parks the pipeline on a subscriber.
type Broadcaster struct {
	mu       sync.Mutex
	groups   map[string]map[Subscriber]struct{}
	registry *session.Registry
	metrics  *metrics.Metrics
}

// NewBroadcaster creates a broadcaster backed by the given registry for
// replay-on-subscribe.
func NewBroadcaster(registry *session.Registry) *Broadcaster {
	return &Broadcaster{
		groups:   make(map[string]map[Subscriber]struct{}),
		registry: registry,
		metrics:  metrics.DefaultMetrics,
	}
}

// Subscribe attaches sub to the session's group. If the registry
// already has state for the session, a synthetic replay event is
// delivered before any live event, so late joiners and reconnects
// observe the current progress instead of starting at zero.
func (b *Broadcaster) Subscribe(sessionID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	group, ok := b.groups[sessionID]
	if !ok {
		group = make(map[Subscriber]struct{})
		b.groups[sessionID] = group
	}
	if _, joined := group[sub]; joined {
		return
	}
	group[sub] = struct{}{}
	b.metrics.SubscribersActive.Inc()

	if st, ok := b.registry.Get(sessionID); ok {
		replay := models.ProgressEvent{
			EventType: models.EventTypeProgress,
			SessionID: st.SessionID,
			Stage:     st.Stage.String(),
			Progress:  st.Progress,
			Message:   st.Message,
			Terminal:  st.Stage.IsTerminal(),
			Timestamp: time.Now().UnixMilli(),
		}
		b.metrics.EventsReplayed.Inc()
		if !sub.Deliver(replay) {
			b.removeLocked(sessionID, sub)
		}
	}
}

// Unsubscribe detaches sub from the session's group.
func (b *Broadcaster) Unsubscribe(sessionID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sessionID, sub)
}

// Publish delivers ev to every current subscriber of its session.
// Subscribers whose buffers are full are dropped. Publish never blocks
// on slow subscribers.
func (b *Broadcaster) Publish(ev models.ProgressEvent) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.EventsPublished.Inc()

	group, ok := b.groups[ev.SessionID]
	if !ok {
		return
	}
	for sub := range group {
		if !sub.Deliver(ev) {
			b.removeLocked(ev.SessionID, sub)
			b.metrics.SubscribersDropped.Inc()
			logger := logging.WithSession(ev.SessionID)
			logger.Warn().
				Msg("Subscriber fell behind, dropped")
		}
	}
}

// SubscriberCount returns the number of subscribers attached to a session.
func (b *Broadcaster) SubscriberCount(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.groups[sessionID])
}

func (b *Broadcaster) removeLocked(sessionID string, sub Subscriber) {
	group, ok := b.groups[sessionID]
	if !ok {
		return
	}
	if _, joined := group[sub]; !joined {
		return
	}
	delete(group, sub)
	b.metrics.SubscribersActive.Dec()
	if len(group) == 0 {
		delete(b.groups, sessionID)
	}
}
