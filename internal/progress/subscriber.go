package progress

import "call-insights-service/internal/models"

// ChanSubscriber is a Subscriber backed by a bounded channel. It is the
// building block for push-channel transports: the transport drains
// Events and writes them to the wire.
type ChanSubscriber struct {
	ch chan models.ProgressEvent
}

// NewChanSubscriber creates a subscriber with the given buffer size.
// A buffer of zero gets a sane default; the pipeline emits a handful of
// events per session, so modest buffers suffice.
func NewChanSubscriber(buffer int) *ChanSubscriber {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChanSubscriber{ch: make(chan models.ProgressEvent, buffer)}
}

// Deliver enqueues ev without blocking. Returns false when the buffer
// is full.
func (s *ChanSubscriber) Deliver(ev models.ProgressEvent) bool {
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// Events returns the channel the transport drains.
func (s *ChanSubscriber) Events() <-chan models.ProgressEvent {
	return s.ch
}
