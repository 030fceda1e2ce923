// Package mock provides a mock STT adapter for running without cloud
// credentials. It cycles through canned transcripts with a small
// simulated processing delay.
package mock

import (
	"context"
	"sync"
	"time"
)

// DefaultTranscripts provides sample transcripts for simulation.
var DefaultTranscripts = []string{
	"Hi this is Sarah from customer support how can I help you today. I want to cancel my subscription it keeps charging me twice. I am sorry about that let me look into the billing issue right away.",
	"Hello I saw your listing online and I would like to know if the offer is still available. Yes it is would you like to schedule a visit this week.",
	"You have reached the voicemail of Daniel please leave a message after the tone.",
	"I have been waiting for over an hour and nobody called me back this is the third time. I understand your frustration let me escalate this to my manager.",
	"Good afternoon I am calling to confirm your appointment for Thursday at ten. Perfect thank you see you then.",
}

// Adapter implements stt.Transcriber with canned responses.
type Adapter struct {
	mu    sync.Mutex
	next  int
	delay time.Duration
}

// New creates a new mock STT adapter.
func New() *Adapter {
	return &Adapter{delay: 50 * time.Millisecond}
}

// NewWithDelay creates a mock adapter with a custom simulated delay.
func NewWithDelay(delay time.Duration) *Adapter {
	return &Adapter{delay: delay}
}

// Transcribe returns the next canned transcript after a simulated
// processing delay, honoring ctx cancellation like a real provider.
func (a *Adapter) Transcribe(ctx context.Context, audioPath string) (string, error) {
	a.mu.Lock()
	text := DefaultTranscripts[a.next%len(DefaultTranscripts)]
	a.next++
	delay := a.delay
	a.mu.Unlock()

	select {
	case <-time.After(delay):
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
