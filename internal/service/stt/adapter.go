// Package stt defines the interface for speech-to-text adapters.
package stt

import "context"

// Transcriber defines the interface for STT providers (Google, mock,
// and whatever comes next). Implementations must honor ctx cancellation;
// the orchestrator wraps every call with its own bounded timeout and
// makes no latency assumptions about the provider.
type Transcriber interface {
	// Transcribe converts the audio artifact at audioPath to text.
	Transcribe(ctx context.Context, audioPath string) (string, error)
}
