package models

// Event type identifiers carried on every progress event.
const (
	EventTypeProgress  = "call.progress"
	EventTypeCompleted = "call.completed"
	EventTypeFailed    = "call.failed"
)

// ProgressEvent is delivered to push-channel subscribers after every
// stage transition. Events are transient; subscribers reconnecting
// mid-pipeline receive a synthetic replay of last-known state instead.
type ProgressEvent struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Stage     string `json:"stage"`
	Progress  int    `json:"progress"`
	Message   string `json:"message"`
	Terminal  bool   `json:"terminal"`
	Timestamp int64  `json:"timestamp"`

	// Record is set on the terminal success event only.
	Record *CallRecord `json:"record,omitempty"`
	// Error is set on the terminal error event only.
	Error string `json:"error,omitempty"`
}
