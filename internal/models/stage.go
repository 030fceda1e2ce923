package models

import "fmt"

// Stage represents one phase of the upload processing pipeline.
type Stage int

const (
	// StageReceived - artifact accepted, placeholder record being created.
	StageReceived Stage = iota
	// StageTranscribing - speech-to-text in flight.
	StageTranscribing
	// StageAnalyzing - transcript analysis in flight.
	StageAnalyzing
	// StageSaving - persisting the accumulated record.
	StageSaving
	// StageComplete - pipeline finished, record durable.
	StageComplete
	// StageError - pipeline aborted. Terminal, reachable from any
	// non-terminal stage.
	StageError
)

// String returns the wire representation of the stage.
func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageTranscribing:
		return "transcribing"
	case StageAnalyzing:
		return "analyzing"
	case StageSaving:
		return "saving"
	case StageComplete:
		return "complete"
	case StageError:
		return "error"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if no further stage follows.
func (s Stage) IsTerminal() bool {
	return s == StageComplete || s == StageError
}

// Progress returns the canonical progress value reported on entry
// into the stage. Values are non-decreasing along the happy path.
func (s Stage) Progress() int {
	switch s {
	case StageReceived:
		return 0
	case StageTranscribing:
		return 25
	case StageAnalyzing:
		return 50
	case StageSaving:
		return 75
	case StageComplete:
		return 100
	default:
		return 0
	}
}

// CanTransition reports whether the edge from -> to is allowed.
// Stages are strictly sequential; error is reachable from any
// non-terminal stage.
func CanTransition(from, to Stage) bool {
	if to == StageError {
		return !from.IsTerminal()
	}
	switch from {
	case StageReceived:
		return to == StageTranscribing
	case StageTranscribing:
		return to == StageAnalyzing
	case StageAnalyzing:
		return to == StageSaving
	case StageSaving:
		return to == StageComplete
	default:
		return false
	}
}
