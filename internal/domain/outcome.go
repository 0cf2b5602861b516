package domain

import "fmt"

// OutcomeKind enumerates how a transfer attempt ended
type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota + 1
	OutcomeHalted
	OutcomeRestartDeclined
	OutcomeCancelled
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeHalted:
		return "halted"
	case OutcomeRestartDeclined:
		return "restart_declined"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// HaltReason explains why an attempt stopped without being retryable
type HaltReason string

const (
	HaltExpired         HaltReason = "expired"
	HaltResourceChanged HaltReason = "resource_changed"
	HaltInvalidRange    HaltReason = "invalid_range"
)

// Outcome is the result of one attempt. Exactly one of the constructors below
// produces each kind; callers switch on Kind.
type Outcome struct {
	Kind   OutcomeKind
	Reason HaltReason
	Err    error

	// Path is the final destination for completed attempts
	Path string

	// Bytes is the size of the payload on disk when the attempt ended
	Bytes int64
}

// Completed returns a successful outcome
func Completed(path string, size int64) Outcome {
	return Outcome{Kind: OutcomeCompleted, Path: path, Bytes: size}
}

// Halted returns a terminal, non-retryable outcome
func Halted(reason HaltReason, bytes int64) Outcome {
	return Outcome{Kind: OutcomeHalted, Reason: reason, Bytes: bytes}
}

// RestartDeclined returns the outcome used when the caller refuses to discard progress
func RestartDeclined(bytes int64) Outcome {
	return Outcome{Kind: OutcomeRestartDeclined, Bytes: bytes}
}

// Cancelled returns the outcome of a user cancellation
func Cancelled(bytes int64) Outcome {
	return Outcome{Kind: OutcomeCancelled, Bytes: bytes}
}

// Failed returns a transport failure eligible for caller-driven retry
func Failed(err error, bytes int64) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err, Bytes: bytes}
}

// Status maps the outcome onto the terminal status reported to the target
func (o Outcome) Status() Status {
	switch o.Kind {
	case OutcomeCompleted:
		return StatusCompleted
	case OutcomeHalted:
		switch o.Reason {
		case HaltExpired:
			return StatusExpired
		case HaltInvalidRange:
			return StatusInvalidRange
		default:
			return StatusResourceChanged
		}
	case OutcomeRestartDeclined:
		return StatusRestartRequired
	case OutcomeCancelled:
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// Retryable returns true if the orchestrator may schedule another attempt
func (o Outcome) Retryable() bool {
	return o.Kind == OutcomeFailed
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeHalted:
		return fmt.Sprintf("halted (%s)", o.Reason)
	case OutcomeFailed:
		if o.Err != nil {
			return "failed: " + o.Err.Error()
		}
		return "failed"
	default:
		return o.Kind.String()
	}
}

// RestartDecision is the single answer to a restart approval request
type RestartDecision struct {
	Approved bool
	Err      error
}
