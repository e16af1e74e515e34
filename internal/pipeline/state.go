package pipeline

import (
	"time"

	"github.com/yoockh/hintline/internal/history"
)

type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// AskResult is the outcome of a manual ask. Only AskStarted issues a request.
type AskResult int

const (
	AskStarted AskResult = iota
	AskBusy
	AskNothingNew
)

func (r AskResult) String() string {
	switch r {
	case AskStarted:
		return "started"
	case AskBusy:
		return "busy"
	case AskNothingNew:
		return "nothing_new"
	default:
		return "unknown"
	}
}

func (r AskResult) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// Status is a point-in-time view of the pipeline, safe to read from any goroutine.
type Status struct {
	State       State            `json:"state"`
	SessionID   string           `json:"session_id,omitempty"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	AutoHints   bool             `json:"auto_hints"`
	WindowSize  int              `json:"window_size"`
	MaxChars    int              `json:"max_chars"`
	BufferLen   int              `json:"buffer_len"`
	HintPending bool             `json:"hint_pending"`
	Hints       history.Position `json:"hints"`
	Error       string           `json:"error,omitempty"`
}
