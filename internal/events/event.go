// Package events carries pipeline events to the host layer: in process to
// WebSocket clients and, when configured, over Redis pub/sub.
package events

import (
	"time"

	"github.com/yoockh/hintline/internal/models"
)

type Type string

const (
	TranscriptAppended Type = "transcript_appended"
	HintStarted        Type = "hint_started"
	HintChunk          Type = "hint_chunk"
	HintCompleted      Type = "hint_completed"
	HintFailed         Type = "hint_failed"
	StateChanged       Type = "state_changed"
)

// Event is a flat tagged union keyed by Type. Only the fields relevant to
// the type are set.
type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Time      time.Time `json:"ts"`

	// TranscriptAppended
	Fragment *models.TranscriptFragment `json:"fragment,omitempty"`

	// HintStarted, HintChunk, HintCompleted, HintFailed
	RequestSeq uint64 `json:"request_seq,omitempty"`
	Text       string `json:"text,omitempty"`

	// HintCompleted
	Hint  *models.HintRecord `json:"hint,omitempty"`
	Index int                `json:"index,omitempty"`
	Total int                `json:"total,omitempty"`

	// HintFailed
	Reason string `json:"reason,omitempty"`
	Status int    `json:"status,omitempty"`

	// StateChanged
	State string `json:"state,omitempty"`

	Error string `json:"error,omitempty"`
}

// Sink receives every event the pipeline emits. Emit is called from the
// pipeline loop and must not block.
type Sink interface {
	Emit(Event)
}

// Multi fans one event out to several sinks in order.
type Multi []Sink

func (m Multi) Emit(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(Event) {}
