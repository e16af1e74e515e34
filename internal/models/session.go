package models

import "time"

// Session is the flat JSON blob persisted when a pipeline session stops.
type Session struct {
	SessionID string `json:"session_id"` // uuid v4
	Status    string `json:"status"`     // active|ended|failed

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// Transcript is the retained buffer tail at stop time, oldest first.
	Transcript []TranscriptFragment `json:"transcript"`
	Hints      []HintRecord         `json:"hints"`

	DurationSeconds int64 `json:"duration_seconds"`
}

const (
	SessionActive = "active"
	SessionEnded  = "ended"
	SessionFailed = "failed"
)

// SessionSummary is the index entry returned by session listings.
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	HintCount int       `json:"hint_count"`
}

func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		SessionID: s.SessionID,
		Status:    s.Status,
		StartedAt: s.StartedAt,
		HintCount: len(s.Hints),
	}
}
