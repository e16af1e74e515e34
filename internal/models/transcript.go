package models

import (
	"strings"
	"time"
)

// Source identifies which of the two simultaneous audio channels a fragment came from.
type Source string

const (
	SourcePrimary   Source = "primary"
	SourceSecondary Source = "secondary"
)

// ParseSource maps the channel names used by capture and STT backends onto a Source.
// Absent or unknown names fall back to primary.
func ParseSource(v string) Source {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "secondary", "system", "speaker", "them", "other", "remote":
		return SourceSecondary
	default:
		return SourcePrimary
	}
}

// TranscriptFragment is one finalized piece of speech. Never mutated after creation.
type TranscriptFragment struct {
	Text      string    `json:"text"`
	Source    Source    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	LatencyMS *int64    `json:"latency_ms,omitempty"` // reported by the STT service
}
