package stt

import (
	"context"
	"time"

	"github.com/yoockh/hintline/internal/models"
)

// Dialer opens the live transcription channel.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one open transcription session. Messages is closed when the
// channel is lost or closed; Err then reports why (nil after Close).
type Conn interface {
	Messages() <-chan Message
	SendAudio(source models.Source, frame []byte) error
	Err() error
	Close() error
}

type Kind string

const (
	KindTranscript Kind = "transcript"
	KindStatus     Kind = "status"
	KindError      Kind = "error"
)

type Message struct {
	Kind Kind

	// KindTranscript
	Text      string
	Source    models.Source
	LatencyMS *int64
	Received  time.Time

	// KindStatus
	Status string

	// KindError
	Error string
}

// Fragment converts a transcript message into a buffer item.
func (m Message) Fragment() models.TranscriptFragment {
	ts := m.Received
	if ts.IsZero() {
		ts = time.Now()
	}
	return models.TranscriptFragment{
		Text:      m.Text,
		Source:    m.Source,
		Timestamp: ts,
		LatencyMS: m.LatencyMS,
	}
}
