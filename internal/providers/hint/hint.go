package hint

import (
	"context"
	"fmt"

	"github.com/yoockh/hintline/internal/models"
)

// Streamer executes one hint request and republishes the backend stream.
// The returned channel is closed after the terminal event, or as soon as
// ctx is cancelled by the caller, in which case no further events are sent.
type Streamer interface {
	Stream(ctx context.Context, req models.HintRequest) <-chan StreamEvent
}

type EventKind int

const (
	EventStarted EventKind = iota
	EventChunk
	EventCompleted
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventChunk:
		return "chunk"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StreamEvent is a tagged union keyed by Kind.
//
//	Started   no payload
//	Chunk     Text is the partial text
//	Completed Text is the full text, plus LatencyMS, TTFTMS, Cached, QuestionType
//	Failed    Failure is set
type StreamEvent struct {
	Kind         EventKind
	Text         string
	LatencyMS    int64
	TTFTMS       *int64
	Cached       bool
	QuestionType models.QuestionType
	Failure      *Failure
}

type Reason string

const (
	ReasonTimeout              Reason = "timeout"
	ReasonTransportUnreachable Reason = "transport_unreachable"
	ReasonHTTPError            Reason = "http_error"
	ReasonMalformedStream      Reason = "malformed_stream"
	ReasonEmptyResponse        Reason = "empty_response"
)

// Failure describes why a hint attempt ended without a usable answer.
type Failure struct {
	Reason Reason
	Status int // set for ReasonHTTPError
	Err    error
}

func (f *Failure) Error() string {
	switch {
	case f.Reason == ReasonHTTPError && f.Err != nil:
		return fmt.Sprintf("%s %d: %v", f.Reason, f.Status, f.Err)
	case f.Reason == ReasonHTTPError:
		return fmt.Sprintf("%s %d", f.Reason, f.Status)
	case f.Err != nil:
		return fmt.Sprintf("%s: %v", f.Reason, f.Err)
	default:
		return string(f.Reason)
	}
}

func (f *Failure) Unwrap() error { return f.Err }
