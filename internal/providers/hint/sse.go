package hint

import (
	"encoding/json"
	"errors"
	"strings"
)

const doneSentinel = "[DONE]"

// wireEvent is one decoded `data:` record of the backend stream.
type wireEvent struct {
	Chunk        string   `json:"chunk"`
	Done         bool     `json:"done"`
	LatencyMS    *float64 `json:"latency_ms"`
	Cached       bool     `json:"cached"`
	QuestionType string   `json:"question_type"`
	Error        string   `json:"error"`
}

// parseLine extracts the record carried by one stream line. ok is false for
// lines that carry no record: blanks, comments and non-data fields.
func parseLine(line string) (ev wireEvent, ok bool, err error) {
	line = strings.TrimRight(line, "\r")
	if line == "" || strings.HasPrefix(line, ":") {
		return wireEvent{}, false, nil
	}
	payload, found := strings.CutPrefix(line, "data:")
	if !found {
		return wireEvent{}, false, nil
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return wireEvent{}, false, nil
	}
	if payload == doneSentinel {
		return wireEvent{Done: true}, true, nil
	}
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return wireEvent{}, false, err
	}
	if ev.Error != "" {
		return wireEvent{}, false, errors.New(ev.Error)
	}
	return ev, true, nil
}
