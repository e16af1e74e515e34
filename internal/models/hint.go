package models

import "time"

// QuestionType is the backend's classification of what was asked. Empty means absent.
type QuestionType string

type Sampling struct {
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// HintRequest is built fresh per request and never mutated after issuance.
type HintRequest struct {
	Prompt       string
	Context      []string
	SystemPrompt string
	Profile      string
	UserContext  string
	Sampling     Sampling
	Model        string // optional
}

// HintRecord is the result of one successful, non-empty hint stream.
type HintRecord struct {
	ID           string       `json:"id"`
	Text         string       `json:"text"`
	Timestamp    time.Time    `json:"timestamp"`
	LatencyMS    *int64       `json:"latency_ms,omitempty"`
	TTFTMS       *int64       `json:"ttft_ms,omitempty"`
	Cached       bool         `json:"cached"`
	QuestionType QuestionType `json:"question_type,omitempty"`
}
