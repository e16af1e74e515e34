// Package history keeps the append-only list of hints produced in a session
// together with the cursor of the hint the UI is showing.
package history

import "github.com/yoockh/hintline/internal/models"

// History is owned by one pipeline loop and is not safe for concurrent use.
type History struct {
	records []models.HintRecord
	current int
}

func New() *History { return &History{} }

// Append adds r and moves the cursor to it.
func (h *History) Append(r models.HintRecord) {
	h.records = append(h.records, r)
	h.current = len(h.records) - 1
}

func (h *History) Len() int { return len(h.records) }

// CurrentIndex is always in [0, Len()-1], or 0 when empty.
func (h *History) CurrentIndex() int { return h.current }

func (h *History) Current() (models.HintRecord, bool) {
	if len(h.records) == 0 {
		return models.HintRecord{}, false
	}
	return h.records[h.current], true
}

func (h *History) Prev() int { return h.Select(h.current - 1) }

func (h *History) Next() int { return h.Select(h.current + 1) }

// Select moves the cursor to i, clamped, and returns the resulting index.
func (h *History) Select(i int) int {
	switch {
	case len(h.records) == 0 || i < 0:
		i = 0
	case i > len(h.records)-1:
		i = len(h.records) - 1
	}
	h.current = i
	return i
}

func (h *History) Records() []models.HintRecord {
	out := make([]models.HintRecord, len(h.records))
	copy(out, h.records)
	return out
}

// Position is the pager view of the history.
type Position struct {
	Index int `json:"index"`
	Total int `json:"total"`
}

func (h *History) Position() Position {
	return Position{Index: h.current, Total: len(h.records)}
}

func (h *History) Clear() {
	h.records = nil
	h.current = 0
}
