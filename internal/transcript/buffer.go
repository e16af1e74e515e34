// Package transcript holds the recent speech fragments of a session and
// derives the bounded context sent with each hint request.
package transcript

import "github.com/yoockh/hintline/internal/models"

// Buffer is an ordered sliding window of fragments, oldest first.
// It is owned by a single pipeline loop and is not safe for concurrent use.
type Buffer struct {
	items []models.TranscriptFragment
	cap   int
}

func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{items: make([]models.TranscriptFragment, 0, capacity), cap: capacity}
}

// Append adds f at the end, evicting from the front once the cap is exceeded.
func (b *Buffer) Append(f models.TranscriptFragment) {
	b.items = append(b.items, f)
	b.trim()
}

// Snapshot returns a copy of the current contents.
func (b *Buffer) Snapshot() []models.TranscriptFragment {
	out := make([]models.TranscriptFragment, len(b.items))
	copy(out, b.items)
	return out
}

func (b *Buffer) Clear() {
	b.items = b.items[:0]
}

func (b *Buffer) Len() int { return len(b.items) }

func (b *Buffer) Cap() int { return b.cap }

// SetCap changes the cap; shrinking evicts the oldest fragments immediately.
func (b *Buffer) SetCap(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	b.cap = capacity
	b.trim()
}

// Last returns the most recent fragment.
func (b *Buffer) Last() (models.TranscriptFragment, bool) {
	if len(b.items) == 0 {
		return models.TranscriptFragment{}, false
	}
	return b.items[len(b.items)-1], true
}

func (b *Buffer) trim() {
	if over := len(b.items) - b.cap; over > 0 {
		// shift instead of reslicing so the backing array does not grow forever
		n := copy(b.items, b.items[over:])
		clear(b.items[n:])
		b.items = b.items[:n]
	}
}
