package transcript

import (
	"unicode/utf8"

	"github.com/yoockh/hintline/internal/models"
)

type Labels struct {
	Primary   string
	Secondary string
}

func DefaultLabels() Labels {
	return Labels{Primary: "Me", Secondary: "Them"}
}

// Builder turns a buffer snapshot into the ordered context lines of a hint request.
type Builder struct {
	Labels Labels
	// Format overrides the default "<label>: <text>" rendering when set.
	Format func(models.TranscriptFragment) string
}

func NewBuilder(labels Labels) *Builder {
	return &Builder{Labels: labels}
}

// Build keeps the last windowSize fragments and then the longest most-recent
// suffix whose total formatted length fits in maxChars. Fragments are included
// whole or not at all, so an oversized newest fragment yields an empty result.
func (b *Builder) Build(snapshot []models.TranscriptFragment, windowSize, maxChars int) []string {
	if windowSize < 1 {
		windowSize = 1
	}
	if maxChars < 0 {
		maxChars = 0
	}
	if len(snapshot) > windowSize {
		snapshot = snapshot[len(snapshot)-windowSize:]
	}

	lines := make([]string, len(snapshot))
	start := len(snapshot)
	total := 0
	for i := len(snapshot) - 1; i >= 0; i-- {
		line := b.format(snapshot[i])
		n := utf8.RuneCountInString(line)
		if total+n > maxChars {
			break
		}
		total += n
		start = i
		lines[i] = line
	}
	return lines[start:]
}

func (b *Builder) format(f models.TranscriptFragment) string {
	if b.Format != nil {
		return b.Format(f)
	}
	return b.label(f.Source) + ": " + f.Text
}

func (b *Builder) label(s models.Source) string {
	if s == models.SourceSecondary {
		if b.Labels.Secondary != "" {
			return b.Labels.Secondary
		}
		return DefaultLabels().Secondary
	}
	if b.Labels.Primary != "" {
		return b.Labels.Primary
	}
	return DefaultLabels().Primary
}
