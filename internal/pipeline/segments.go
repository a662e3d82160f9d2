package pipeline

import (
	"strings"
	"unicode"

	"frameworks/pkg/models"
)

// dropEmptySegments removes whitespace-only transcript segments.
func dropEmptySegments(segments []models.Segment) []models.Segment {
	out := make([]models.Segment, 0, len(segments))
	for _, seg := range segments {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		out = append(out, seg)
	}
	return out
}

const maxMergedDuration = 4.0 // seconds: merged segments are capped at this combined duration

// mergeAdjacentSegments merges consecutive segments whose gap is <= 0ms
// and whose text suggests a sentence continues across the boundary: the
// following segment starts lowercase, or the preceding segment's text
// lacks sentence-final punctuation. The combined span is capped at
// maxMergedDuration.
func mergeAdjacentSegments(segments []models.Segment) []models.Segment {
	if len(segments) == 0 {
		return segments
	}

	out := make([]models.Segment, 0, len(segments))
	current := segments[0]

	for _, next := range segments[1:] {
		gap := next.Start - current.End
		combinedDuration := next.End - current.Start

		if gap <= 0 && startsLowercase(next.Text) || (gap <= 0 && !endsWithSentencePunctuation(current.Text)) {
			if combinedDuration <= maxMergedDuration {
				current.Text = joinText(current.Text, next.Text)
				current.End = next.End
				current.Words = append(current.Words, next.Words...)
				continue
			}
		}

		out = append(out, current)
		current = next
	}
	out = append(out, current)
	return out
}

func joinText(a, b string) string {
	a = strings.TrimRight(a, " ")
	b = strings.TrimLeft(b, " ")
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + " " + b
}

func startsLowercase(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	r := []rune(s)[0]
	return unicode.IsLower(r)
}

func endsWithSentencePunctuation(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return true
	default:
		return false
	}
}
