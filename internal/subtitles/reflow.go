package subtitles

import (
	"strings"

	"frameworks/pkg/models"
)

// physLine is one word-wrapped physical line of text, before grouping
// into caption cues.
type physLine struct {
	start        float64
	end          float64
	text         string
	originalText string
}

// reflow turns segments into 1-based numbered caption lines, renumbered
// across the whole stream: each segment is word-wrapped to
// cfg.MaxLineWidth physical lines, grouped cfg.MaxLineCount at a time
// into a cue.
func reflow(segments []models.Segment, cfg Config) []models.Line {
	var phys []physLine
	for _, seg := range segments {
		phys = append(phys, wrapSegment(seg, cfg.MaxLineWidth)...)
	}

	var lines []models.Line
	for i := 0; i < len(phys); i += cfg.MaxLineCount {
		end := i + cfg.MaxLineCount
		if end > len(phys) {
			end = len(phys)
		}
		group := phys[i:end]

		texts := make([]string, 0, len(group))
		originals := make([]string, 0, len(group))
		for _, p := range group {
			texts = append(texts, p.text)
			if p.originalText != "" {
				originals = append(originals, p.originalText)
			}
		}

		lines = append(lines, models.Line{
			Index:        len(lines) + 1,
			Start:        group[0].start,
			End:          group[len(group)-1].end,
			Text:         strings.Join(texts, "\n"),
			OriginalText: strings.Join(originals, "\n"),
		})
	}
	return lines
}

// wrapSegment word-wraps one segment's text to maxWidth: when per-word
// timings are present, lines break at word boundaries and inherit
// start/end from their first/last word; otherwise the text is
// tokenized and packed greedily, with the segment's duration split
// equally across the resulting lines.
func wrapSegment(seg models.Segment, maxWidth int) []physLine {
	if len(seg.Words) > 0 {
		return wrapByWords(seg, maxWidth)
	}
	return wrapByText(seg, maxWidth)
}

func wrapByWords(seg models.Segment, maxWidth int) []physLine {
	var out []physLine
	var cur []models.WordTiming
	width := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		words := make([]string, len(cur))
		for i, w := range cur {
			words[i] = w.Text
		}
		out = append(out, physLine{
			start:        cur[0].Start,
			end:          cur[len(cur)-1].End,
			text:         strings.Join(words, " "),
			originalText: seg.OriginalText,
		})
		cur = nil
		width = 0
	}

	for _, w := range seg.Words {
		wordWidth := len([]rune(w.Text))
		sep := 0
		if len(cur) > 0 {
			sep = 1
		}
		if len(cur) > 0 && width+sep+wordWidth > maxWidth {
			flush()
			sep = 0
		}
		cur = append(cur, w)
		width += sep + wordWidth
	}
	flush()
	return out
}

func wrapByText(seg models.Segment, maxWidth int) []physLine {
	tokens := strings.Fields(seg.Text)
	if len(tokens) == 0 {
		return []physLine{{start: seg.Start, end: seg.End, text: "", originalText: seg.OriginalText}}
	}

	var packed []string
	var cur []string
	width := 0
	for _, tok := range tokens {
		tokWidth := len([]rune(tok))
		sep := 0
		if len(cur) > 0 {
			sep = 1
		}
		if len(cur) > 0 && width+sep+tokWidth > maxWidth {
			packed = append(packed, strings.Join(cur, " "))
			cur = nil
			sep = 0
			width = 0
		}
		cur = append(cur, tok)
		width += sep + tokWidth
	}
	if len(cur) > 0 {
		packed = append(packed, strings.Join(cur, " "))
	}

	n := len(packed)
	duration := seg.End - seg.Start
	perLine := duration / float64(n)

	out := make([]physLine, n)
	for i, text := range packed {
		out[i] = physLine{
			start:        seg.Start + float64(i)*perLine,
			end:          seg.Start + float64(i+1)*perLine,
			text:         text,
			originalText: seg.OriginalText,
		}
	}
	return out
}

// clampOverlaps enforces the timing invariants every emitted line must
// satisfy: end >= start for every line, and no two consecutive lines
// overlap.
func clampOverlaps(lines []models.Line) []models.Line {
	for i := range lines {
		if lines[i].End < lines[i].Start {
			lines[i].End = lines[i].Start
		}
		if i > 0 && lines[i].Start < lines[i-1].End {
			lines[i].Start = lines[i-1].End
		}
		if lines[i].End < lines[i].Start {
			lines[i].End = lines[i].Start
		}
	}
	return lines
}
