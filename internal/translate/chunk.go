package translate

import (
	"fmt"
	"regexp"
	"strings"

	"frameworks/pkg/models"
)

// defaultBlockCharBudget is the per-call character budget: 4000 chars
// including separators and `[SEGk]` markers.
const defaultBlockCharBudget = 4000

// block is a group of segment indices serialized together under the
// per-call character budget.
type block struct {
	indices []int
	text    string
}

// chunkSegments groups segment indices greedily into blocks so each
// block's serialized text (lines `[SEGk] text` joined by "\n") stays
// under budget chars.
func chunkSegments(segments []models.Segment, budget int) []block {
	if budget <= 0 {
		budget = defaultBlockCharBudget
	}

	var blocks []block
	var curIndices []int
	var curLines []string
	curLen := 0

	flush := func() {
		if len(curIndices) == 0 {
			return
		}
		blocks = append(blocks, block{indices: curIndices, text: strings.Join(curLines, "\n")})
		curIndices = nil
		curLines = nil
		curLen = 0
	}

	for i, seg := range segments {
		line := fmt.Sprintf("[SEG%d] %s", i, seg.Text)
		lineLen := len(line)
		sep := 0
		if len(curLines) > 0 {
			sep = 1 // newline separator
		}
		if len(curLines) > 0 && curLen+sep+lineLen > budget {
			flush()
			sep = 0
		}
		curIndices = append(curIndices, i)
		curLines = append(curLines, line)
		curLen += sep + lineLen
	}
	flush()
	return blocks
}

var markerPattern = regexp.MustCompile(`\[SEG(\d+)\]\s?`)

// parseBlock splits a translated block back into a map from segment
// index to translated text. Segments whose marker fails to parse are
// absent from the result, so callers fall back to the original text
// for them.
func parseBlock(translated string) map[int]string {
	out := make(map[int]string)
	locs := markerPattern.FindAllStringSubmatchIndex(translated, -1)
	markers := markerPattern.FindAllStringSubmatch(translated, -1)

	for m, match := range markers {
		var idx int
		if _, err := fmt.Sscanf(match[1], "%d", &idx); err != nil {
			continue
		}
		start := locs[m][1] // end of the marker match (including trailing separator)
		end := len(translated)
		if m+1 < len(locs) {
			end = locs[m+1][0]
		}
		text := strings.TrimSpace(translated[start:end])
		out[idx] = text
	}
	return out
}
