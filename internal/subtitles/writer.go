package subtitles

import (
	"encoding/json"
	"fmt"
	"strings"

	"frameworks/pkg/models"
)

// writeSRT renders lines as "i\n{start} --> {end}\n{text}\n\n".
func writeSRT(lines []models.Line) []byte {
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", l.Index, srtTimestamp(l.Start), srtTimestamp(l.End), l.Text)
	}
	return []byte(b.String())
}

// writeVTT renders a WEBVTT header followed by "{start} --> {end}\n{text}\n\n"
// per line.
func writeVTT(lines []models.Line) []byte {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, l := range lines {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n", vttTimestamp(l.Start), vttTimestamp(l.End), l.Text)
	}
	return []byte(b.String())
}

// jsonLine is the wire shape of one subtitle artifact entry: a UTF-8
// array of {id,start,end,text} objects in ascending start order.
type jsonLine struct {
	ID           int     `json:"id"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	OriginalText string  `json:"original_text,omitempty"`
}

func writeJSON(lines []models.Line) []byte {
	out := make([]jsonLine, len(lines))
	for i, l := range lines {
		out[i] = jsonLine{ID: l.Index, Start: l.Start, End: l.End, Text: l.Text, OriginalText: l.OriginalText}
	}
	b, err := json.Marshal(out)
	if err != nil {
		// Only non-JSON-marshalable Go values (e.g. NaN/Inf floats) can
		// reach here; lines are always built from finite segment timings.
		return []byte("[]\n")
	}
	return append(b, '\n')
}

// srtTimestamp renders seconds as "HH:MM:SS,mmm".
func srtTimestamp(seconds float64) string {
	return formatTimestamp(seconds, ",")
}

// vttTimestamp renders seconds as "HH:MM:SS.mmm".
func vttTimestamp(seconds float64) string {
	return formatTimestamp(seconds, ".")
}

// formatTimestamp floors seconds to whole milliseconds, rounding down
// to 3 digits, and zero-pads every field.
func formatTimestamp(seconds float64, decimalSep string) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMillis := int64(seconds * 1000)

	hh := totalMillis / 3_600_000
	mm := (totalMillis % 3_600_000) / 60_000
	ss := (totalMillis % 60_000) / 1_000
	mmm := totalMillis % 1_000

	return fmt.Sprintf("%02d:%02d:%02d%s%03d", hh, mm, ss, decimalSep, mmm)
}
