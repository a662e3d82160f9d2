// Package subtitles is the Subtitle Emitter: it reflows transcript
// segments into numbered caption lines and writes the SRT, WebVTT, and
// JSON artifact formats from that single reflowed stream so all three
// stay bit-consistent with each other.
//
// This is the one component of the system implemented purely on the
// standard library (strings/fmt, plus encoding/json for the JSON
// artifact); see DESIGN.md for why.
package subtitles

import (
	"frameworks/pkg/models"
)

// Config are the writer knobs.
type Config struct {
	MaxLineWidth int // characters per physical line, default 42
	MaxLineCount int // physical lines grouped into one caption cue, default 2
}

// DefaultConfig is the out-of-the-box reflow configuration.
func DefaultConfig() Config {
	return Config{MaxLineWidth: 42, MaxLineCount: 2}
}

// Emitter reflows segments and writes all three subtitle formats. It
// implements pipeline.Emitter.
type Emitter struct {
	Config Config
}

// New creates an Emitter with the given config, falling back to
// DefaultConfig's field values for anything left zero.
func New(cfg Config) *Emitter {
	if cfg.MaxLineWidth <= 0 {
		cfg.MaxLineWidth = DefaultConfig().MaxLineWidth
	}
	if cfg.MaxLineCount <= 0 {
		cfg.MaxLineCount = DefaultConfig().MaxLineCount
	}
	return &Emitter{Config: cfg}
}

// Emit reflows segments into lines and renders SRT, WebVTT, and JSON.
// The function is pure: re-running Emit with identical input yields
// byte-identical output.
func (e *Emitter) Emit(segments []models.Segment) (srt, vtt, js []byte, err error) {
	lines := reflow(segments, e.Config)
	lines = clampOverlaps(lines)

	return writeSRT(lines), writeVTT(lines), writeJSON(lines), nil
}
