// Package translate is the Translator Facade: context-preserving
// segmented translation with chunking, marker-based recombination,
// inter-block pacing, per-block retry, and priority-ordered provider
// fallback with per-hour usage budgets. Each block is retried on a
// provider before the next provider is tried; the file as a whole is
// not retried.
//
// Providers are the callable "translate strings with context" black
// box — a thin HTTP client with a bearer auth header, JSON body, and
// io.ReadAll response.
package translate

import (
	"context"
	"fmt"
)

// RateExhaustedError is returned by a Provider when it reports its own
// rate budget exhausted (e.g. HTTP 429); the facade treats this
// distinctly from a hard failure by failing the provider over rather
// than retrying it.
type RateExhaustedError struct {
	Provider string
}

func (e *RateExhaustedError) Error() string {
	return fmt.Sprintf("translate: provider %s rate exhausted", e.Provider)
}

// Provider is a translation backend: it translates one already-chunked
// block of `[SEGk] text` lines and returns the same shape translated.
// Implementations are expected to preserve the `[SEGk]` markers
// verbatim.
type Provider interface {
	Name() string
	Translate(ctx context.Context, block, sourceLang, targetLang string) (string, error)
}

// ProviderConfig registers a Provider at a priority position (earlier
// entries are tried first) with its per-hour call budget.
type ProviderConfig struct {
	Provider       Provider
	RequestsPerHour int
}
