package translate

import (
	"sync"
	"time"
)

// providerBudget tracks a fixed-window per-hour call budget for one
// provider. A provider that
// reports RateExhaustedError is marked saturated until its window
// resets, independent of the call counter below — the counter is this
// facade's own proactive cap so it never even tries a provider that
// would predictably 429.
type providerBudget struct {
	mu          sync.Mutex
	limit       int
	windowStart time.Time
	count       int
	saturatedAt time.Time
}

func newProviderBudget(limit int) *providerBudget {
	return &providerBudget{limit: limit}
}

// allow reports whether a call is permitted right now, rolling the
// window over if an hour has elapsed.
func (b *providerBudget) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.windowStart) >= time.Hour {
		b.windowStart = now
		b.count = 0
		b.saturatedAt = time.Time{}
	}
	if !b.saturatedAt.IsZero() && now.Sub(b.saturatedAt) < time.Hour {
		return false
	}
	if b.limit > 0 && b.count >= b.limit {
		return false
	}
	return true
}

func (b *providerBudget) recordCall(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count++
}

func (b *providerBudget) markSaturated(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saturatedAt = now
}
