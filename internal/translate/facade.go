package translate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"frameworks/internal/errs"
	"frameworks/pkg/cache"
	"frameworks/pkg/logging"
	"frameworks/pkg/models"
)

// allProvidersSaturatedError is the hard-stop fallback case: every
// registered provider is currently rate-limited, so the facade gives
// up on this block rather than silently degrading.
type allProvidersSaturatedError struct{}

func (allProvidersSaturatedError) Error() string {
	return "translate: all providers rate-exhausted"
}

type registeredProvider struct {
	cfg    ProviderConfig
	budget *providerBudget
}

// Facade is the Translator Facade. It implements pipeline.Translator.
type Facade struct {
	providers []*registeredProvider
	cache     *cache.Cache
	logger    logging.Logger

	BlockCharBudget int
	MaxRetries      int
	PacingMin       time.Duration
	PacingMax       time.Duration
	backoffBase     time.Duration
	backoffCap      time.Duration
}

// New creates a Facade. Providers are tried in the order given, strict
// priority first to last.
func New(providers []ProviderConfig, c *cache.Cache, logger logging.Logger) *Facade {
	regs := make([]*registeredProvider, len(providers))
	for i, p := range providers {
		regs[i] = &registeredProvider{cfg: p, budget: newProviderBudget(p.RequestsPerHour)}
	}
	return &Facade{
		providers:       regs,
		cache:           c,
		logger:          logger,
		BlockCharBudget: defaultBlockCharBudget,
		MaxRetries:      3,
		PacingMin:       100 * time.Millisecond,
		PacingMax:       500 * time.Millisecond,
		backoffBase:     500 * time.Millisecond,
		backoffCap:      8 * time.Second,
	}
}

// Translate implements pipeline.Translator: it preserves every
// segment's start/end, replaces text with the translation, and retains
// the original under OriginalText.
func (f *Facade) Translate(ctx context.Context, segments []models.Segment, sourceLang, targetLang string) ([]models.Segment, error) {
	out := make([]models.Segment, len(segments))
	copy(out, segments)

	blocks := chunkSegments(segments, f.BlockCharBudget)

	for bi, b := range blocks {
		translated, err := f.translateBlockCached(ctx, b.text, sourceLang, targetLang)
		if err != nil {
			var saturated allProvidersSaturatedError
			if errors.As(err, &saturated) {
				return nil, errs.New(models.ErrTranslationFailed, "all translation providers exhausted")
			}
			// Hard failure surviving retries/fallback: emit this block's
			// originals and continue. out[idx] already holds the
			// original segment, so there is nothing further to do.
			f.logger.WithFields(logging.Fields{"block": bi}).WithError(err).
				Warn("translation block failed, emitting originals")
		} else {
			byIndex := parseBlock(translated)
			for _, idx := range b.indices {
				if text, ok := byIndex[idx]; ok {
					out[idx].OriginalText = segments[idx].Text
					out[idx].Text = text
				}
			}
		}

		if bi < len(blocks)-1 {
			if err := f.pace(ctx); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

// pace sleeps a random duration in [PacingMin, PacingMax] between
// provider calls.
func (f *Facade) pace(ctx context.Context) error {
	span := f.PacingMax - f.PacingMin
	d := f.PacingMin
	if span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (f *Facade) translateBlockCached(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	key := cacheKey(sourceLang, targetLang, text)
	val, ok, err := f.cache.Get(ctx, key, func(ctx context.Context, _ string) (interface{}, bool, error) {
		result, err := f.translateBlockWithFallback(ctx, text, sourceLang, targetLang)
		if err != nil {
			return nil, false, err
		}
		return result, true, nil
	})
	if !ok {
		return "", err
	}
	return val.(string), nil
}

// translateBlockWithFallback walks the priority-ordered provider list,
// retrying a provider's own transient (non-rate-limit) failures with
// capped backoff before moving on to the next provider.
func (f *Facade) translateBlockWithFallback(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	tried := 0
	allRateLimited := true

	for _, rp := range f.providers {
		now := time.Now()
		if !rp.budget.allow(now) {
			continue
		}
		tried++

		backoff := f.backoffBase
		for attempt := 0; attempt <= f.MaxRetries; attempt++ {
			result, err := rp.cfg.Provider.Translate(ctx, text, sourceLang, targetLang)
			if err == nil {
				rp.budget.recordCall(time.Now())
				return result, nil
			}

			var rateErr *RateExhaustedError
			if errors.As(err, &rateErr) {
				rp.budget.markSaturated(time.Now())
				break
			}

			allRateLimited = false
			if attempt == f.MaxRetries {
				break
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < f.backoffCap {
				backoff *= 2
			}
		}
	}

	if tried == 0 || allRateLimited {
		return "", allProvidersSaturatedError{}
	}
	return "", fmt.Errorf("translate: all attempted providers failed for this block")
}

// cacheKey is sha256(sourceLang||targetLang||normalized_text), hex
// encoded, so identical text is never translated twice.
func cacheKey(sourceLang, targetLang, text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(sourceLang + "||" + targetLang + "||" + normalized))
	return hex.EncodeToString(sum[:])
}
