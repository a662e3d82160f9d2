// Package ratelimit implements a sliding-window rate limiter: an
// INCR+EXPIRE window policy over Redis, shared across every ingress
// process.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"frameworks/pkg/models"
)

// Rule is the (limit, window) pair for one action under one plan.
type Rule struct {
	Limit  int64
	Window time.Duration
}

// Config is the full {action: {plan: rule}} table, e.g. api_calls,
// uploads, transcriptions.
type Config map[string]map[models.Plan]Rule

// DefaultConfig is a reasonable starting point for each action/plan pair.
func DefaultConfig() Config {
	return Config{
		"api_calls": {
			models.PlanFree:       {Limit: 100, Window: time.Hour},
			models.PlanStarter:    {Limit: 1000, Window: time.Hour},
			models.PlanPro:        {Limit: 1000, Window: time.Hour},
			models.PlanPremium:    {Limit: 1000, Window: time.Hour},
			models.PlanEnterprise: {Limit: 10000, Window: time.Hour},
		},
		"uploads": {
			models.PlanFree:       {Limit: 3, Window: 24 * time.Hour},
			models.PlanStarter:    {Limit: 50, Window: 24 * time.Hour},
			models.PlanPro:        {Limit: 50, Window: 24 * time.Hour},
			models.PlanPremium:    {Limit: 50, Window: 24 * time.Hour},
			models.PlanEnterprise: {Limit: 1000, Window: 24 * time.Hour},
		},
		"transcriptions": {
			models.PlanFree:       {Limit: 5, Window: time.Hour},
			models.PlanStarter:    {Limit: 50, Window: time.Hour},
			models.PlanPro:        {Limit: 50, Window: time.Hour},
			models.PlanPremium:    {Limit: 50, Window: time.Hour},
			models.PlanEnterprise: {Limit: 500, Window: time.Hour},
		},
	}
}

func (c Config) rule(action string, plan models.Plan) (Rule, bool) {
	byPlan, ok := c[action]
	if !ok {
		return Rule{}, false
	}
	if r, ok := byPlan[plan]; ok {
		return r, true
	}
	r, ok := byPlan[models.PlanFree]
	return r, ok
}

// Decision is the result of checkAndConsume.
type Decision struct {
	Allowed   bool
	Limit     int64
	Current   int64
	Remaining int64
	ResetIn   time.Duration
}

// Limiter is the sliding-window rate limiter, backed by Redis so counts
// are shared across every ingress process via per-key atomic increment
// with TTL.
type Limiter struct {
	client goredis.UniversalClient
	cfg    Config
}

// New creates a Limiter.
func New(client goredis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{client: client, cfg: cfg}
}

func counterKey(action, subject string) string {
	return fmt.Sprintf("rate_limit:%s:%s", action, subject)
}

// Check performs an atomic read-modify-write check-and-consume: the
// first increment on a key sets its TTL to the window length, and the
// counter naturally resets on expiry.
func (l *Limiter) Check(ctx context.Context, subject, action string, plan models.Plan) (Decision, error) {
	rule, ok := l.cfg.rule(action, plan)
	if !ok {
		return Decision{Allowed: true}, fmt.Errorf("ratelimit: unknown action %q", action)
	}

	key := counterKey(action, subject)
	current, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: incr: %w", err)
	}
	if current == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("ratelimit: expire: %w", err)
		}
	}

	if current > rule.Limit {
		ttl, err := l.client.TTL(ctx, key).Result()
		if err != nil {
			return Decision{}, fmt.Errorf("ratelimit: ttl: %w", err)
		}
		if ttl < 0 {
			ttl = rule.Window
		}
		return Decision{Allowed: false, Limit: rule.Limit, Current: current, ResetIn: ttl}, nil
	}

	return Decision{
		Allowed:   true,
		Limit:     rule.Limit,
		Current:   current,
		Remaining: rule.Limit - current,
	}, nil
}

// Reset clears a subject's counter for an action.
func (l *Limiter) Reset(ctx context.Context, subject, action string) error {
	return l.client.Del(ctx, counterKey(action, subject)).Err()
}

func floodKey(ip string) string { return "flood_check:" + ip }

// IsFlooding implements a simple IP-flood defense: once an IP's request
// count within window exceeds threshold, callers should treat it as
// abusive.
func (l *Limiter) IsFlooding(ctx context.Context, ip string, threshold int64, window time.Duration) (bool, error) {
	key := floodKey(ip)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: flood incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, window).Err(); err != nil {
			return false, fmt.Errorf("ratelimit: flood expire: %w", err)
		}
	}
	return count > threshold, nil
}

func blacklistKey(subject string) string { return "blacklist:" + subject }

// Blacklist temporarily bans a subject.
func (l *Limiter) Blacklist(ctx context.Context, subject string, ttl time.Duration) error {
	return l.client.Set(ctx, blacklistKey(subject), 1, ttl).Err()
}

// IsBlacklisted reports whether a subject is currently banned.
func (l *Limiter) IsBlacklisted(ctx context.Context, subject string) (bool, error) {
	n, err := l.client.Exists(ctx, blacklistKey(subject)).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: blacklist check: %w", err)
	}
	return n > 0, nil
}
