// Package cleaner implements the TTL purge sweep: it deletes blob store
// objects whose uploadedAt+autoDeleteTtl has elapsed, while never
// touching an artifact still referenced by a non-terminal job.
//
// Scheduling uses github.com/robfig/cron/v3 rather than a hand-rolled
// ticker loop.
package cleaner

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"frameworks/internal/blobstore"
	"frameworks/pkg/logging"
	"frameworks/pkg/models"
)

// BlobLister is the subset of *blobstore.Store the Cleaner needs,
// narrowed the way internal/pipeline narrows its own collaborators to
// small interfaces for testability.
type BlobLister interface {
	ListOlderThan(ctx context.Context, prefix string, cutoff time.Time) ([]blobstore.Object, error)
	Delete(ctx context.Context, key string) error
}

// ActiveJobLister is the subset of *jobrepo.Repository the Cleaner needs.
type ActiveJobLister interface {
	ListActive(ctx context.Context) ([]*models.Job, error)
}

// Cleaner sweeps the blob store for objects past their TTL.
type Cleaner struct {
	Store  BlobLister
	Repo   ActiveJobLister
	Logger logging.Logger

	// Prefix scopes the sweep; empty means the whole bucket.
	Prefix string
}

// New creates a Cleaner.
func New(store BlobLister, repo ActiveJobLister, logger logging.Logger) *Cleaner {
	return &Cleaner{Store: store, Repo: repo, Logger: logger}
}

// Run sweeps once, deleting every object whose uploadedAt+TTL has
// elapsed as of now, except those still referenced by an active job's
// artifact keys. It is the explicit entry point used by tests and the
// `clean` CLI command, separate from the cron schedule below.
func (c *Cleaner) Run(ctx context.Context, now time.Time) (int, error) {
	protected, err := c.protectedKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("cleaner: load active jobs: %w", err)
	}

	candidates, err := c.Store.ListOlderThan(ctx, c.Prefix, now)
	if err != nil {
		return 0, fmt.Errorf("cleaner: list objects: %w", err)
	}

	deleted := 0
	for _, obj := range candidates {
		if protected[obj.Key] {
			continue
		}
		ttl := obj.TTL
		if ttl <= 0 {
			continue // no recorded TTL: never auto-delete
		}
		if now.Sub(obj.UploadedAt) < ttl {
			continue
		}
		if err := c.Store.Delete(ctx, obj.Key); err != nil {
			c.Logger.WithFields(logging.Fields{"key": obj.Key}).WithError(err).Error("cleaner: failed to delete object")
			continue
		}
		deleted++
	}

	c.Logger.WithFields(logging.Fields{"deleted": deleted, "candidates": len(candidates)}).Info("cleaner sweep complete")
	return deleted, nil
}

// protectedKeys returns every artifact key still owned by a non-terminal
// job — the Cleaner must never delete these regardless of apparent age,
// so a sweep stays safe to run concurrently with active jobs.
func (c *Cleaner) protectedKeys(ctx context.Context) (map[string]bool, error) {
	active, err := c.Repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]bool)
	for _, job := range active {
		for _, k := range []string{
			job.Artifacts.SRT, job.Artifacts.VTT, job.Artifacts.JSON,
			job.Artifacts.SRTTranslated, job.Artifacts.VTTTranslated,
		} {
			if k != "" {
				keys[k] = true
			}
		}
	}
	return keys, nil
}

// Schedule starts a cron job running Run on the given cron expression
// (e.g. "0 * * * *" for hourly) until the returned cron.Cron is stopped.
func (c *Cleaner) Schedule(spec string) (*cron.Cron, error) {
	sched := cron.New()
	_, err := sched.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := c.Run(ctx, time.Now()); err != nil {
			c.Logger.WithError(err).Error("cleaner: scheduled sweep failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("cleaner: invalid schedule %q: %w", spec, err)
	}
	sched.Start()
	return sched, nil
}
