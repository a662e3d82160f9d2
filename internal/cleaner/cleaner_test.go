package cleaner

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"frameworks/internal/blobstore"
	"frameworks/pkg/models"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeStore struct {
	objects []blobstore.Object
	deleted []string
	delErr  error
}

func (s *fakeStore) ListOlderThan(ctx context.Context, prefix string, cutoff time.Time) ([]blobstore.Object, error) {
	return s.objects, nil
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	if s.delErr != nil {
		return s.delErr
	}
	s.deleted = append(s.deleted, key)
	return nil
}

type fakeRepo struct {
	active []*models.Job
}

func (r *fakeRepo) ListActive(ctx context.Context) ([]*models.Job, error) {
	return r.active, nil
}

func TestRun_DeletesObjectsPastTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{objects: []blobstore.Object{
		{Key: "t1/audio/aaa.wav", UploadedAt: now.Add(-25 * time.Hour), TTL: 24 * time.Hour},
		{Key: "t1/srt/bbb.srt", UploadedAt: now.Add(-1 * time.Hour), TTL: 24 * time.Hour},
	}}
	repo := &fakeRepo{}
	c := New(store, repo, testLogger())

	deleted, err := c.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", deleted)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "t1/audio/aaa.wav" {
		t.Fatalf("expected the stale object deleted, got %+v", store.deleted)
	}
}

func TestRun_SkipsObjectsWithoutTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{objects: []blobstore.Object{
		{Key: "t1/audio/aaa.wav", UploadedAt: now.Add(-1000 * time.Hour), TTL: 0},
	}}
	c := New(store, &fakeRepo{}, testLogger())

	deleted, err := c.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected no deletions for an object with no recorded TTL, got %d", deleted)
	}
}

func TestRun_NeverDeletesArtifactOfActiveJob(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	staleKey := "t1/srt/ccc.srt"
	store := &fakeStore{objects: []blobstore.Object{
		{Key: staleKey, UploadedAt: now.Add(-48 * time.Hour), TTL: 24 * time.Hour},
	}}
	repo := &fakeRepo{active: []*models.Job{
		{Status: models.StatusTranscribing, Artifacts: models.ArtifactKeys{SRT: staleKey}},
	}}
	c := New(store, repo, testLogger())

	deleted, err := c.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected the active job's artifact to be protected, got %d deletions", deleted)
	}
	if len(store.deleted) != 0 {
		t.Fatalf("expected no Delete calls, got %+v", store.deleted)
	}
}

func TestRun_DeleteFailureDoesNotAbortSweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		objects: []blobstore.Object{
			{Key: "t1/audio/aaa.wav", UploadedAt: now.Add(-48 * time.Hour), TTL: 24 * time.Hour},
		},
		delErr: context.DeadlineExceeded,
	}
	c := New(store, &fakeRepo{}, testLogger())

	deleted, err := c.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("expected Run to tolerate a single Delete failure, got %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected 0 successful deletions, got %d", deleted)
	}
}
