// Package jobrepo is the Job Repository: Postgres-backed CRUD plus
// status-transition updates guarded by optimistic concurrency, using
// $N placeholders, QueryRowContext/ExecContext, and COALESCE for
// nullable columns.
package jobrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"frameworks/pkg/models"
)

// ErrVersionConflict is returned when a status transition's CAS
// precondition (id, version) no longer matches the stored row —
// another writer mutated the job first.
var ErrVersionConflict = errors.New("jobrepo: version conflict")

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("jobrepo: not found")

// Repository is the Job Repository.
type Repository struct {
	db *sql.DB
}

// New creates a Repository.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new job row in StatusQueued, version 0.
func (r *Repository) Create(ctx context.Context, job *models.Job) error {
	job.Status = models.StatusQueued
	job.Version = 0

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, short_id, tenant_id, kind, source_handle, source_language,
			target_language, translate, model_tier, status, version,
			reservation_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, now())
	`, job.ID, job.ShortID, job.TenantID, string(job.Kind), job.SourceHandle, job.SourceLanguage,
		job.TargetLanguage, job.Translate, job.ModelTier, string(job.Status), job.ReservationID)
	if err != nil {
		return fmt.Errorf("jobrepo: create: %w", err)
	}
	return nil
}

const selectColumns = `
	id, short_id, tenant_id, kind, source_handle, source_language,
	detected_language, target_language, translate, model_tier, status, version,
	duration_seconds, reservation_id,
	srt_key, vtt_key, json_key, srt_translated_key, vtt_translated_key,
	error_kind, error_message,
	created_at, started_at, completed_at
`

func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	var job models.Job
	var kind, status string
	var errKind, errMsg sql.NullString
	var srtKey, vttKey, jsonKey, srtTKey, vttTKey sql.NullString

	err := row.Scan(
		&job.ID, &job.ShortID, &job.TenantID, &kind, &job.SourceHandle, &job.SourceLanguage,
		&job.DetectedLanguage, &job.TargetLanguage, &job.Translate, &job.ModelTier, &status, &job.Version,
		&job.DurationSeconds, &job.ReservationID,
		&srtKey, &vttKey, &jsonKey,
		&srtTKey, &vttTKey,
		&errKind, &errMsg,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Artifacts = models.ArtifactKeys{
		SRT: srtKey.String, VTT: vttKey.String, JSON: jsonKey.String,
		SRTTranslated: srtTKey.String, VTTTranslated: vttTKey.String,
	}

	job.Kind = models.JobKind(kind)
	job.Status = models.Status(status)
	if errKind.Valid {
		job.Error = &models.JobError{Kind: models.ErrorKind(errKind.String), Message: errMsg.String}
	}
	return &job, nil
}

// Get fetches a job by its primary ID.
func (r *Repository) Get(ctx context.Context, id string) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobrepo: get: %w", err)
	}
	return job, nil
}

// GetByShortID fetches a job by its public opaque identifier.
func (r *Repository) GetByShortID(ctx context.Context, shortID string) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM jobs WHERE short_id = $1`, shortID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobrepo: get by short id: %w", err)
	}
	return job, nil
}

// ListByTenant lists a tenant's jobs, most recent first.
func (r *Repository) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+selectColumns+` FROM jobs WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("jobrepo: list by tenant: %w", err)
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobrepo: scan: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// Transition moves a job from its expected current (status, version) to
// a new status, incrementing version by one. It fails closed: a
// mismatched version — meaning another writer already moved the job —
// returns ErrVersionConflict without applying anything, and a
// DAG-illegal edge is rejected before any query runs.
func (r *Repository) Transition(ctx context.Context, id string, expectedVersion int64, from, to models.Status) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("jobrepo: illegal transition %s -> %s", from, to)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, version = version + 1,
			started_at = CASE WHEN $1 = 'processing' AND started_at IS NULL THEN now() ELSE started_at END,
			completed_at = CASE WHEN $1 IN ('completed', 'failed', 'cancelled') THEN now() ELSE completed_at END
		WHERE id = $2 AND version = $3 AND status = $4
	`, string(to), id, expectedVersion, string(from))
	if err != nil {
		return fmt.Errorf("jobrepo: transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("jobrepo: transition rows affected: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

// Fail records a terminal failure or cancellation with its error
// descriptor, via the same CAS-guarded transition as any other edge.
// to must be StatusFailed or StatusCancelled.
func (r *Repository) Fail(ctx context.Context, id string, expectedVersion int64, from, to models.Status, jobErr models.JobError) error {
	if to != models.StatusFailed && to != models.StatusCancelled {
		return fmt.Errorf("jobrepo: Fail called with non-terminal-failure status %s", to)
	}
	if !models.CanTransition(from, to) {
		return fmt.Errorf("jobrepo: illegal transition %s -> %s", from, to)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, version = version + 1, completed_at = now(),
			error_kind = $2, error_message = $3
		WHERE id = $4 AND version = $5 AND status = $6
	`, string(to), string(jobErr.Kind), jobErr.Message, id, expectedVersion, string(from))
	if err != nil {
		return fmt.Errorf("jobrepo: fail: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("jobrepo: fail rows affected: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

// SetDetectedLanguage records the language the Transcriber stage detected.
func (r *Repository) SetDetectedLanguage(ctx context.Context, id, language string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE jobs SET detected_language = $1 WHERE id = $2`, language, id)
	if err != nil {
		return fmt.Errorf("jobrepo: set detected language: %w", err)
	}
	return nil
}

// SetDuration records the probed media duration, used by Job.DurationMinutes.
func (r *Repository) SetDuration(ctx context.Context, id string, seconds int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE jobs SET duration_seconds = $1 WHERE id = $2`, seconds, id)
	if err != nil {
		return fmt.Errorf("jobrepo: set duration: %w", err)
	}
	return nil
}

// SetArtifacts records emitted blob keys for one or more subtitle formats.
// Only non-empty fields in keys are written.
func (r *Repository) SetArtifacts(ctx context.Context, id string, keys models.ArtifactKeys) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET
			srt_key = COALESCE(NULLIF($1, ''), srt_key),
			vtt_key = COALESCE(NULLIF($2, ''), vtt_key),
			json_key = COALESCE(NULLIF($3, ''), json_key),
			srt_translated_key = COALESCE(NULLIF($4, ''), srt_translated_key),
			vtt_translated_key = COALESCE(NULLIF($5, ''), vtt_translated_key)
		WHERE id = $6
	`, keys.SRT, keys.VTT, keys.JSON, keys.SRTTranslated, keys.VTTTranslated, id)
	if err != nil {
		return fmt.Errorf("jobrepo: set artifacts: %w", err)
	}
	return nil
}

// ListActive returns jobs not in a terminal status, ordered oldest
// first. The Cleaner uses it to protect in-flight artifacts from the TTL
// sweep; nothing re-dispatches the returned jobs after a restart.
func (r *Repository) ListActive(ctx context.Context) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+selectColumns+` FROM jobs
		WHERE status NOT IN ('completed', 'failed', 'cancelled')
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("jobrepo: list active: %w", err)
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobrepo: scan: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}
