// Package pipeline implements the Pipeline Driver state machine: it
// walks a job through queued -> processing -> extracting ->
// transcribing -> {translating, emitting} -> emitting -> completed,
// calling out to narrow stage interfaces for everything that is an
// external collaborator.
//
// Retry uses a capped exponential backoff hand-rolled in the same idiom
// as a reconnect loop: double on failure, cap at a ceiling, reset after
// a sustained success.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"frameworks/internal/errs"
	"frameworks/internal/jobrepo"
	"frameworks/internal/quota"
	"frameworks/pkg/logging"
	"frameworks/pkg/models"
)

// ExtractResult is the Extractor stage's output: a mono 16kHz audio
// stream already persisted to the blob store, plus a local path for the
// Transcriber, and the probed media duration.
type ExtractResult struct {
	LocalAudioPath  string
	BlobKey         string
	DurationSeconds int
}

// Extractor is the audio-extraction/probe collaborator, deliberately
// out of scope as an in-process component: the media decoder is an
// external collaborator reached through this narrow interface.
type Extractor interface {
	Extract(ctx context.Context, tenantID, sourceHandle string, kind models.JobKind) (*ExtractResult, error)
}

// TranscribeResult is the Transcriber stage's output.
type TranscribeResult struct {
	Segments         []models.Segment
	DetectedLanguage string
}

// Transcriber is the speech-to-segments collaborator, a callable black
// box whose model is a configuration knob.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, sourceLanguage, modelTier string) (*TranscribeResult, error)
}

// Translator is implemented by the Translator Facade (internal/translate).
type Translator interface {
	Translate(ctx context.Context, segments []models.Segment, sourceLang, targetLang string) ([]models.Segment, error)
}

// Emitter is implemented by the Subtitle Emitter (internal/subtitles).
type Emitter interface {
	Emit(segments []models.Segment) (srt, vtt, js []byte, err error)
}

// Uploader is the narrow slice of the Blob Store Adapter the driver
// needs to persist emitted artifacts.
type Uploader interface {
	Put(ctx context.Context, key, tenantID, contentType string, body io.Reader, size int64, ttl time.Duration) error
}

// StageTimeouts are the soft per-stage timeouts.
type StageTimeouts struct {
	Extract    time.Duration
	Transcribe time.Duration
	Translate  time.Duration
	Emit       time.Duration
}

// DefaultStageTimeouts is a reasonable starting point for each stage.
func DefaultStageTimeouts() StageTimeouts {
	return StageTimeouts{
		Extract:    5 * time.Minute,
		Transcribe: 60 * time.Minute,
		Translate:  30 * time.Minute,
		Emit:       2 * time.Minute,
	}
}

// Driver is the Pipeline Driver.
type Driver struct {
	Repo        *jobrepo.Repository
	Ledger      *quota.Ledger
	Extractor   Extractor
	Transcriber Transcriber
	Translator  Translator
	Emitter     Emitter
	Uploader    Uploader
	Logger      logging.Logger

	Timeouts    StageTimeouts
	MaxRetries  int
	ArtifactTTL time.Duration

	backoffBase time.Duration
	backoffCap  time.Duration
}

// New creates a Driver with sensible retry and timeout defaults.
func New(repo *jobrepo.Repository, ledger *quota.Ledger, extractor Extractor, transcriber Transcriber, translator Translator, emitter Emitter, uploader Uploader, logger logging.Logger) *Driver {
	return &Driver{
		Repo:        repo,
		Ledger:      ledger,
		Extractor:   extractor,
		Transcriber: transcriber,
		Translator:  translator,
		Emitter:     emitter,
		Uploader:    uploader,
		Logger:      logger,
		Timeouts:    DefaultStageTimeouts(),
		MaxRetries:  3,
		ArtifactTTL: 24 * time.Hour,
		backoffBase: 500 * time.Millisecond,
		backoffCap:  10 * time.Second,
	}
}

// runState accumulates in-memory artifacts produced over the course of
// one Run call. It is never persisted: if the driver crashes and Run is
// invoked again for the same job, the relevant stages simply re-execute
// (idempotent on retry) to repopulate it.
type runState struct {
	audioPath          string
	segments           []models.Segment
	translatedSegments []models.Segment
	detectedLanguage   string
}

// Run drives jobID through the state machine from its current persisted
// status to a terminal one. Resuming from any non-terminal status
// re-derives whatever upstream stage output that status's work depends
// on, which is what makes crash recovery safe: the job record, not
// in-memory state, is the source of truth for where to resume.
func (d *Driver) Run(ctx context.Context, jobID string) error {
	job, err := d.Repo.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("pipeline: load job: %w", err)
	}

	state := &runState{}

	for !job.Status.Terminal() {
		var next models.Status
		var work func(context.Context) error

		switch job.Status {
		case models.StatusQueued:
			next = models.StatusProcessing
			work = func(ctx context.Context) error { return d.doProcessing(ctx, job) }
		case models.StatusProcessing:
			next = models.StatusExtracting
			work = func(ctx context.Context) error { return d.doExtracting(ctx, job, state) }
		case models.StatusExtracting:
			next = models.StatusTranscribing
			work = func(ctx context.Context) error { return d.doTranscribing(ctx, job, state) }
		case models.StatusTranscribing:
			if err := d.ensureAudioAndSegments(ctx, job, state); err != nil {
				return d.handleFailure(ctx, job, err)
			}
			if d.needsTranslation(job, state) {
				next = models.StatusTranslating
				work = func(ctx context.Context) error { return d.doTranslating(ctx, job, state) }
			} else {
				next = models.StatusEmitting
				work = func(ctx context.Context) error { return d.doEmitting(ctx, job, state) }
			}
		case models.StatusTranslating:
			if err := d.ensureAudioAndSegments(ctx, job, state); err != nil {
				return d.handleFailure(ctx, job, err)
			}
			next = models.StatusEmitting
			work = func(ctx context.Context) error { return d.doEmitting(ctx, job, state) }
		case models.StatusEmitting:
			if err := d.ensureAudioAndSegments(ctx, job, state); err != nil {
				return d.handleFailure(ctx, job, err)
			}
			if d.needsTranslation(job, state) && state.translatedSegments == nil {
				if err := d.doTranslating(ctx, job, state); err != nil {
					return d.handleFailure(ctx, job, err)
				}
			}
			next = models.StatusCompleted
			work = func(ctx context.Context) error { return d.doComplete(ctx, job) }
		default:
			return fmt.Errorf("pipeline: unexpected status %s", job.Status)
		}

		if err := d.runWithRetry(ctx, next, work); err != nil {
			return d.handleFailure(ctx, job, err)
		}

		if err := d.Repo.Transition(ctx, job.ID, job.Version, job.Status, next); err != nil {
			return fmt.Errorf("pipeline: transition %s->%s: %w", job.Status, next, err)
		}
		job.Status = next
		job.Version++
	}

	return nil
}

// ensureAudioAndSegments re-derives the audio path and transcript when
// resuming a job past extracting/transcribing without in-memory state
// (i.e. after a crash): both stages are idempotent, so re-running them
// is safe and produces contract-equivalent output.
func (d *Driver) ensureAudioAndSegments(ctx context.Context, job *models.Job, state *runState) error {
	if state.audioPath == "" {
		if err := d.doExtracting(ctx, job, state); err != nil {
			return err
		}
	}
	if state.segments == nil {
		if err := d.doTranscribing(ctx, job, state); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) needsTranslation(job *models.Job, state *runState) bool {
	if !job.Translate || job.TargetLanguage == nil || *job.TargetLanguage == "" {
		return false
	}
	return !strings.EqualFold(*job.TargetLanguage, state.detectedLanguage)
}

func (d *Driver) doProcessing(ctx context.Context, job *models.Job) error {
	if job.ReservationID == nil {
		return errs.New(models.ErrInternal, "job has no reservation")
	}
	res, err := d.Ledger.GetReservation(ctx, *job.ReservationID)
	if err != nil {
		return errs.Wrap(models.ErrInternal, "load reservation", err)
	}
	if res.State != models.ReservationHeld {
		return errs.New(models.ErrInternal, "reservation is no longer held")
	}
	return nil
}

func (d *Driver) doExtracting(ctx context.Context, job *models.Job, state *runState) error {
	result, err := d.Extractor.Extract(ctx, job.TenantID, job.SourceHandle, job.Kind)
	if err != nil {
		return err
	}
	state.audioPath = result.LocalAudioPath

	if job.ReservationID != nil {
		res, err := d.Ledger.GetReservation(ctx, *job.ReservationID)
		if err != nil {
			return errs.Wrap(models.ErrInternal, "load reservation", err)
		}
		probedMinutes := float64((result.DurationSeconds + 59) / 60)
		if probedMinutes > res.Amount {
			return errs.New(models.ErrQuotaExceeded, "probed duration exceeds reservation")
		}
	}

	if err := d.Repo.SetDuration(ctx, job.ID, result.DurationSeconds); err != nil {
		return errs.Wrap(models.ErrInternal, "persist duration", err)
	}
	return nil
}

func (d *Driver) doTranscribing(ctx context.Context, job *models.Job, state *runState) error {
	result, err := d.Transcriber.Transcribe(ctx, state.audioPath, job.SourceLanguage, job.ModelTier)
	if err != nil {
		return err
	}

	segments := dropEmptySegments(result.Segments)
	segments = mergeAdjacentSegments(segments)

	state.segments = segments
	state.detectedLanguage = result.DetectedLanguage

	if err := d.Repo.SetDetectedLanguage(ctx, job.ID, result.DetectedLanguage); err != nil {
		return errs.Wrap(models.ErrInternal, "persist detected language", err)
	}
	return nil
}

func (d *Driver) doTranslating(ctx context.Context, job *models.Job, state *runState) error {
	translated, err := d.Translator.Translate(ctx, state.segments, state.detectedLanguage, *job.TargetLanguage)
	if err != nil {
		return err
	}
	state.translatedSegments = translated
	return nil
}

func (d *Driver) doEmitting(ctx context.Context, job *models.Job, state *runState) error {
	keys, err := d.emitAndUpload(ctx, job, state.segments, "")
	if err != nil {
		return err
	}

	if state.translatedSegments != nil {
		tKeys, err := d.emitAndUpload(ctx, job, state.translatedSegments, "translated")
		if err != nil {
			return err
		}
		keys.SRTTranslated = tKeys.SRT
		keys.VTTTranslated = tKeys.VTT
	}

	if err := d.Repo.SetArtifacts(ctx, job.ID, keys); err != nil {
		return errs.Wrap(models.ErrInternal, "persist artifact keys", err)
	}
	return nil
}

func (d *Driver) emitAndUpload(ctx context.Context, job *models.Job, segments []models.Segment, suffix string) (models.ArtifactKeys, error) {
	srt, vtt, js, err := d.Emitter.Emit(segments)
	if err != nil {
		return models.ArtifactKeys{}, errs.Wrap(models.ErrEmitFailed, "emit subtitles", err)
	}

	hash := job.ShortID
	if suffix != "" {
		hash = job.ShortID + "-" + suffix
	}

	keys := models.ArtifactKeys{}
	var putErr error
	keys.SRT, putErr = d.upload(ctx, job.TenantID, models.BlobKindSubtitleSRT, hash, ".srt", "application/x-subrip", srt)
	if putErr != nil {
		return models.ArtifactKeys{}, putErr
	}
	keys.VTT, putErr = d.upload(ctx, job.TenantID, models.BlobKindSubtitleVTT, hash, ".vtt", "text/vtt", vtt)
	if putErr != nil {
		return models.ArtifactKeys{}, putErr
	}
	if suffix == "" {
		keys.JSON, putErr = d.upload(ctx, job.TenantID, models.BlobKindSubtitleJSON, hash, ".json", "application/json", js)
		if putErr != nil {
			return models.ArtifactKeys{}, putErr
		}
	}
	return keys, nil
}

func (d *Driver) upload(ctx context.Context, tenantID string, kind models.BlobKind, hash, ext, contentType string, body []byte) (string, error) {
	key := fmt.Sprintf("%s/%s/%s%s", tenantID, kind, hash, ext)
	if err := d.Uploader.Put(ctx, key, tenantID, contentType, bytes.NewReader(body), int64(len(body)), d.ArtifactTTL); err != nil {
		return "", errs.Wrap(models.ErrEmitFailed, "upload artifact", err)
	}
	return key, nil
}

func (d *Driver) doComplete(ctx context.Context, job *models.Job) error {
	if job.ReservationID == nil {
		return nil
	}
	if err := d.Ledger.Commit(ctx, *job.ReservationID); err != nil {
		return errs.Wrap(models.ErrInternal, "commit reservation", err)
	}
	return nil
}

// handleFailure releases the reservation and records the terminal
// failure or cancellation, translating a context cancellation into
// StatusCancelled and anything else into StatusFailed. A client-issued
// cancel delivers the cancellation token to the worker via ctx.
func (d *Driver) handleFailure(ctx context.Context, job *models.Job, cause error) error {
	release := context.Background()
	if job.ReservationID != nil {
		if err := d.Ledger.Release(release, *job.ReservationID); err != nil && !errors.Is(err, quota.ErrReservationResolved) {
			d.Logger.WithFields(logging.Fields{"job_id": job.ID}).WithError(err).Error("failed to release reservation")
		}
	}

	jobErr := toJobError(cause)
	cancelled := errors.Is(ctx.Err(), context.Canceled)

	toStatus := models.StatusFailed
	if cancelled {
		toStatus = models.StatusCancelled
		jobErr.Kind = models.ErrCancelled
	}

	if err := d.Repo.Fail(release, job.ID, job.Version, job.Status, toStatus, jobErr); err != nil {
		d.Logger.WithFields(logging.Fields{"job_id": job.ID}).WithError(err).Error("failed to record terminal status")
		return err
	}
	job.Status = toStatus
	return cause
}

func toJobError(err error) models.JobError {
	var stageErr *errs.StageError
	if errors.As(err, &stageErr) {
		return models.JobError{Kind: stageErr.Kind, Message: stageErr.Message}
	}
	return models.JobError{Kind: models.ErrInternal, Message: err.Error()}
}

// runWithRetry executes fn under the stage's soft timeout, retrying a
// StageError marked Retryable up to MaxRetries times with capped
// exponential backoff. Non-retryable failures return immediately.
func (d *Driver) runWithRetry(ctx context.Context, stage models.Status, fn func(context.Context) error) error {
	timeout := d.stageTimeout(stage)
	backoff := d.backoffBase

	var lastErr error
	for attempt := 0; attempt <= d.MaxRetries; attempt++ {
		stageCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			stageCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		err := fn(stageCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(ctx.Err(), context.Canceled) {
			return err
		}

		var stageErr *errs.StageError
		if !errors.As(err, &stageErr) || !stageErr.Retryable || attempt == d.MaxRetries {
			return err
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff = time.Duration(math.Min(float64(backoff*2), float64(d.backoffCap)))
	}
	return lastErr
}

func (d *Driver) stageTimeout(stage models.Status) time.Duration {
	switch stage {
	case models.StatusExtracting:
		return d.Timeouts.Extract
	case models.StatusTranscribing:
		return d.Timeouts.Transcribe
	case models.StatusTranslating:
		return d.Timeouts.Translate
	case models.StatusEmitting:
		return d.Timeouts.Emit
	default:
		return 0
	}
}
