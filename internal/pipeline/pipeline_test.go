package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"

	"frameworks/internal/errs"
	"frameworks/internal/jobrepo"
	"frameworks/internal/quota"
	"frameworks/pkg/models"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeExtractor/fakeTranscriber/fakeTranslator/fakeEmitter/fakeUploader
// stand in for the external collaborators the driver calls out to.

type fakeExtractor struct {
	durationSeconds int
	err             error
}

func (f *fakeExtractor) Extract(ctx context.Context, tenantID, sourceHandle string, kind models.JobKind) (*ExtractResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ExtractResult{LocalAudioPath: "/tmp/audio.wav", BlobKey: "audio-key", DurationSeconds: f.durationSeconds}, nil
}

type fakeTranscriber struct {
	segments []models.Segment
	lang     string
	err      error
	calls    int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath, sourceLanguage, modelTier string) (*TranscribeResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &TranscribeResult{Segments: f.segments, DetectedLanguage: f.lang}, nil
}

type fakeTranslator struct {
	out []models.Segment
	err error
}

func (f *fakeTranslator) Translate(ctx context.Context, segments []models.Segment, sourceLang, targetLang string) ([]models.Segment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

type fakeEmitter struct {
	err error
}

func (f *fakeEmitter) Emit(segments []models.Segment) ([]byte, []byte, []byte, error) {
	if f.err != nil {
		return nil, nil, nil, f.err
	}
	return []byte("srt"), []byte("vtt"), []byte("json"), nil
}

type fakeUploader struct {
	puts []string
	err  error
}

func (f *fakeUploader) Put(ctx context.Context, key, tenantID, contentType string, body io.Reader, size int64, ttl time.Duration) error {
	if f.err != nil {
		return f.err
	}
	var buf bytes.Buffer
	buf.ReadFrom(body)
	f.puts = append(f.puts, key)
	return nil
}

func newTestDriver(t *testing.T, extractor Extractor, transcriber Transcriber, translator Translator, emitter Emitter, uploader Uploader) (*Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(true)

	repo := jobrepo.New(db)
	ledger := quota.New(db, nil, testLogger())

	d := New(repo, ledger, extractor, transcriber, translator, emitter, uploader, testLogger())
	d.Timeouts = StageTimeouts{}
	return d, mock
}

func jobsRow(status models.Status, version int64, reservationID string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "short_id", "tenant_id", "kind", "source_handle", "source_language",
		"detected_language", "target_language", "translate", "model_tier", "status", "version",
		"duration_seconds", "reservation_id",
		"srt_key", "vtt_key", "json_key", "srt_translated_key", "vtt_translated_key",
		"error_kind", "error_message",
		"created_at", "started_at", "completed_at",
	}).AddRow(
		"job-1", "abcdef123456", "tenant-1", "upload", "tenant-1/audio/hash.wav", "auto",
		nil, nil, false, "free", string(status), version,
		nil, reservationID,
		nil, nil, nil, nil, nil,
		nil, nil,
		time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC), nil, nil,
	)
}

// reservationRow is the shape GetReservation's plain (non-transactional)
// query returns.
func reservationRow(state models.ReservationState, amount float64, translate bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"tenant_id", "month", "amount", "translate", "state", "created_at", "resolved_at"}).
		AddRow("tenant-1", "2026-07", amount, translate, string(state),
			time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC), nil)
}

// reservationRowForUpdate is the narrower shape loadReservation's
// SELECT ... FOR UPDATE query returns inside a Commit/Release tx.
func reservationRowForUpdate(state models.ReservationState, amount float64, translate bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"tenant_id", "month", "amount", "translate", "state"}).
		AddRow("tenant-1", "2026-07", amount, translate, string(state))
}

// anyExec/anyQuery keep the expectation list readable: the exact jobs
// UPDATE statement touched by SetDuration/SetDetectedLanguage/
// SetArtifacts/Transition/Fail is not what these tests are about, only
// that the driver calls them in the right sequence.
func expectJobsUpdate(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE jobs`)).WillReturnResult(sqlmock.NewResult(0, 1))
}

func expectReservationRead(mock sqlmock.Sqlmock, state models.ReservationState, amount float64, translate bool) {
	mock.ExpectQuery(`SELECT tenant_id, month, amount, translate, state, created_at, resolved_at`).
		WillReturnRows(reservationRow(state, amount, translate))
}

func expectReleaseOrCommit(mock sqlmock.Sqlmock, state models.ReservationState, amount float64, translate bool, resolution string) {
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(reservationRowForUpdate(state, amount, translate))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE reservations SET state = '` + resolution + `'`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if resolution == "released" {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE usage_ledger SET used_minutes`)).
			WillReturnResult(sqlmock.NewResult(0, 1))
	} else if translate {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE usage_ledger SET translation_minutes`)).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()
}

// TestDriver_HappyPathNoTranslation walks a freshly-queued job with no
// translation requested through every stage to completion.
func TestDriver_HappyPathNoTranslation(t *testing.T) {
	transcriber := &fakeTranscriber{
		segments: []models.Segment{{Start: 0, End: 1, Text: "hello world"}},
		lang:     "en",
	}
	uploader := &fakeUploader{}
	d, mock := newTestDriver(t, &fakeExtractor{durationSeconds: 90}, transcriber, &fakeTranslator{}, &fakeEmitter{}, uploader)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM jobs WHERE id = $1`)).
		WillReturnRows(jobsRow(models.StatusQueued, 0, "res-1"))

	expectReservationRead(mock, models.ReservationHeld, 5, false) // doProcessing
	expectJobsUpdate(mock)                                        // Transition queued->processing

	expectReservationRead(mock, models.ReservationHeld, 5, false) // doExtracting's quota check
	expectJobsUpdate(mock)                                        // SetDuration
	expectJobsUpdate(mock)                                        // Transition processing->extracting

	expectJobsUpdate(mock) // SetDetectedLanguage
	expectJobsUpdate(mock) // Transition extracting->transcribing

	expectJobsUpdate(mock) // SetArtifacts
	expectJobsUpdate(mock) // Transition transcribing->emitting

	expectReleaseOrCommit(mock, models.ReservationHeld, 5, false, "committed") // doComplete
	expectJobsUpdate(mock)                                                    // Transition emitting->completed

	if err := d.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if transcriber.calls != 1 {
		t.Fatalf("expected transcriber called once, got %d", transcriber.calls)
	}
	if len(uploader.puts) != 3 {
		t.Fatalf("expected 3 uploaded artifacts (srt, vtt, json), got %d: %v", len(uploader.puts), uploader.puts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// TestDriver_QuotaExceededOnProbe fails the job when the extractor's
// probed duration exceeds what was reserved: fail, no top-up.
func TestDriver_QuotaExceededOnProbe(t *testing.T) {
	d, mock := newTestDriver(t, &fakeExtractor{durationSeconds: 600}, &fakeTranscriber{}, &fakeTranslator{}, &fakeEmitter{}, &fakeUploader{})

	mock.ExpectQuery(regexp.QuoteMeta(`FROM jobs WHERE id = $1`)).
		WillReturnRows(jobsRow(models.StatusProcessing, 1, "res-1"))

	expectReservationRead(mock, models.ReservationHeld, 1, false) // amount=1 minute, probed=10 minutes
	expectReleaseOrCommit(mock, models.ReservationHeld, 1, false, "released")
	expectJobsUpdate(mock) // Fail()

	err := d.Run(context.Background(), "job-1")
	if err == nil {
		t.Fatalf("expected quota-exceeded failure")
	}
	var se *errs.StageError
	if !errors.As(err, &se) {
		t.Fatalf("expected a StageError, got %T: %v", err, err)
	}
	if se.Kind != models.ErrQuotaExceeded {
		t.Fatalf("expected ErrQuotaExceeded, got %v", se.Kind)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// TestDriver_ResumeFromTranscribing exercises crash recovery: a job
// persisted at StatusTranscribing with no in-memory state must re-derive
// its audio path and transcript before emitting.
func TestDriver_ResumeFromTranscribing(t *testing.T) {
	transcriber := &fakeTranscriber{
		segments: []models.Segment{{Start: 0, End: 1, Text: "resumed"}},
		lang:     "en",
	}
	uploader := &fakeUploader{}
	d, mock := newTestDriver(t, &fakeExtractor{durationSeconds: 30}, transcriber, &fakeTranslator{}, &fakeEmitter{}, uploader)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM jobs WHERE id = $1`)).
		WillReturnRows(jobsRow(models.StatusTranscribing, 3, "res-1"))

	// ensureAudioAndSegments re-derives via doExtracting then doTranscribing.
	expectReservationRead(mock, models.ReservationHeld, 5, false)
	expectJobsUpdate(mock) // SetDuration
	expectJobsUpdate(mock) // SetDetectedLanguage

	expectJobsUpdate(mock) // SetArtifacts
	expectJobsUpdate(mock) // Transition transcribing->emitting

	expectReleaseOrCommit(mock, models.ReservationHeld, 5, false, "committed")
	expectJobsUpdate(mock) // Transition emitting->completed

	if err := d.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if transcriber.calls != 1 {
		t.Fatalf("expected re-derivation to call transcribe exactly once, got %d", transcriber.calls)
	}
	if len(uploader.puts) != 3 {
		t.Fatalf("expected artifacts uploaded after resume, got %d", len(uploader.puts))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// TestDriver_NonRetryableStageFailureFailsImmediately checks that a
// non-retryable StageError from a stage short-circuits retry and fails
// the job without exhausting MaxRetries attempts.
func TestDriver_NonRetryableStageFailureFailsImmediately(t *testing.T) {
	transcriber := &fakeTranscriber{err: errs.New(models.ErrTranscriptionFailed, "bad audio")}
	d, mock := newTestDriver(t, &fakeExtractor{durationSeconds: 30}, transcriber, &fakeTranslator{}, &fakeEmitter{}, &fakeUploader{})

	mock.ExpectQuery(regexp.QuoteMeta(`FROM jobs WHERE id = $1`)).
		WillReturnRows(jobsRow(models.StatusExtracting, 2, "res-1"))

	expectReleaseOrCommit(mock, models.ReservationHeld, 5, false, "released")
	expectJobsUpdate(mock) // Fail()

	err := d.Run(context.Background(), "job-1")
	if err == nil {
		t.Fatalf("expected transcription failure to propagate")
	}
	if transcriber.calls != 1 {
		t.Fatalf("expected exactly one attempt for a non-retryable error, got %d", transcriber.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// TestDriver_CancellationMarksJobCancelled checks that a context
// cancellation mid-stage results in StatusCancelled rather than
// StatusFailed.
func TestDriver_CancellationMarksJobCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	extractor := &fakeExtractorCancels{cancel: cancel}
	d, mock := newTestDriver(t, extractor, &fakeTranscriber{}, &fakeTranslator{}, &fakeEmitter{}, &fakeUploader{})

	mock.ExpectQuery(regexp.QuoteMeta(`FROM jobs WHERE id = $1`)).
		WillReturnRows(jobsRow(models.StatusProcessing, 1, "res-1"))

	expectReleaseOrCommit(mock, models.ReservationHeld, 5, false, "released")
	expectJobsUpdate(mock) // Fail() with status=cancelled

	err := d.Run(ctx, "job-1")
	if err == nil {
		t.Fatalf("expected cancellation to propagate as an error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

type fakeExtractorCancels struct {
	cancel context.CancelFunc
}

func (f *fakeExtractorCancels) Extract(ctx context.Context, tenantID, sourceHandle string, kind models.JobKind) (*ExtractResult, error) {
	f.cancel()
	return nil, context.Canceled
}
