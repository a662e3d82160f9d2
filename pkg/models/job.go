package models

import "time"

// JobKind identifies how the source media was submitted.
type JobKind string

const (
	JobKindUpload JobKind = "upload"
	JobKindURL    JobKind = "url"
)

// Status is a job's position in the pipeline DAG.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusProcessing  Status = "processing"
	StatusExtracting  Status = "extracting"
	StatusTranscribing Status = "transcribing"
	StatusTranslating Status = "translating"
	StatusEmitting    Status = "emitting"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether a status is a DAG sink.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// transitions enumerates the allowed DAG edges. Any non-terminal
// status may additionally move to failed or cancelled; that catch-all
// is checked separately in CanTransition.
var transitions = map[Status][]Status{
	StatusQueued:       {StatusProcessing},
	StatusProcessing:   {StatusExtracting},
	StatusExtracting:   {StatusTranscribing},
	StatusTranscribing: {StatusEmitting, StatusTranslating},
	StatusTranslating:  {StatusEmitting},
	StatusEmitting:     {StatusCompleted},
}

// CanTransition reports whether from->to is a legal edge in the job
// state machine: an explicit DAG edge, or any non-terminal status
// moving to failed/cancelled.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed || to == StatusCancelled {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrorKind is the taxonomy of error categories a job can fail with.
type ErrorKind string

const (
	ErrBadInput           ErrorKind = "bad_input"
	ErrUnauthorized       ErrorKind = "unauthorized"
	ErrForbidden          ErrorKind = "forbidden"
	ErrNotFound           ErrorKind = "not_found"
	ErrQuotaExceeded      ErrorKind = "quota_exceeded"
	ErrRateLimited        ErrorKind = "rate_limited"
	ErrIngestFailed       ErrorKind = "ingest_failed"
	ErrExtractionFailed   ErrorKind = "extraction_failed"
	ErrTranscriptionFailed ErrorKind = "transcription_failed"
	ErrTranslationFailed  ErrorKind = "translation_failed"
	ErrEmitFailed         ErrorKind = "emit_failed"
	ErrTimeout            ErrorKind = "timeout"
	ErrCancelled          ErrorKind = "cancelled"
	ErrInternal           ErrorKind = "internal"
)

// JobError is the terminal error descriptor recorded on a failed job.
type JobError struct {
	Kind    ErrorKind `json:"kind" db:"error_kind"`
	Message string    `json:"message" db:"error_message"`
}

// ArtifactKeys are the blob store keys of the emitted subtitle files.
// Populated only once the corresponding stage has completed.
type ArtifactKeys struct {
	SRT            string `json:"srt,omitempty" db:"srt_key"`
	VTT            string `json:"vtt,omitempty" db:"vtt_key"`
	JSON           string `json:"json,omitempty" db:"json_key"`
	SRTTranslated  string `json:"srt_t,omitempty" db:"srt_translated_key"`
	VTTTranslated  string `json:"vtt_t,omitempty" db:"vtt_translated_key"`
}

// Job is the durable record driven through the pipeline.
type Job struct {
	ID               string     `json:"id" db:"id"`
	ShortID          string     `json:"short_id" db:"short_id"`
	TenantID         string     `json:"tenant_id" db:"tenant_id"`
	Kind             JobKind    `json:"kind" db:"kind"`
	SourceHandle     string     `json:"source_handle" db:"source_handle"`
	SourceLanguage   string     `json:"source_language" db:"source_language"`
	DetectedLanguage *string    `json:"detected_language,omitempty" db:"detected_language"`
	TargetLanguage   *string    `json:"target_language,omitempty" db:"target_language"`
	Translate        bool       `json:"translate" db:"translate"`
	ModelTier        string     `json:"model_tier" db:"model_tier"`
	Status           Status     `json:"status" db:"status"`
	Version          int64      `json:"-" db:"version"`
	DurationSeconds  *int       `json:"duration_seconds,omitempty" db:"duration_seconds"`
	ReservationID    *string    `json:"reservation_id,omitempty" db:"reservation_id"`
	Artifacts        ArtifactKeys `json:"artifacts"`
	Error            *JobError  `json:"error,omitempty"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// DurationMinutes is the ceiling-rounded minute count billed against the
// quota ledger: partial minutes always round up, never down.
func (j *Job) DurationMinutes() int {
	if j.DurationSeconds == nil || *j.DurationSeconds <= 0 {
		return 0
	}
	return (*j.DurationSeconds + 59) / 60
}
