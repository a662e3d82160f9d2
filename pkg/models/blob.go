package models

import "time"

// BlobKind enumerates the object categories stored under a tenant's
// namespace.
type BlobKind string

const (
	BlobKindAudio         BlobKind = "audio"
	BlobKindSubtitleSRT   BlobKind = "subtitles/srt"
	BlobKindSubtitleVTT   BlobKind = "subtitles/vtt"
	BlobKindSubtitleJSON  BlobKind = "subtitles/json"
)

// BlobObject describes an object created by the Blob Store Adapter.
// Created only by that adapter.
type BlobObject struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	UploadedAt  time.Time `json:"uploaded_at"`
	TTL         time.Duration `json:"ttl"`
	TenantID    string    `json:"tenant_id"`
}

// RateCounter is the sliding-window counter tracked per
// (subject, action, plan) by the Rate Limiter.
type RateCounter struct {
	Subject string
	Action  string
	Plan    Plan
	Window  time.Duration
	Count   int64
}
