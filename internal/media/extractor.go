// Package media is the Extractor stage's implementation: it fetches a
// job's source (an uploaded blob or a remote URL), shells out to
// ffmpeg/ffprobe to pull a mono 16kHz MP3 track and probe its duration,
// and persists the result back to the blob store so the Transcriber can
// be retried from a local path without re-fetching the source.
//
// There is no Go ffmpeg wrapper library anywhere in the example pack or
// ecosystem worth depending on for this; every one just shells out to
// the same ffmpeg/ffprobe binaries this package invokes directly. See
// DESIGN.md.
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"frameworks/internal/blobstore"
	"frameworks/internal/pipeline"
	"frameworks/pkg/logging"
	"frameworks/pkg/models"
)

// BlobSource is the slice of *blobstore.Store the Extractor needs to
// fetch an uploaded source and persist the extracted audio.
type BlobSource interface {
	GetStream(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key, tenantID, contentType string, body io.Reader, size int64, ttl time.Duration) (*blobstore.PutResult, error)
}

// Config holds the Extractor's tunables.
type Config struct {
	FFmpegPath  string
	FFprobePath string
	WorkDir     string
	FetchClient *http.Client
	ArtifactTTL time.Duration
}

// DefaultConfig resolves ffmpeg/ffprobe off PATH and stages work under
// the system temp directory.
func DefaultConfig() Config {
	return Config{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		WorkDir:     filepath.Join(os.TempDir(), "subcaption-extract"),
		FetchClient: &http.Client{Timeout: 15 * time.Minute},
		ArtifactTTL: 24 * time.Hour,
	}
}

// Extractor implements pipeline.Extractor.
type Extractor struct {
	store  BlobSource
	cfg    Config
	logger logging.Logger
}

// New creates an Extractor.
func New(store BlobSource, cfg Config, logger logging.Logger) *Extractor {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.FetchClient == nil {
		cfg.FetchClient = &http.Client{Timeout: 15 * time.Minute}
	}
	return &Extractor{store: store, cfg: cfg, logger: logger}
}

// Extract fetches sourceHandle (a blob key for JobKindUpload, a raw URL
// for JobKindURL), runs ffmpeg to pull a mono 16kHz 64kbps MP3 track,
// probes its duration with ffprobe, and uploads the result back to the
// blob store under tenantID's audio prefix.
func (e *Extractor) Extract(ctx context.Context, tenantID, sourceHandle string, kind models.JobKind) (*pipeline.ExtractResult, error) {
	if err := os.MkdirAll(e.cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create work dir: %w", err)
	}

	jobUUID := uuid.New().String()
	inputPath, cleanup, err := e.fetchSource(ctx, sourceHandle, kind, jobUUID)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	outputPath := filepath.Join(e.cfg.WorkDir, jobUUID+".mp3")
	if err := e.runFFmpeg(ctx, inputPath, outputPath); err != nil {
		return nil, err
	}

	duration, err := e.probeDuration(ctx, outputPath)
	if err != nil {
		os.Remove(outputPath)
		return nil, err
	}

	blobKey, err := e.persist(ctx, tenantID, outputPath)
	if err != nil {
		os.Remove(outputPath)
		return nil, err
	}

	e.logger.WithFields(logging.Fields{
		"tenant":   tenantID,
		"blob_key": blobKey,
		"duration": duration,
	}).Info("audio extracted")

	return &pipeline.ExtractResult{
		LocalAudioPath:  outputPath,
		BlobKey:         blobKey,
		DurationSeconds: duration,
	}, nil
}

// fetchSource stages the source media at a local path, returning a
// cleanup func the caller must defer.
func (e *Extractor) fetchSource(ctx context.Context, sourceHandle string, kind models.JobKind, jobUUID string) (string, func(), error) {
	inputPath := filepath.Join(e.cfg.WorkDir, jobUUID+".src")

	switch kind {
	case models.JobKindUpload:
		rc, err := e.store.GetStream(ctx, sourceHandle)
		if err != nil {
			return "", func() {}, fmt.Errorf("media: fetch upload %s: %w", sourceHandle, err)
		}
		defer rc.Close()

		f, err := os.Create(inputPath)
		if err != nil {
			return "", func() {}, fmt.Errorf("media: stage upload: %w", err)
		}
		defer f.Close()
		if _, err := io.Copy(f, rc); err != nil {
			os.Remove(inputPath)
			return "", func() {}, fmt.Errorf("media: copy upload to disk: %w", err)
		}

	case models.JobKindURL:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceHandle, nil)
		if err != nil {
			return "", func() {}, fmt.Errorf("media: build source request: %w", err)
		}
		resp, err := e.cfg.FetchClient.Do(req)
		if err != nil {
			return "", func() {}, fmt.Errorf("media: fetch source url: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", func() {}, fmt.Errorf("media: fetch source url: unexpected status %d", resp.StatusCode)
		}

		f, err := os.Create(inputPath)
		if err != nil {
			return "", func() {}, fmt.Errorf("media: stage source url: %w", err)
		}
		defer f.Close()
		if _, err := io.Copy(f, resp.Body); err != nil {
			os.Remove(inputPath)
			return "", func() {}, fmt.Errorf("media: copy source url to disk: %w", err)
		}

	default:
		return "", func() {}, fmt.Errorf("media: unknown job kind %q", kind)
	}

	return inputPath, func() { os.Remove(inputPath) }, nil
}

// runFFmpeg extracts a mono 16kHz 64kbps MP3 track, matching the
// original Python pipeline's acodec=libmp3lame/ar=16000/ac=1/b=64k.
func (e *Extractor) runFFmpeg(ctx context.Context, inputPath, outputPath string) error {
	cmd := exec.CommandContext(ctx, e.cfg.FFmpegPath,
		"-y",
		"-i", inputPath,
		"-vn",
		"-acodec", "libmp3lame",
		"-ar", "16000",
		"-ac", "1",
		"-b:a", "64k",
		"-loglevel", "error",
		outputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("media: ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// probeDuration reads the extracted track's duration in whole seconds.
func (e *Extractor) probeDuration(ctx context.Context, path string) (int, error) {
	cmd := exec.CommandContext(ctx, e.cfg.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("media: ffprobe: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("media: parse ffprobe duration: %w", err)
	}
	return int(seconds + 0.5), nil
}

// persist uploads the extracted audio file and returns its blob key.
func (e *Extractor) persist(ctx context.Context, tenantID, outputPath string) (string, error) {
	f, err := os.Open(outputPath)
	if err != nil {
		return "", fmt.Errorf("media: reopen extracted audio: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("media: stat extracted audio: %w", err)
	}

	key := blobstore.Key(tenantID, models.BlobKindAudio, uuid.New().String(), "mp3")
	if _, err := e.store.Put(ctx, key, tenantID, "audio/mpeg", f, info.Size(), e.cfg.ArtifactTTL); err != nil {
		return "", fmt.Errorf("media: persist extracted audio: %w", err)
	}
	return key, nil
}
