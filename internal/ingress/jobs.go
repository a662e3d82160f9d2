package ingress

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"frameworks/internal/blobstore"
	"frameworks/internal/errs"
	"frameworks/internal/jobrepo"
	"frameworks/internal/queue"
	"frameworks/internal/quota"
	"frameworks/internal/tenantrepo"
	"frameworks/pkg/auth"
	"frameworks/pkg/models"
)

var supportedLanguages = map[string]bool{
	"auto": true, "pt": true, "en": true, "es": true, "fr": true, "de": true,
	"it": true, "ja": true, "ko": true, "zh": true, "ru": true, "ar": true, "hi": true,
}

// jobSubmitRequest is the common shape behind both submission routes.
type jobSubmitRequest struct {
	URL            string `form:"url" json:"url"`
	SourceLanguage string `form:"source_language" json:"source_language"`
	TargetLanguage string `form:"target_language" json:"target_language"`
	Translate      bool   `form:"translate" json:"translate"`
}

type jobSubmitResponse struct {
	JobID                string  `json:"jobId"`
	Status               string  `json:"status"`
	DurationMinutes      float64 `json:"durationMinutes"`
	QueuePosition        int     `json:"queuePosition"`
	EstimatedWaitSeconds int     `json:"estimatedWaitSeconds"`
}

func writeErrorKind(c *gin.Context, kind models.ErrorKind, message string) {
	c.JSON(errs.HTTPStatus(kind), errs.Body{
		Error:     message,
		Status:    errs.HTTPStatus(kind),
		Timestamp: time.Now().Unix(),
	})
}

func newShortID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString(sha256.New().Sum(b))[:12]
	}
	return hex.EncodeToString(b)
}

// avgJobServiceSeconds is a rough per-job processing estimate used only to
// surface an advisory estimatedWaitSeconds figure; it never gates scheduling.
const avgJobServiceSeconds = 45

// resolveTenant loads the tenant a bearer token identified, lazily
// provisioning a free-plan row on first touch.
func (s *Server) resolveTenant(c *gin.Context) (*models.Tenant, bool) {
	tenantID, ok := auth.TenantID(c)
	if !ok || tenantID == "" {
		writeErrorKind(c, models.ErrUnauthorized, "missing tenant identity")
		return nil, false
	}

	tenant, err := s.Tenants.Get(c.Request.Context(), tenantID)
	if errors.Is(err, tenantrepo.ErrNotFound) {
		if err := s.Tenants.EnsureExists(c.Request.Context(), tenantID, c.ClientIP()); err != nil {
			writeErrorKind(c, models.ErrInternal, "provision tenant")
			return nil, false
		}
		tenant, err = s.Tenants.Get(c.Request.Context(), tenantID)
	}
	if err != nil {
		writeErrorKind(c, models.ErrInternal, "load tenant")
		return nil, false
	}
	return tenant, true
}

// checkBackpressure refuses with 429 when the rate limiter denies, or
// when the target class queue is past its soft cap. Quota feasibility
// is checked separately, by the Reserve call itself.
func (s *Server) checkBackpressure(c *gin.Context, tenant *models.Tenant, action string) bool {
	decision, err := s.Limiter.Check(c.Request.Context(), tenant.ID, action, tenant.Plan)
	if err != nil {
		writeErrorKind(c, models.ErrInternal, "rate limiter unavailable")
		return false
	}
	if !decision.Allowed {
		c.JSON(http.StatusTooManyRequests, errs.Body{
			Error:     fmt.Sprintf("rate limited, retry in %s", decision.ResetIn),
			Status:    http.StatusTooManyRequests,
			Timestamp: time.Now().Unix(),
		})
		return false
	}

	class := models.ClassOf(tenant.Plan)
	lengths, err := s.Queue.Lengths(c.Request.Context())
	if err != nil {
		writeErrorKind(c, models.ErrInternal, "queue unavailable")
		return false
	}
	if cap, ok := s.Cfg.QueueSoftCap[class]; ok && lengths[class] >= cap {
		c.JSON(http.StatusTooManyRequests, errs.Body{
			Error:     "queue at capacity, try again shortly",
			Status:    http.StatusTooManyRequests,
			Timestamp: time.Now().Unix(),
		})
		return false
	}
	return true
}

// createJob reserves quota, persists the job record and enqueues its
// descriptor as a single call so a job never exists without a matching
// reservation.
func (s *Server) createJob(c *gin.Context, tenant *models.Tenant, kind models.JobKind, sourceHandle string, req jobSubmitRequest) {
	ctx := c.Request.Context()

	sourceLanguage := req.SourceLanguage
	if sourceLanguage == "" {
		sourceLanguage = "auto"
	}
	if !supportedLanguages[sourceLanguage] {
		writeErrorKind(c, models.ErrBadInput, "unsupported source_language")
		return
	}
	var targetLanguage *string
	if req.Translate {
		if req.TargetLanguage == "" || !supportedLanguages[req.TargetLanguage] {
			writeErrorKind(c, models.ErrBadInput, "unsupported target_language")
			return
		}
		targetLanguage = &req.TargetLanguage
	}

	month := quota.CurrentMonth(time.Now())
	reservation, err := s.Ledger.Reserve(ctx, tenant.ID, tenant.Plan, month, s.Cfg.MaxJobMinutes, req.Translate)
	if errors.Is(err, quota.ErrInsufficientCredits) {
		writeErrorKind(c, models.ErrQuotaExceeded, "insufficient monthly minutes remaining")
		return
	}
	if err != nil {
		writeErrorKind(c, models.ErrInternal, "reserve quota")
		return
	}

	job := &models.Job{
		ID:             uuid.NewString(),
		ShortID:        newShortID(),
		TenantID:       tenant.ID,
		Kind:           kind,
		SourceHandle:   sourceHandle,
		SourceLanguage: sourceLanguage,
		TargetLanguage: targetLanguage,
		Translate:      req.Translate,
		ModelTier:      models.ModelTier(tenant.Plan),
		ReservationID:  &reservation.ID,
	}
	if err := s.Jobs.Create(ctx, job); err != nil {
		_ = s.Ledger.Release(ctx, reservation.ID)
		writeErrorKind(c, models.ErrInternal, "persist job")
		return
	}

	desc := queue.Descriptor{JobID: job.ID, TenantID: job.TenantID, Plan: tenant.Plan, QueuedAt: time.Now().UTC()}
	if err := s.Queue.Enqueue(ctx, desc); err != nil {
		writeErrorKind(c, models.ErrInternal, "enqueue job")
		return
	}

	position, err := s.Queue.PositionOf(ctx, job.ID)
	if err != nil {
		position = 0
	}

	c.JSON(http.StatusOK, jobSubmitResponse{
		JobID:                job.ID,
		Status:               string(models.StatusQueued),
		DurationMinutes:      0,
		QueuePosition:        position,
		EstimatedWaitSeconds: position * avgJobServiceSeconds,
	})
}

func (s *Server) handleUpload(c *gin.Context) {
	tenant, ok := s.resolveTenant(c)
	if !ok {
		return
	}
	if !s.checkBackpressure(c, tenant, "uploads") {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		writeErrorKind(c, models.ErrBadInput, "missing file field")
		return
	}
	if s.Cfg.MaxUploadBytes > 0 && header.Size > s.Cfg.MaxUploadBytes {
		writeErrorKind(c, models.ErrBadInput, "file exceeds maximum upload size")
		return
	}
	file, err := header.Open()
	if err != nil {
		writeErrorKind(c, models.ErrBadInput, "failed to open upload")
		return
	}
	defer file.Close()

	req := jobSubmitRequest{
		SourceLanguage: c.PostForm("source_language"),
		TargetLanguage: c.PostForm("target_language"),
		Translate:      c.PostForm("translate") == "true",
	}

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		writeErrorKind(c, models.ErrBadInput, "failed to read upload")
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		writeErrorKind(c, models.ErrInternal, "failed to rewind upload")
		return
	}
	hashHex := hex.EncodeToString(hash.Sum(nil))[:16]

	ext := ""
	if idx := strings.LastIndex(header.Filename, "."); idx >= 0 {
		ext = header.Filename[idx:]
	}
	key := blobstore.Key(tenant.ID, models.BlobKindAudio, hashHex, ext)

	if _, err := s.Store.Put(c.Request.Context(), key, tenant.ID, header.Header.Get("Content-Type"), file, header.Size, s.Cfg.ArtifactTTL); err != nil {
		writeErrorKind(c, models.ErrInternal, "store upload")
		return
	}

	s.createJob(c, tenant, models.JobKindUpload, key, req)
}

func (s *Server) handleSubmitURL(c *gin.Context) {
	tenant, ok := s.resolveTenant(c)
	if !ok {
		return
	}
	if !s.checkBackpressure(c, tenant, "uploads") {
		return
	}

	var req jobSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorKind(c, models.ErrBadInput, "malformed request body")
		return
	}
	if req.URL == "" {
		writeErrorKind(c, models.ErrBadInput, "url is required")
		return
	}

	s.createJob(c, tenant, models.JobKindURL, req.URL, req)
}

type downloadSet struct {
	SRT  string `json:"srt,omitempty"`
	VTT  string `json:"vtt,omitempty"`
	JSON string `json:"json,omitempty"`
}

type jobDownloads struct {
	Original   downloadSet  `json:"original"`
	Translated *downloadSet `json:"translated,omitempty"`
}

type jobStatusResponse struct {
	ID            string           `json:"id"`
	Status        string           `json:"status"`
	QueuePosition *int             `json:"queuePosition,omitempty"`
	Downloads     *jobDownloads    `json:"downloads,omitempty"`
	Error         *models.JobError `json:"error,omitempty"`
}

func (s *Server) handleGetJob(c *gin.Context) {
	tenant, ok := s.resolveTenant(c)
	if !ok {
		return
	}

	job, err := s.Jobs.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, jobrepo.ErrNotFound) {
		writeErrorKind(c, models.ErrNotFound, "job not found")
		return
	}
	if err != nil {
		writeErrorKind(c, models.ErrInternal, "load job")
		return
	}
	if job.TenantID != tenant.ID {
		writeErrorKind(c, models.ErrNotFound, "job not found")
		return
	}

	resp := jobStatusResponse{ID: job.ID, Status: string(job.Status), Error: job.Error}
	if job.Status == models.StatusQueued {
		if pos, err := s.Queue.PositionOf(c.Request.Context(), job.ID); err == nil && pos > 0 {
			resp.QueuePosition = &pos
		}
	}
	if job.Artifacts.SRT != "" || job.Artifacts.VTT != "" || job.Artifacts.JSON != "" {
		resp.Downloads = &jobDownloads{
			Original: downloadSet{SRT: job.Artifacts.SRT, VTT: job.Artifacts.VTT, JSON: job.Artifacts.JSON},
		}
		if job.Artifacts.SRTTranslated != "" || job.Artifacts.VTTTranslated != "" {
			resp.Downloads.Translated = &downloadSet{SRT: job.Artifacts.SRTTranslated, VTT: job.Artifacts.VTTTranslated}
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCancelJob(c *gin.Context) {
	tenant, ok := s.resolveTenant(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	job, err := s.Jobs.Get(ctx, c.Param("id"))
	if errors.Is(err, jobrepo.ErrNotFound) || (err == nil && job.TenantID != tenant.ID) {
		writeErrorKind(c, models.ErrNotFound, "job not found")
		return
	}
	if err != nil {
		writeErrorKind(c, models.ErrInternal, "load job")
		return
	}
	if job.Status.Terminal() {
		c.JSON(http.StatusConflict, errs.Body{Error: "job already terminal", Status: http.StatusConflict, Timestamp: time.Now().Unix()})
		return
	}

	if _, err := s.Queue.Cancel(ctx, job.ID); err != nil {
		writeErrorKind(c, models.ErrInternal, "dequeue cancellation")
		return
	}
	if err := s.Scheduler.Cancel(ctx, job.ID); err != nil {
		writeErrorKind(c, models.ErrInternal, "signal cancellation")
		return
	}

	if err := s.Jobs.Fail(ctx, job.ID, job.Version, job.Status, models.StatusCancelled, models.JobError{
		Kind: models.ErrCancelled, Message: "cancelled by tenant",
	}); err != nil && !errors.Is(err, jobrepo.ErrVersionConflict) {
		writeErrorKind(c, models.ErrInternal, "mark job cancelled")
		return
	}
	if job.ReservationID != nil {
		_ = s.Ledger.Release(ctx, *job.ReservationID)
	}

	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func (s *Server) handleArtifactRedirect(c *gin.Context) {
	tenant, ok := s.resolveTenant(c)
	if !ok {
		return
	}

	key := strings.TrimPrefix(c.Param("key"), "/")
	if !strings.HasPrefix(key, tenant.ID+"/") {
		writeErrorKind(c, models.ErrNotFound, "artifact not found")
		return
	}

	url, err := s.Store.PresignGet(c.Request.Context(), key, s.Cfg.ArtifactTTL)
	if err != nil {
		writeErrorKind(c, models.ErrNotFound, "artifact not found")
		return
	}
	c.Redirect(http.StatusFound, url)
}

