// Package ingress is the HTTP surface: a gin.Engine wiring the job
// routes onto the Quota Ledger, Job Repository, Priority Queue and
// Scheduler, bearer-token tenant identification via pkg/auth, and
// pkg/monitoring for /healthz and /metrics. It stays thin deliberately —
// authentication *policy* (how bearer tokens are issued) is out of
// scope; only verification lives here.
package ingress

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"frameworks/internal/jobrepo"
	"frameworks/internal/queue"
	"frameworks/internal/quota"
	"frameworks/internal/ratelimit"
	"frameworks/internal/scheduler"
	"frameworks/internal/blobstore"
	"frameworks/internal/tenantrepo"
	"frameworks/pkg/auth"
	"frameworks/pkg/logging"
	"frameworks/pkg/models"
)

// BlobStore is the slice of *blobstore.Store the ingress surface needs:
// accepting uploaded files and presigning artifact redirects.
type BlobStore interface {
	Put(ctx context.Context, key, tenantID, contentType string, body io.Reader, size int64, ttl time.Duration) (*blobstore.PutResult, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Config holds the tunables the ingress surface needs beyond its
// collaborators.
type Config struct {
	AuthSecret       []byte
	FreeMinutesLimit float64
	MaxUploadBytes   int64
	MaxJobMinutes    float64
	ArtifactTTL      time.Duration
	QueueSoftCap     map[models.Class]int64
}

// DefaultConfig returns the ingress surface's out-of-the-box tunables.
func DefaultConfig() Config {
	return Config{
		FreeMinutesLimit: 20,
		MaxUploadBytes:   2 << 30, // 2GiB
		MaxJobMinutes:    180,
		ArtifactTTL:      24 * time.Hour,
		QueueSoftCap: map[models.Class]int64{
			models.ClassPriority: 1000,
			models.ClassPaid:     5000,
			models.ClassFree:     2000,
		},
	}
}

// Server wires every collaborator the ingress handlers need.
type Server struct {
	Cfg       Config
	Tenants   *tenantrepo.Repository
	Jobs      *jobrepo.Repository
	Ledger    *quota.Ledger
	Queue     *queue.Queue
	Scheduler *scheduler.Scheduler
	Limiter   *ratelimit.Limiter
	Store     BlobStore
	Logger    logging.Logger
}

// Router builds the gin.Engine. healthHandler/metricsHandler/metricsMiddleware
// are injected from pkg/monitoring by the caller (cmd/subcaptiond) so this
// package doesn't need to know about Prometheus registry wiring.
func (s *Server) Router(healthHandler, metricsHandler, metricsMiddleware gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if metricsMiddleware != nil {
		r.Use(metricsMiddleware)
	}

	r.GET("/healthz", healthHandler)
	if metricsHandler != nil {
		r.GET("/metrics", metricsHandler)
	}

	api := r.Group("/")
	api.Use(auth.TenantMiddleware(s.Cfg.AuthSecret))
	api.POST("/jobs/upload", s.handleUpload)
	api.POST("/jobs/url", s.handleSubmitURL)
	api.GET("/jobs/:id", s.handleGetJob)
	api.DELETE("/jobs/:id", s.handleCancelJob)
	api.GET("/artifacts/*key", s.handleArtifactRedirect)

	return r
}
