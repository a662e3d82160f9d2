package media

import (
	"context"
	"io"
	"time"
)

// Uploader adapts *blobstore.Store to pipeline.Uploader, which only
// reports success or failure and has no use for the presigned URL a
// direct *blobstore.Store.Put call returns.
type Uploader struct {
	store BlobSource
}

// NewUploader wraps store as a pipeline.Uploader.
func NewUploader(store BlobSource) *Uploader {
	return &Uploader{store: store}
}

// Put uploads body and discards the presign result pipeline.Uploader's
// callers have no use for.
func (u *Uploader) Put(ctx context.Context, key, tenantID, contentType string, body io.Reader, size int64, ttl time.Duration) error {
	_, err := u.store.Put(ctx, key, tenantID, contentType, body, size, ttl)
	return err
}
