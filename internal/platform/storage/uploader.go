package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
)

const (
	defaultPublicBase = "https://storage.googleapis.com"
	maxImageBytes     = 20 << 20
)

var (
	ErrImageEmpty    = errors.New("storage: image is empty")
	ErrImageTooLarge = errors.New("storage: image exceeds size limit")
)

// objectWriter opens a writer for bucket/object. It is satisfied by the GCS client adapter
// and by fakes in tests.
type objectWriter interface {
	NewWriter(ctx context.Context, bucket, object, contentType string) io.WriteCloser
}

type gcsWriter struct {
	client *gcs.Client
}

func (g gcsWriter) NewWriter(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
	w := g.client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000, immutable"
	return w
}

// Uploader stores frame images in a Cloud Storage bucket and returns their public URL.
type Uploader struct {
	writer     objectWriter
	bucket     string
	publicBase string
	newID      func() string
}

type UploaderOption func(*Uploader)

// WithPublicBaseURL serves objects from a CDN or custom domain instead of storage.googleapis.com.
func WithPublicBaseURL(base string) UploaderOption {
	return func(u *Uploader) {
		if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
			u.publicBase = base
		}
	}
}

func withObjectWriter(w objectWriter) UploaderOption {
	return func(u *Uploader) { u.writer = w }
}

func withIDGenerator(fn func() string) UploaderOption {
	return func(u *Uploader) { u.newID = fn }
}

func NewUploader(client *gcs.Client, bucket string, opts ...UploaderOption) (*Uploader, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage uploader: bucket is required")
	}
	u := &Uploader{bucket: bucket, newID: uuid.NewString}
	if client != nil {
		u.writer = gcsWriter{client: client}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}
	if u.writer == nil {
		return nil, errors.New("storage uploader: client is required")
	}
	if u.publicBase == "" {
		u.publicBase = defaultPublicBase + "/" + bucket
	}
	return u, nil
}

// UploadImage writes data under frames/<scopeID>/item-<index>/ with a random object name.
func (u *Uploader) UploadImage(ctx context.Context, data []byte, name string, scopeID string, index int) (string, error) {
	if len(data) == 0 {
		return "", ErrImageEmpty
	}
	if len(data) > maxImageBytes {
		return "", ErrImageTooLarge
	}
	contentType := http.DetectContentType(data)
	object, err := FrameImagePath(scopeID, index, u.newID(), extensionFor(contentType, name))
	if err != nil {
		return "", err
	}

	w := u.writer.NewWriter(ctx, u.bucket, object, contentType)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage: finalize %s: %w", object, err)
	}
	return u.publicBase + "/" + object, nil
}
