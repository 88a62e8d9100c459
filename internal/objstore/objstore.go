// Package objstore stores menu photos and generated dish images. Two
// backends exist: S3-compatible object storage for production and an
// in-process map for development. Both hand out time-limited upload
// authorization so clients never touch serving credentials.
package objstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a URI has no stored object.
var ErrNotFound = errors.New("object not found")

// SignedUpload describes a pre-authorized client upload.
type SignedUpload struct {
	// UploadURL accepts one HTTP PUT of the image bytes.
	UploadURL string
	// URI identifies the uploaded object in scan requests.
	URI string
	// ExpiresAt is when the upload authorization lapses.
	ExpiresAt time.Time
}

// Store is the object storage interface.
type Store interface {
	// SignUpload reserves a fresh object key and returns upload
	// authorization for it.
	SignUpload(ctx context.Context, contentType string) (*SignedUpload, error)

	// Put stores an object and returns its URI.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Fetch loads the object behind a URI.
	Fetch(ctx context.Context, uri string) ([]byte, error)

	// URIFor returns the URI an object key resolves to in this store.
	URIFor(key string) string
}
