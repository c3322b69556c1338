// Package store defines the collaborator contracts the router reads from:
// an object store holding asset blobs keyed by "project/path" and a metadata
// store holding one ProjectMetadata document per project.
//
// Writes happen out-of-band (deploy pipeline), the router only reads.
// Implementations live in the s3store, redisstore and memstore subpackages.
package store

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned (possibly wrapped) when a key does not exist.
// Any other error is an upstream failure.
var ErrNotFound = errors.New("store: not found")

// Object is a single blob from the object store. Callers must close Body.
type Object struct {
	Body io.ReadCloser

	// Size is -1 when the store did not report a length.
	Size         int64
	ETag         string
	LastModified time.Time
}

// ObjectStore reads asset blobs.
type ObjectStore interface {
	Get(ctx context.Context, key string) (*Object, error)
}

// MetadataStore reads project metadata documents.
type MetadataStore interface {
	Get(ctx context.Context, name string) (*ProjectMetadata, error)
	// List returns every project name in ascending order.
	List(ctx context.Context) ([]string, error)
}

// Pinger is implemented by stores that can report connectivity for readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IsNotFound reports whether err means the key was absent.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// AssetKey returns the object store key for a project-relative path.
func AssetKey(project, relPath string) string { return project + "/" + relPath }
