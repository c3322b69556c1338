// Package memstore is an in-memory implementation of the store contracts,
// used for local development and tests.
package memstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/keithlinneman/linnemanlabs-demos/internal/store"
	"github.com/keithlinneman/linnemanlabs-demos/internal/xerrors"
)

type blob struct {
	data     []byte
	etag     string
	modified time.Time
}

// Objects is an in-memory store.ObjectStore.
type Objects struct {
	mu    sync.RWMutex
	blobs map[string]blob
}

func NewObjects() *Objects {
	return &Objects{blobs: make(map[string]blob)}
}

// Put stores a copy of data under key.
func (o *Objects) Put(key string, data []byte) {
	sum := sha256.Sum256(data)
	b := blob{
		data:     bytes.Clone(data),
		etag:     `"` + hex.EncodeToString(sum[:8]) + `"`,
		modified: time.Now().UTC().Truncate(time.Second),
	}
	o.mu.Lock()
	o.blobs[key] = b
	o.mu.Unlock()
}

func (o *Objects) Get(ctx context.Context, key string) (*store.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, xerrors.WithStack(err)
	}
	o.mu.RLock()
	b, ok := o.blobs[key]
	o.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return &store.Object{
		Body:         io.NopCloser(bytes.NewReader(b.data)),
		Size:         int64(len(b.data)),
		ETag:         b.etag,
		LastModified: b.modified,
	}, nil
}

// Len returns the number of stored objects.
func (o *Objects) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.blobs)
}

// Metadata is an in-memory store.MetadataStore. Documents are kept in their
// encoded form so reads go through the same validation as remote stores.
type Metadata struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMetadata() *Metadata {
	return &Metadata{docs: make(map[string][]byte)}
}

// Put encodes and stores m under its name.
func (m *Metadata) Put(meta *store.ProjectMetadata) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	b, err := store.EncodeMetadata(meta)
	if err != nil {
		return err
	}
	m.PutRaw(meta.Name, b)
	return nil
}

// PutRaw stores an already-encoded document under key without validating it.
func (m *Metadata) PutRaw(key string, data []byte) {
	m.mu.Lock()
	m.docs[key] = bytes.Clone(data)
	m.mu.Unlock()
}

func (m *Metadata) Get(ctx context.Context, name string) (*store.ProjectMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, xerrors.WithStack(err)
	}
	m.mu.RLock()
	data, ok := m.docs[name]
	m.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return store.DecodeMetadata(name, data)
}

func (m *Metadata) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, xerrors.WithStack(err)
	}
	m.mu.RLock()
	keys := make([]string, 0, len(m.docs))
	for k := range m.docs {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

func (m *Metadata) Ping(ctx context.Context) error { return ctx.Err() }
