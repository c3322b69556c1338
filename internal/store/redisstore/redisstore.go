// Package redisstore reads project metadata documents from Redis. Each
// project is one JSON string value at {prefix}{project}.
package redisstore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-demos/internal/store"
	"github.com/keithlinneman/linnemanlabs-demos/internal/xerrors"
)

const (
	DefaultPrefix = "demos:meta:"
	scanCount     = 256
)

type Metadata struct {
	rdb    redis.UniversalClient
	prefix string
}

type Option func(*Metadata)

// WithPrefix overrides the key prefix, an empty prefix is allowed.
func WithPrefix(prefix string) Option {
	return func(m *Metadata) { m.prefix = prefix }
}

func NewMetadata(rdb redis.UniversalClient, opts ...Option) (*Metadata, error) {
	if rdb == nil {
		return nil, xerrors.New("redisstore: client is required")
	}
	m := &Metadata{rdb: rdb, prefix: DefaultPrefix}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

func (m *Metadata) Get(ctx context.Context, name string) (*store.ProjectMetadata, error) {
	if name == "" || strings.ContainsAny(name, "*?[") {
		return nil, store.ErrNotFound
	}
	data, err := m.rdb.Get(ctx, m.prefix+name).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, xerrors.Wrapf(err, "redis get metadata %q", name)
	}
	return store.DecodeMetadata(name, data)
}

func (m *Metadata) List(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	iter := m.rdb.Scan(ctx, 0, m.prefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		name := strings.TrimPrefix(iter.Val(), m.prefix)
		if name != "" {
			// SCAN may return a key more than once
			seen[name] = struct{}{}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, xerrors.Wrap(err, "redis scan metadata")
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Metadata) Ping(ctx context.Context) error {
	if err := m.rdb.Ping(ctx).Err(); err != nil {
		return xerrors.Wrap(err, "redis ping")
	}
	return nil
}
