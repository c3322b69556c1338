// Package catalog builds the ordered project listing served at the site root.
package catalog

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/linnemanlabs-demos/internal/store"
	"github.com/keithlinneman/linnemanlabs-demos/internal/xerrors"
)

// DefaultFetchConcurrency bounds parallel metadata reads while building a listing.
const DefaultFetchConcurrency = 8

type Catalog struct {
	metadata    store.MetadataStore
	concurrency int
}

type Option func(*Catalog)

func WithFetchConcurrency(n int) Option {
	return func(c *Catalog) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func New(metadata store.MetadataStore, opts ...Option) (*Catalog, error) {
	if metadata == nil {
		return nil, xerrors.New("catalog: metadata store is required")
	}
	c := &Catalog{metadata: metadata, concurrency: DefaultFetchConcurrency}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Projects returns every project's metadata, featured projects first, then
// most recently updated. Projects removed between List and Get are skipped.
func (c *Catalog) Projects(ctx context.Context) ([]store.ProjectMetadata, error) {
	names, err := c.metadata.List(ctx)
	if err != nil {
		return nil, xerrors.Wrap(err, "catalog: list projects")
	}

	found := make([]*store.ProjectMetadata, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, name := range names {
		g.Go(func() error {
			m, err := c.metadata.Get(gctx, name)
			if store.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return xerrors.Wrapf(err, "catalog: get %q", name)
			}
			found[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]store.ProjectMetadata, 0, len(found))
	for _, m := range found {
		if m != nil {
			out = append(out, *m)
		}
	}
	Sort(out)
	return out, nil
}

// Sort orders projects featured first, then by Updated descending. Ties fall
// back to name so the listing is stable across requests.
func Sort(projects []store.ProjectMetadata) {
	sort.SliceStable(projects, func(i, j int) bool {
		a, b := projects[i], projects[j]
		if a.Featured != b.Featured {
			return a.Featured
		}
		if !a.Updated.Equal(b.Updated) {
			return a.Updated.After(b.Updated)
		}
		return a.Name < b.Name
	})
}
