// Package assets maps request paths onto project assets held in the object
// store, applying single-page-app fallback and per-type cache policy.
package assets

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-demos/internal/mediatype"
	"github.com/keithlinneman/linnemanlabs-demos/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-demos/internal/store"
	"github.com/keithlinneman/linnemanlabs-demos/internal/xerrors"
)

// IndexFile is served for a bare project path and as the SPA fallback.
const IndexFile = "index.html"

// Outcome classifies a resolution.
type Outcome int

const (
	Found Outcome = iota
	NotFoundProject
	NotFoundAsset
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case NotFoundProject:
		return "not_found_project"
	case NotFoundAsset:
		return "not_found_asset"
	default:
		return "unknown"
	}
}

// Asset is a located blob plus the headers it should be served with.
// Callers must close Body.
type Asset struct {
	Project      string
	Path         string
	ContentType  string
	CacheControl string
	// SPAFallback is set when Path was missing and the project index was served instead.
	SPAFallback bool

	Body         io.ReadCloser
	Size         int64
	ETag         string
	LastModified time.Time
}

// Result is the outcome of Resolve. Asset and Metadata are set only when Outcome is Found.
type Result struct {
	Outcome  Outcome
	Project  string
	Asset    *Asset
	Metadata *store.ProjectMetadata
}

// Observer receives resolution outcomes and store call latencies.
type Observer interface {
	ObserveResolve(outcome Outcome, spaFallback bool)
	ObserveStore(op string, d time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveResolve(Outcome, bool)              {}
func (nopObserver) ObserveStore(string, time.Duration, error) {}

type Resolver struct {
	objects  store.ObjectStore
	metadata store.MetadataStore
	obs      Observer
	now      func() time.Time
}

type Option func(*Resolver)

func WithObserver(obs Observer) Option {
	return func(r *Resolver) {
		if obs != nil {
			r.obs = obs
		}
	}
}

func NewResolver(objects store.ObjectStore, metadata store.MetadataStore, opts ...Option) (*Resolver, error) {
	if objects == nil {
		return nil, xerrors.New("assets: object store is required")
	}
	if metadata == nil {
		return nil, xerrors.New("assets: metadata store is required")
	}
	r := &Resolver{
		objects:  objects,
		metadata: metadata,
		obs:      nopObserver{},
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// SplitPath splits a request path into project and project-relative asset
// path. A single trailing slash is ignored. Inner empty segments are kept, so
// "/demo-x//app.js" names the key "demo-x//app.js". An empty asset path
// becomes IndexFile.
func SplitPath(pathname string) (project, assetPath string) {
	if len(pathname) > 1 {
		pathname = strings.TrimSuffix(pathname, "/")
	}
	project, assetPath, _ = strings.Cut(strings.TrimPrefix(pathname, "/"), "/")
	if assetPath == "" {
		assetPath = IndexFile
	}
	return project, assetPath
}

// Resolve locates the asset for pathname. The returned error is non-nil only
// when a store call fails; absent projects and assets are reported through
// Result.Outcome.
func (r *Resolver) Resolve(ctx context.Context, pathname string) (Result, error) {
	project, assetPath := SplitPath(pathname)
	res := Result{Project: project}

	if project == "" {
		res.Outcome = NotFoundProject
		r.obs.ObserveResolve(res.Outcome, false)
		return res, nil
	}
	if !pathutil.SafeKey(pathname) {
		res.Outcome = NotFoundAsset
		r.obs.ObserveResolve(res.Outcome, false)
		return res, nil
	}

	meta, err := r.getMetadata(ctx, project)
	if err != nil {
		if store.IsNotFound(err) {
			res.Outcome = NotFoundProject
			r.obs.ObserveResolve(res.Outcome, false)
			return res, nil
		}
		return res, xerrors.Wrapf(err, "resolve %q: metadata", project)
	}
	res.Metadata = meta

	obj, err := r.getObject(ctx, store.AssetKey(project, assetPath))
	spa := false
	if store.IsNotFound(err) && !strings.Contains(assetPath, ".") {
		// extensionless path, assume client-side route
		obj, err = r.getObject(ctx, store.AssetKey(project, IndexFile))
		spa = err == nil
	}
	if err != nil {
		if store.IsNotFound(err) {
			res.Outcome = NotFoundAsset
			r.obs.ObserveResolve(res.Outcome, false)
			return res, nil
		}
		return res, xerrors.Wrapf(err, "resolve %q: asset %q", project, assetPath)
	}

	a := &Asset{
		Project:      project,
		Path:         assetPath,
		SPAFallback:  spa,
		Body:         obj.Body,
		Size:         obj.Size,
		ETag:         obj.ETag,
		LastModified: obj.LastModified,
	}
	if spa {
		a.ContentType = mediatype.HTML
		a.CacheControl = mediatype.CacheRevalidate
	} else {
		a.ContentType = mediatype.ContentType(assetPath)
		a.CacheControl = mediatype.CacheControl(a.ContentType)
	}

	res.Outcome = Found
	res.Asset = a
	r.obs.ObserveResolve(res.Outcome, spa)
	return res, nil
}

func (r *Resolver) getMetadata(ctx context.Context, project string) (*store.ProjectMetadata, error) {
	start := r.now()
	meta, err := r.metadata.Get(ctx, project)
	r.obs.ObserveStore("metadata_get", r.now().Sub(start), storeErr(err))
	return meta, err
}

func (r *Resolver) getObject(ctx context.Context, key string) (*store.Object, error) {
	start := r.now()
	obj, err := r.objects.Get(ctx, key)
	r.obs.ObserveStore("object_get", r.now().Sub(start), storeErr(err))
	return obj, err
}

// storeErr hides not-found from the observer, it is a normal outcome
func storeErr(err error) error {
	if store.IsNotFound(err) {
		return nil
	}
	return err
}
