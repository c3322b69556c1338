// Package demohttp routes public requests to the project listing, the api
// placeholder and per-project assets.
package demohttp

import (
	"bytes"
	"context"
	"encoding/json"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-demos/internal/analytics"
	"github.com/keithlinneman/linnemanlabs-demos/internal/assets"
	"github.com/keithlinneman/linnemanlabs-demos/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-demos/internal/log"
	"github.com/keithlinneman/linnemanlabs-demos/internal/mediatype"
	"github.com/keithlinneman/linnemanlabs-demos/internal/store"
	"github.com/keithlinneman/linnemanlabs-demos/internal/webassets"
	"github.com/keithlinneman/linnemanlabs-demos/internal/xerrors"
)

const (
	// AllowedMethods is advertised on 405 responses.
	AllowedMethods = "GET, HEAD, OPTIONS"

	ListingCacheControl = "public, max-age=300"
	DefaultTitle        = "LinnemanLabs Demos"

	headerDemoName = "X-Demo-Name"
	headerSPARoute = "X-SPA-Route"
)

// Resolver locates assets for a request path.
type Resolver interface {
	Resolve(ctx context.Context, pathname string) (assets.Result, error)
}

// Lister returns projects in display order.
type Lister interface {
	Projects(ctx context.Context) ([]store.ProjectMetadata, error)
}

type Options struct {
	Logger  log.Logger
	Assets  Resolver
	Catalog Lister
	Tracker analytics.Tracker
	Title   string

	// OnListing receives the project count of each rendered listing
	OnListing func(projects int)
}

type Handler struct {
	logger    log.Logger
	assets    Resolver
	catalog   Lister
	tracker   analytics.Tracker
	title     string
	onListing func(int)

	listing *template.Template
	robots  []byte
}

func New(opts Options) (*Handler, error) {
	if opts.Assets == nil {
		return nil, xerrors.New("demohttp: Assets resolver is required")
	}
	if opts.Catalog == nil {
		return nil, xerrors.New("demohttp: Catalog is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Tracker == nil {
		opts.Tracker = analytics.Nop()
	}
	if opts.Title == "" {
		opts.Title = DefaultTitle
	}
	if opts.OnListing == nil {
		opts.OnListing = func(int) {}
	}

	tmpl, err := webassets.ListingTemplate()
	if err != nil {
		return nil, xerrors.Wrap(err, "demohttp: listing template")
	}
	robots, err := fs.ReadFile(webassets.StaticFS(), "robots.txt")
	if err != nil {
		return nil, xerrors.Wrap(err, "demohttp: robots.txt")
	}

	return &Handler{
		logger:    opts.Logger,
		assets:    opts.Assets,
		catalog:   opts.Catalog,
		tracker:   opts.Tracker,
		title:     opts.Title,
		onListing: opts.OnListing,
		listing:   tmpl,
		robots:    robots,
	}, nil
}

// RegisterRoutes attaches every public route. It owns the whole path space
// so it must be the only registrar on its router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	listing := r.With(httpmw.Scope("listing"))
	listing.Get("/", h.HandleListing)
	listing.Head("/", h.HandleListing)

	// only the listing endpoint is reserved, other /api/... paths belong to a project named api
	api := r.With(httpmw.Scope("api"))
	for _, p := range []string{"/api/demos", "/api/demos/"} {
		api.Get(p, h.HandleAPI)
		api.Head(p, h.HandleAPI)
	}

	r.Get("/robots.txt", h.HandleRobots)
	r.Head("/robots.txt", h.HandleRobots)

	demo := r.With(httpmw.Scope("asset"))
	demo.Get("/{project}", h.HandleAsset)
	demo.Head("/{project}", h.HandleAsset)
	demo.Get("/{project}/*", h.HandleAsset)
	demo.Head("/{project}/*", h.HandleAsset)

	r.MethodNotAllowed(methodNotAllowed)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		notFound(w, "Not found")
	})
}

type listingPage struct {
	Title    string
	Projects []store.ProjectMetadata
}

func (h *Handler) HandleListing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projects, err := h.catalog.Projects(ctx)
	if err != nil {
		h.serverError(w, r, err, "list projects failed")
		return
	}
	h.onListing(len(projects))

	// render fully before writing so a template failure can still be a 500
	var buf bytes.Buffer
	if err := h.listing.Execute(&buf, listingPage{Title: h.title, Projects: projects}); err != nil {
		h.serverError(w, r, xerrors.Wrap(err, "render listing"), "render listing failed")
		return
	}

	w.Header().Set("Content-Type", mediatype.HTML)
	w.Header().Set("Cache-Control", ListingCacheControl)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(buf.Bytes())
		h.trackPageview(r, "")
	}
}

type apiMessage struct {
	Message string `json:"message"`
}

// HandleAPI is the placeholder for future demo management endpoints.
func (h *Handler) HandleAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, r, http.StatusOK, apiMessage{Message: "API coming soon"})
}

func (h *Handler) HandleRobots(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", mediatype.CacheDefault)
	w.Header().Set("Content-Length", strconv.Itoa(len(h.robots)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(h.robots)
	}
}

func (h *Handler) HandleAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	res, err := h.assets.Resolve(ctx, r.URL.Path)
	if err != nil {
		h.serverError(w, r, err, "resolve asset failed", "demo.project", res.Project)
		return
	}

	switch res.Outcome {
	case assets.NotFoundProject:
		notFound(w, "Demo not found")
		return
	case assets.NotFoundAsset:
		notFound(w, "Asset not found")
		return
	}

	a := res.Asset
	defer a.Body.Close()

	hdr := w.Header()
	hdr.Set("Content-Type", a.ContentType)
	hdr.Set("Cache-Control", a.CacheControl)
	if a.SPAFallback {
		hdr.Set(headerSPARoute, "true")
	} else {
		hdr.Set(headerDemoName, a.Project)
	}
	if a.ETag != "" {
		hdr.Set("ETag", a.ETag)
	}
	if !a.LastModified.IsZero() {
		hdr.Set("Last-Modified", a.LastModified.UTC().Format(http.TimeFormat))
	}

	if notModified(r, a.ETag, a.LastModified) {
		// 304 carries validators and cache headers but never entity headers
		hdr.Del("Content-Type")
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if a.Size >= 0 {
		hdr.Set("Content-Length", strconv.FormatInt(a.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}

	if _, err := io.Copy(w, a.Body); err != nil {
		// headers are gone, all we can do is record it
		h.logger.Warn(ctx, "asset body copy interrupted",
			"request_id", httpmw.RequestIDFromContext(ctx),
			"demo.project", a.Project,
			"err", err.Error(),
		)
		return
	}
	if strings.HasPrefix(a.ContentType, "text/html") {
		h.trackPageview(r, a.Project)
	}
}

func (h *Handler) trackPageview(r *http.Request, project string) {
	h.tracker.Track(analytics.Event{
		URL:       requestScheme(r) + "://" + r.Host + r.URL.Path,
		Project:   project,
		ClientIP:  httpmw.ClientIPFromContext(r.Context()),
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
		At:        time.Now(),
	})
}

func requestScheme(r *http.Request) string {
	if p, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ","); p != "" {
		if p = strings.ToLower(strings.TrimSpace(p)); p == "http" || p == "https" {
			return p
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// notModified evaluates If-None-Match, falling back to If-Modified-Since only
// when no entity tag precondition was sent.
func notModified(r *http.Request, etag string, modified time.Time) bool {
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		if etag == "" {
			return false
		}
		for _, candidate := range strings.Split(inm, ",") {
			candidate = strings.TrimSpace(candidate)
			if candidate == "*" || weakMatch(candidate, etag) {
				return true
			}
		}
		return false
	}
	if ims := r.Header.Get("If-Modified-Since"); ims != "" && !modified.IsZero() {
		t, err := http.ParseTime(ims)
		if err != nil {
			return false
		}
		return !modified.Truncate(time.Second).After(t)
	}
	return false
}

func weakMatch(a, b string) bool {
	return strings.TrimPrefix(a, "W/") == strings.TrimPrefix(b, "W/")
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error, msg string, kv ...any) {
	ctx := r.Context()
	h.logger.With(
		"request_id", httpmw.RequestIDFromContext(ctx),
		"http.request.method", r.Method,
		"url.path", r.URL.Path,
	).Error(ctx, err, msg, kv...)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte("Internal Server Error"))
}

func notFound(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(body))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", AllowedMethods)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusMethodNotAllowed)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(b)
	}
}
