// Package analytics sends server-side pageview events to PostHog.
//
// Tracking never blocks request handling: events are queued on a bounded
// channel and posted by a single worker. Events that do not fit in the queue,
// exceed the outbound rate or fail to post are dropped and reported through
// the OnResult callback.
package analytics

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-demos/internal/log"
	"github.com/keithlinneman/linnemanlabs-demos/internal/xerrors"
)

// Results passed to OnResult.
const (
	ResultSent               = "sent"
	ResultFailed             = "failed"
	ResultDroppedQueueFull   = "dropped_queue_full"
	ResultDroppedRateLimited = "dropped_rate_limited"
)

const (
	DefaultRate      = 20
	DefaultQueueSize = 1024
	DefaultTimeout   = 5 * time.Second

	pageviewEvent = "$pageview"
)

// Event is one served page.
type Event struct {
	URL       string
	Project   string
	ClientIP  string
	UserAgent string
	Referrer  string
	At        time.Time
}

// Tracker accepts pageviews. Implementations must not block.
type Tracker interface {
	Track(ev Event)
}

type nopTracker struct{}

func (nopTracker) Track(Event) {}

// Nop returns a Tracker that discards everything.
func Nop() Tracker { return nopTracker{} }

type PostHogOptions struct {
	// Host is the ingestion base url, e.g. https://us.i.posthog.com
	Host   string
	APIKey string

	// Rate is the max events posted per second, Burst defaults to Rate
	Rate      float64
	Burst     int
	QueueSize int

	Client   *http.Client
	Logger   log.Logger
	OnResult func(result string)
}

type PostHog struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
	queue    chan Event
	logger   log.Logger
	onResult func(string)
	now      func() time.Time
}

func NewPostHog(opts PostHogOptions) (*PostHog, error) {
	host := strings.TrimRight(strings.TrimSpace(opts.Host), "/")
	if host == "" {
		return nil, xerrors.New("analytics: posthog host is required")
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, xerrors.New("analytics: posthog api key is required")
	}
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}
	if opts.Burst <= 0 {
		opts.Burst = max(1, int(opts.Rate))
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Client == nil {
		opts.Client = &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.OnResult == nil {
		opts.OnResult = func(string) {}
	}

	return &PostHog{
		endpoint: host + "/capture/",
		apiKey:   strings.TrimSpace(opts.APIKey),
		client:   opts.Client,
		limiter:  rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		queue:    make(chan Event, opts.QueueSize),
		logger:   opts.Logger,
		onResult: opts.OnResult,
		now:      time.Now,
	}, nil
}

// Track queues ev, dropping it when the queue is full.
func (p *PostHog) Track(ev Event) {
	if ev.At.IsZero() {
		ev.At = p.now()
	}
	select {
	case p.queue <- ev:
	default:
		p.onResult(ResultDroppedQueueFull)
	}
}

// Run posts queued events until ctx is done. Events still queued at that
// point are discarded.
func (p *PostHog) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.queue:
			if !p.limiter.Allow() {
				p.onResult(ResultDroppedRateLimited)
				continue
			}
			if err := p.send(ctx, ev); err != nil {
				p.logger.Debug(ctx, "analytics event not sent", "err", err.Error(), "demo.project", ev.Project)
				p.onResult(ResultFailed)
				continue
			}
			p.onResult(ResultSent)
		}
	}
}

type capturePayload struct {
	APIKey     string         `json:"api_key"`
	Event      string         `json:"event"`
	DistinctID string         `json:"distinct_id"`
	Properties map[string]any `json:"properties"`
	Timestamp  string         `json:"timestamp"`
}

func (p *PostHog) send(ctx context.Context, ev Event) error {
	props := map[string]any{
		"$current_url": ev.URL,
		// no person profiles, pageviews are anonymous
		"$process_person_profile": false,
	}
	if ev.Project != "" {
		props["demo"] = ev.Project
	}
	if ev.Referrer != "" {
		props["$referrer"] = ev.Referrer
	}

	body, err := json.Marshal(capturePayload{
		APIKey:     p.apiKey,
		Event:      pageviewEvent,
		DistinctID: DistinctID(ev.ClientIP, ev.UserAgent),
		Properties: props,
		Timestamp:  ev.At.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return xerrors.Wrap(err, "encode capture payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return xerrors.Wrap(err, "build capture request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return xerrors.Wrap(err, "post capture")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return xerrors.Newf("capture returned status %d", resp.StatusCode)
	}
	return nil
}

// DistinctID derives a stable anonymous visitor id so raw client addresses
// never leave the process.
func DistinctID(clientIP, userAgent string) string {
	sum := sha256.Sum256([]byte(clientIP + "|" + userAgent))
	return "anon-" + hex.EncodeToString(sum[:12])
}
