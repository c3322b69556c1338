package ratelimit

import (
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/keithlinneman/linnemanlabs-demos/internal/httpmw"
)

const (
	DefaultLimit         = 100
	DefaultWindow        = time.Minute
	DefaultSweepFraction = 0.01

	// UnknownIdentifier is the shared bucket for requests without a client identity.
	UnknownIdentifier = "unknown"
)

// window holds admission times for one identifier, oldest first
type window struct {
	times []time.Time
	// logged tracks whether we have already emitted the first-denial hook
	// resets when the entry is swept and re-created
	logged bool
}

// Decision is the outcome of a single check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is how long until the oldest counted request leaves the window.
	// Zero when allowed.
	RetryAfter time.Duration
	// ResetAt is when the oldest counted request leaves the window.
	ResetAt time.Time
}

// Limiter is a sliding-window request counter keyed by client identifier.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window

	// fixed at construction
	limit  int
	window time.Duration

	now           func() time.Time
	rand          func() float64
	sweepFraction float64

	// OnFirstDenied is called once per identifier when it is first rejected
	OnFirstDenied func(id string)

	// OnDenied is called on every rejected request, used for incrementing prometheus counter
	OnDenied func(id string)
}

type Option func(*Limiter)

// WithClock replaces time.Now, tests use it to advance time deterministically.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSweepFraction sets the probability that an admitted request triggers a
// sweep of the whole table. 0 disables amortized sweeping, Sweep can still be
// called directly.
func WithSweepFraction(f float64) Option {
	return func(l *Limiter) {
		l.sweepFraction = math.Min(math.Max(f, 0), 1)
	}
}

// WithRand replaces the random source used to decide when to sweep.
func WithRand(fn func() float64) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.rand = fn
		}
	}
}

// WithOnFirstDenied sets a callback for the first denial per identifier, used for logging.
// Separate from OnDenied so we log once but count every denial
func WithOnFirstDenied(fn func(id string)) Option {
	return func(l *Limiter) {
		l.OnFirstDenied = fn
	}
}

// WithOnDenied sets a callback for every denied request. used for incrementing prometheus counters
func WithOnDenied(fn func(id string)) Option {
	return func(l *Limiter) {
		l.OnDenied = fn
	}
}

// New creates a Limiter admitting at most limit requests per identifier in any
// trailing interval of length window. Non-positive values fall back to
// DefaultLimit and DefaultWindow.
func New(limit int, win time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if win <= 0 {
		win = DefaultWindow
	}
	l := &Limiter{
		windows:       make(map[string]*window),
		limit:         limit,
		window:        win,
		now:           time.Now,
		rand:          rand.Float64,
		sweepFraction: DefaultSweepFraction,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Limiter) Limit() int            { return l.limit }
func (l *Limiter) Window() time.Duration { return l.window }

// Allow reports whether a request from id is admitted, recording it if so.
func (l *Limiter) Allow(id string) bool {
	return l.Decide(id).Allowed
}

// prune drops timestamps at or before start. times is sorted ascending.
func prune(times []time.Time, start time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(start) {
		i++
	}
	if i == 0 {
		return times
	}
	if i == len(times) {
		return times[:0]
	}
	// copy down so the backing array does not grow without bound
	n := copy(times, times[i:])
	return times[:n]
}

// Decide evaluates and, when admitted, records a request from id. The
// read-modify-write of id's window happens under one lock with no I/O so
// concurrent calls for the same id are serialized.
func (l *Limiter) Decide(id string) Decision {
	if id == "" {
		id = UnknownIdentifier
	}

	now := l.now()
	start := now.Add(-l.window)

	l.mu.Lock()
	w := l.windows[id]
	if w != nil {
		w.times = prune(w.times, start)
	}

	if w != nil && len(w.times) >= l.limit {
		reset := w.times[0].Add(l.window)
		first := !w.logged
		w.logged = true
		// release lock before calling hooks, they may do slow work
		l.mu.Unlock()

		if first && l.OnFirstDenied != nil {
			l.OnFirstDenied(id)
		}
		if l.OnDenied != nil {
			l.OnDenied(id)
		}
		return Decision{
			Allowed:    false,
			Limit:      l.limit,
			Remaining:  0,
			RetryAfter: reset.Sub(now),
			ResetAt:    reset,
		}
	}

	if w == nil {
		w = &window{times: make([]time.Time, 0, min(l.limit, 16))}
		l.windows[id] = w
	}
	w.times = append(w.times, now)

	d := Decision{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - len(w.times),
		ResetAt:   w.times[0].Add(l.window),
	}

	if l.sweepFraction > 0 && l.rand() < l.sweepFraction {
		l.sweepLocked(now)
	}
	l.mu.Unlock()

	return d
}

// Sweep prunes every identifier to its in-window entries and forgets
// identifiers with none left.
func (l *Limiter) Sweep() {
	now := l.now()
	l.mu.Lock()
	l.sweepLocked(now)
	l.mu.Unlock()
}

func (l *Limiter) sweepLocked(now time.Time) {
	start := now.Add(-l.window)
	for id, w := range l.windows {
		w.times = prune(w.times, start)
		if len(w.times) == 0 {
			delete(l.windows, id)
		}
	}
}

// Len returns the number of identifiers currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// ceilSeconds rounds d up to whole seconds, never below 1
func ceilSeconds(d time.Duration) int64 {
	s := int64(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// ceilUnix rounds t up to the next whole unix second
func ceilUnix(t time.Time) int64 {
	s := t.Unix()
	if t.Nanosecond() > 0 {
		s++
	}
	return s
}

// Middleware returns middleware that rejects requests over the per-client limit with 429
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// resolved by httpmw.ClientIP, which decides whether forwarded headers are trusted
		id := httpmw.ClientIPFromContext(r.Context())

		d := l.Decide(id)
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(ceilUnix(d.ResetAt), 10))

		if !d.Allowed {
			h.Set("Content-Type", "application/json; charset=utf-8")
			h.Set("Cache-Control", "no-store")
			h.Set("Retry-After", strconv.FormatInt(ceilSeconds(d.RetryAfter), 10))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
