package log

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"
)

const defaultMaxErrorLinks = 8

type slogLogger struct {
	h     slog.Handler
	attrs []slog.Attr

	errorLinks    bool
	maxErrorLinks int
}

func newSlog(opts Options) (Logger, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	if opts.StacktraceLevel == 0 {
		opts.StacktraceLevel = slog.LevelError
	}
	if opts.MaxErrorLinks <= 0 {
		opts.MaxErrorLinks = defaultMaxErrorLinks
	}

	ho := &slog.HandlerOptions{Level: opts.Level, AddSource: true}
	var h slog.Handler = slog.NewTextHandler(w, ho)
	if opts.JSON {
		h = slog.NewJSONHandler(w, ho)
	}
	h = stackHandler{next: traceHandler{next: h}, level: opts.StacktraceLevel}

	attrs := []slog.Attr{slog.String("app", opts.App)}
	for _, a := range []slog.Attr{
		slog.String("version", opts.Version),
		slog.String("commit", opts.Commit),
		slog.String("build_id", opts.BuildID),
	} {
		if a.Value.String() != "" {
			attrs = append(attrs, a)
		}
	}

	return &slogLogger{
		h:             h,
		attrs:         attrs,
		errorLinks:    opts.IncludeErrorLinks,
		maxErrorLinks: opts.MaxErrorLinks,
	}, nil
}

// With returns a child logger. The parent's attrs are copied so
// children never share a backing array.
func (s *slogLogger) With(kv ...any) Logger {
	child := *s
	child.attrs = append(append(make([]slog.Attr, 0, len(s.attrs)+len(kv)/2), s.attrs...), kvAttrs(kv)...)
	return &child
}

func (s *slogLogger) Debug(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelDebug, msg, kv)
}

func (s *slogLogger) Info(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelInfo, msg, kv)
}

func (s *slogLogger) Warn(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelWarn, msg, kv)
}

func (s *slogLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	if err != nil {
		kv = append(kv, errorFields(err, s.errorLinks, s.maxErrorLinks)...)
	}
	s.emit(ctx, slog.LevelError, msg, kv)
}

func (s *slogLogger) Sync() error { return nil }

func (s *slogLogger) emit(ctx context.Context, lvl slog.Level, msg string, kv []any) {
	if !s.h.Enabled(ctx, lvl) {
		return
	}
	// runtime.Callers, emit, Debug/Info/Warn/Error
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	r := slog.NewRecord(time.Now(), lvl, msg, pcs[0])
	r.AddAttrs(s.attrs...)
	r.AddAttrs(kvAttrs(kv)...)
	_ = s.h.Handle(ctx, r)
}

// kvAttrs pairs up alternating keys and values. Non-string keys and a
// trailing odd value are dropped.
func kvAttrs(kv []any) []slog.Attr {
	out := make([]slog.Attr, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			out = append(out, slog.Any(k, kv[i+1]))
		}
	}
	return out
}
