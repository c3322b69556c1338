package httpmw

import (
	"context"
	"sync"
	"testing"

	"github.com/keithlinneman/linnemanlabs-demos/internal/log"
)

type entry struct {
	level  string
	msg    string
	err    error
	fields map[string]any
}

type sink struct {
	mu      sync.Mutex
	entries []entry
}

// recLogger records every call, with fields from With merged in, into a
// sink shared by all its children.
type recLogger struct {
	s  *sink
	kv []any
}

func newRecLogger() *recLogger { return &recLogger{s: &sink{}} }

func (l *recLogger) With(kv ...any) log.Logger {
	return &recLogger{s: l.s, kv: append(append([]any{}, l.kv...), kv...)}
}

func (l *recLogger) add(level, msg string, err error, kv []any) {
	fields := map[string]any{}
	all := append(append([]any{}, l.kv...), kv...)
	for i := 0; i+1 < len(all); i += 2 {
		if k, ok := all[i].(string); ok {
			fields[k] = all[i+1]
		}
	}
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.entries = append(l.s.entries, entry{level: level, msg: msg, err: err, fields: fields})
}

func (l *recLogger) Debug(_ context.Context, msg string, kv ...any) { l.add("debug", msg, nil, kv) }
func (l *recLogger) Info(_ context.Context, msg string, kv ...any)  { l.add("info", msg, nil, kv) }
func (l *recLogger) Warn(_ context.Context, msg string, kv ...any)  { l.add("warn", msg, nil, kv) }
func (l *recLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	l.add("error", msg, err, kv)
}
func (l *recLogger) Sync() error { return nil }

func (l *recLogger) all() []entry {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return append([]entry(nil), l.s.entries...)
}

func (l *recLogger) only(t *testing.T) entry {
	t.Helper()
	es := l.all()
	if len(es) != 1 {
		t.Fatalf("logged %d entries, want 1: %+v", len(es), es)
	}
	return es[0]
}
