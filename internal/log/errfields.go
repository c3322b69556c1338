package log

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// implemented by xerrors wrappers
type (
	pcCarrier   interface{ PC() uintptr }
	stackTracer interface{ StackPCs() []uintptr }
)

// errorFields expands err into the kv pairs attached to every Error record.
func errorFields(err error, links bool, maxLinks int) []any {
	surface, root := classifyTypes(err)
	kv := []any{"err", err, "error_type", surface, "cause_type", root}
	if chain := errorChain(err); len(chain) > 0 {
		kv = append(kv, "error_chain", chain)
	}
	if links {
		kv = append(kv, "error_links", chainLinks(err, maxLinks))
	}
	return kv
}

// errorChain lists distinct messages walking Unwrap, then the members of
// a top-level errors.Join.
func errorChain(err error) []string {
	var out []string
	last := ""
	add := func(msg string) {
		if msg != last {
			out = append(out, msg)
			last = msg
		}
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		add(e.Error())
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range j.Unwrap() {
			add(e.Error())
		}
	}
	return out
}

// chainLinks records msg plus the origin frame for up to max errors in
// the chain. Links after the first are kept only when a frame is known.
func chainLinks(err error, max int) []map[string]any {
	var links []map[string]any
	for depth, e := 0, err; e != nil && (max <= 0 || depth < max); depth, e = depth+1, errors.Unwrap(e) {
		link := map[string]any{"msg": e.Error()}
		fn, file, line, ok := originOf(e)
		if ok {
			link["func"], link["file"], link["line"] = fn, file, line
		}
		if depth == 0 || ok {
			links = append(links, link)
		}
	}
	return links
}

func originOf(e error) (fn, file string, line int, ok bool) {
	switch v := e.(type) {
	case pcCarrier:
		return frameFromPC(v.PC())
	case stackTracer:
		return firstExtFrame(v.StackPCs())
	}
	return "", "", 0, false
}

func frameFromPC(pc uintptr) (fn, file string, line int, ok bool) {
	if pc == 0 {
		return "", "", 0, false
	}
	fr, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return fr.Function, fr.File, fr.Line, true
}

// firstExtFrame returns the first frame outside runtime, slog and our
// own log/xerrors packages.
func firstExtFrame(pcs []uintptr) (fn, file string, line int, ok bool) {
	if len(pcs) == 0 {
		return "", "", 0, false
	}
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if !internalFrame(fr.Function) && !strings.Contains(fr.Function, "/internal/xerrors.") {
			return fr.Function, fr.File, fr.Line, true
		}
		if !more {
			return "", "", 0, false
		}
	}
}

func internalFrame(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") ||
		strings.HasPrefix(fn, "log/slog.") ||
		strings.Contains(fn, "/internal/log.")
}

// formatStack renders pcs as "func\n\tfile:line" pairs. Leading logger
// frames are skipped and output stops at the first runtime frame.
func formatStack(pcs []uintptr) string {
	var b strings.Builder
	frames := runtime.CallersFrames(pcs)
	started := false
	for {
		fr, more := frames.Next()
		if fr.Function == "" || strings.HasPrefix(fr.Function, "runtime.") {
			break
		}
		if !started && !internalFrame(fr.Function) {
			started = true
		}
		if started {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", fr.Function, fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

// classifyTypes reports the first non-wrapper type in the chain and the
// type of the innermost error.
func classifyTypes(err error) (surface, root string) {
	if err == nil {
		return "", ""
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if !isWrapper(e) {
			surface = reflect.TypeOf(e).String()
			break
		}
	}
	if surface == "" {
		surface = fmt.Sprintf("%T", err)
	}
	last := err
	for e := errors.Unwrap(err); e != nil; e = errors.Unwrap(e) {
		last = e
	}
	return surface, fmt.Sprintf("%T", last)
}

func isWrapper(e error) bool {
	t := reflect.TypeOf(e)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if strings.Contains(t.PkgPath(), "/internal/xerrors") {
		return true
	}
	return t.PkgPath() == "fmt" && t.Name() == "wrapError"
}
