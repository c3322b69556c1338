// Package xerrors attaches call-site information to errors so the logger
// can report where a failure entered the chain.
//
// New, Newf, WithStack and EnsureTrace capture a full stack. Wrap and
// Wrapf record only the single frame that wrapped.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }

type wrapped struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrapped) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }
func (w *wrapped) PC() uintptr   { return w.pc }

// callers skips runtime.Callers, callers itself and the exported
// constructor, so pcs[0] is whoever called New/WithStack/...
func callers() []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	return pcs[:runtime.Callers(3, pcs)]
}

func caller() uintptr {
	var pc [1]uintptr
	runtime.Callers(3, pc[:])
	return pc[0]
}

func New(msg string) error { return &stacked{err: errors.New(msg), pcs: callers()} }

func Newf(format string, args ...any) error {
	return &stacked{err: fmt.Errorf(format, args...), pcs: callers()}
}

func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: callers()}
}

// EnsureTrace is WithStack unless something in the chain already
// carries a stack.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var st interface{ StackPCs() []uintptr }
	if errors.As(err, &st) && len(st.StackPCs()) > 0 {
		return err
	}
	return &stacked{err: err, pcs: callers()}
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: msg, pc: caller()}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: fmt.Sprintf(format, args...), pc: caller()}
}
