package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-demos/internal/health"
)

// DefaultPort is used when Options.Port is zero.
const DefaultPort = 9000

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool

	// Health and Readiness back /healthz and /readyz, and the /-/healthy
	// and /-/ready aliases. nil always passes.
	Health    health.Probe
	Readiness health.Probe

	UseRecoverMW bool
	// OnPanic runs after a recovered panic, e.g. to count it.
	OnPanic func()
}
