package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-demos/internal/health"
	"github.com/keithlinneman/linnemanlabs-demos/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-demos/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	ClientIPOpts httpmw.ClientIPOptions
	// CORS is skipped when nil
	CORS        *httpmw.CORSOptions
	RateLimitMW func(http.Handler) http.Handler
	MetricsMW   func(http.Handler) http.Handler
	Health      health.Probe
	Readiness   health.Probe
	// Routes registers the public routes, e.g. demohttp.Handler.RegisterRoutes
	Routes func(chi.Router)
}
