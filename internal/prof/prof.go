// Package prof runs the pyroscope continuous profiling agent.
package prof

import (
	"context"
	"net/url"
	"runtime"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/linnemanlabs-demos/internal/log"
	"github.com/keithlinneman/linnemanlabs-demos/internal/xerrors"
)

type Options struct {
	Enabled       bool
	AppName       string
	ServerAddress string
	AuthToken     string
	TenantID      string
	Tags          map[string]string

	// Profiles defaults to DefaultProfiles when empty.
	Profiles []pyroscope.ProfileType

	ProfileMutexFraction int
	BlockProfileRate     int
}

// DefaultProfiles covers cpu, heap, goroutines, mutex and block contention.
var DefaultProfiles = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexCount,
	pyroscope.ProfileMutexDuration,
	pyroscope.ProfileBlockCount,
	pyroscope.ProfileBlockDuration,
}

func noop() {}

func (o Options) validate() error {
	if o.ServerAddress == "" {
		return xerrors.New("pyroscope server address is required")
	}
	u, err := url.Parse(o.ServerAddress)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return xerrors.Newf("pyroscope server address must be an http(s) URL (got %q)", o.ServerAddress)
	}
	if o.AppName == "" {
		return xerrors.New("pyroscope app name is required")
	}
	return nil
}

// Start launches the profiler when enabled. The returned stop func is
// always non-nil and safe to call more than once.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)
	if !opts.Enabled {
		L.Info(ctx, "pyroscope disabled")
		return noop, nil
	}
	if err := opts.validate(); err != nil {
		return noop, err
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}
	profiles := opts.Profiles
	if len(profiles) == 0 {
		profiles = DefaultProfiles
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: opts.AppName,
		ServerAddress:   opts.ServerAddress,
		AuthToken:       opts.AuthToken,
		TenantID:        opts.TenantID,
		Tags:            opts.Tags,
		ProfileTypes:    profiles,
	})
	if err != nil {
		return noop, xerrors.Wrapf(err, "start pyroscope agent for %s", opts.ServerAddress)
	}
	L.Info(ctx, "pyroscope started", "server_address", opts.ServerAddress, "app_name", opts.AppName, "profiles", len(profiles))

	stopped := false
	return func() {
		if stopped {
			return
		}
		stopped = true
		_ = profiler.Stop()
		L.Info(context.Background(), "pyroscope stopped", "server_address", opts.ServerAddress)
	}, nil
}
