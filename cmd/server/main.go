package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/linnemanlabs-demos/internal/analytics"
	"github.com/keithlinneman/linnemanlabs-demos/internal/assets"
	"github.com/keithlinneman/linnemanlabs-demos/internal/catalog"
	"github.com/keithlinneman/linnemanlabs-demos/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-demos/internal/demohttp"
	"github.com/keithlinneman/linnemanlabs-demos/internal/health"
	"github.com/keithlinneman/linnemanlabs-demos/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-demos/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-demos/internal/log"
	"github.com/keithlinneman/linnemanlabs-demos/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-demos/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-demos/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-demos/internal/prof"
	"github.com/keithlinneman/linnemanlabs-demos/internal/ratelimit"
	v "github.com/keithlinneman/linnemanlabs-demos/internal/version"
	"github.com/keithlinneman/linnemanlabs-demos/internal/xerrors"
)

const storePingTimeout = 2 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get build/version info
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%s)\n",
			v.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildID, vi.BuildDate, vi.GoVersion, vi.Dirty(),
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix DEMOS_ and validate
	cfg.FillFromEnv(flag.CommandLine, "DEMOS_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	lg, err := newLogger(conf, vi)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildID,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"trace_sample", conf.TraceSample,
		"store_backend", conf.StoreBackend,
		"metadata_backend", conf.MetadataBackend,
		"assets_s3_bucket", conf.AssetsS3Bucket,
		"assets_s3_prefix", conf.AssetsS3Prefix,
		"rate_limit_requests", conf.RateLimitRequests,
		"rate_limit_window", conf.RateLimitWindow,
		"trusted_hops", conf.TrustedHops,
		"cors_origins", conf.Origins(),
		"analytics_provider", conf.AnalyticsProvider,
	)

	// Setup pyroscope profiling
	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags:          profTags(vi),
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	m.SetProfilingActive(err == nil && conf.EnablePyroscope)
	defer func() { stopProf() }()

	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// aws config is only loaded when a backend or ssm actually needs it
	awsCfg := sync.OnceValues(func() (aws.Config, error) {
		return config.LoadDefaultConfig(ctx)
	})

	st, err := openStores(ctx, L, conf, awsCfg)
	if err != nil {
		L.Error(ctx, err, "failed to open stores")
		os.Exit(1)
	}
	m.SetStoreBackend(conf.StoreBackend, conf.MetadataBackend)

	resolver, err := assets.NewResolver(st.objects, st.metadata, assets.WithObserver(m))
	if err != nil {
		L.Error(ctx, err, "failed to create asset resolver")
		os.Exit(1)
	}
	cat, err := catalog.New(st.metadata)
	if err != nil {
		L.Error(ctx, err, "failed to create catalog")
		os.Exit(1)
	}

	tracker, err := newTracker(ctx, L, conf, m, awsCfg)
	if err != nil {
		// pageviews are best effort, serve without them
		L.Error(ctx, err, "analytics disabled")
		tracker = analytics.Nop()
	}

	demos, err := demohttp.New(demohttp.Options{
		Logger:    L,
		Assets:    resolver,
		Catalog:   cat,
		Tracker:   tracker,
		OnListing: m.SetCatalogProjects,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create demo handler")
		os.Exit(1)
	}

	// setup toggle for server shutdown
	var gate health.ShutdownGate
	readiness := health.All(append([]health.Probe{gate.Probe()}, st.readiness()...)...)

	limiter := ratelimit.New(conf.RateLimitRequests, conf.RateLimitWindow,
		ratelimit.WithSweepFraction(conf.RateLimitSweep),
		// increment prometheus counter on each denied request
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		// only log the first denial of each window per client
		ratelimit.WithOnFirstDenied(func(ip string) {
			m.IncRateLimitOffender()
			L.Warn(ctx, "rate limit triggered", "client.address", ip)
		}),
	)

	siteHTTPStop, err := httpserver.Start(ctx, httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		CORS:         &httpmw.CORSOptions{AllowedOrigins: conf.Origins()},
		RateLimitMW:  limiter.Middleware,
		MetricsMW:    m.Middleware,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		Routes:       demos.RegisterRoutes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener port")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// admin listener rejects public peers in middleware in case the sg is ever misconfigured
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()
	stop()
	L.Info(context.Background(), "shutdown signal received")

	drain(L, &gate, conf.ShutdownDrain)
	stopAll(L, 10*time.Second, map[string]func(context.Context) error{
		"site_http": siteHTTPStop,
		"ops_http":  opsHTTPStop,
	})
	// flush spans only once no request can start a new one
	stopAll(L, 5*time.Second, map[string]func(context.Context) error{"otel": shutdownOTEL})
	stopProf()
	st.Close()

	L.Info(context.Background(), "shutdown complete")
	os.Exit(0)
}

// drain fails readiness and keeps serving for d so the load balancer moves
// traffic away first. A second signal cuts the wait short.
func drain(L log.Logger, gate *health.ShutdownGate, d time.Duration) {
	ctx := context.Background()
	gate.Set("draining")
	L.Info(ctx, "shutdown gate closed", "drain", d)

	force := make(chan os.Signal, 1)
	signal.Notify(force, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(force)

	select {
	case <-time.After(d):
		L.Info(ctx, "drain period complete")
	case <-force:
		L.Warn(ctx, "second signal received, skipping drain")
	}
}

// stopAll runs the stop funcs concurrently under one deadline. Failures are
// logged, shutdown carries on regardless.
func stopAll(L log.Logger, timeout time.Duration, stops map[string]func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var g errgroup.Group
	for name, fn := range stops {
		g.Go(func() error {
			if err := fn(ctx); err != nil {
				L.Error(ctx, err, "shutdown failed", "component", name)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// newLogger builds the root logger. Levels were checked by cfg.Validate.
func newLogger(conf cfg.App, vi v.Info) (log.Logger, error) {
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		return nil, xerrors.Wrapf(err, "log level %q", conf.LogLevel)
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		return nil, xerrors.Wrapf(err, "stacktrace level %q", conf.StacktraceLevel)
	}
	return log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildID:           vi.BuildID,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSON:              conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
}

// newTracker builds the pageview tracker. The PostHog key is read from SSM
// at startup and the sender runs until ctx is cancelled.
func newTracker(ctx context.Context, L log.Logger, conf cfg.App, m *metrics.ServerMetrics, awsCfg func() (aws.Config, error)) (analytics.Tracker, error) {
	if conf.AnalyticsProvider != cfg.AnalyticsPostHog {
		return analytics.Nop(), nil
	}
	ac, err := awsCfg()
	if err != nil {
		return nil, err
	}
	key, err := analytics.LoadAPIKey(ctx, ssm.NewFromConfig(ac), conf.PostHogAPIKeySSMParam)
	if err != nil {
		return nil, err
	}
	ph, err := analytics.NewPostHog(analytics.PostHogOptions{
		Host:      conf.PostHogHost,
		APIKey:    key,
		Rate:      conf.AnalyticsRate,
		QueueSize: conf.AnalyticsQueue,
		Logger:    L,
		OnResult:  m.IncAnalyticsEvent,
	})
	if err != nil {
		return nil, err
	}
	go ph.Run(ctx)
	L.Info(ctx, "posthog analytics enabled", "host", conf.PostHogHost)
	return ph, nil
}

// profTags labels profiles with the build identity plus where they came from.
func profTags(vi v.Info) map[string]string {
	tags := vi.Tags()
	tags["app"] = v.AppName
	tags["component"] = "server"
	tags["source"] = "go-agent"
	return tags
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return xerrors.New("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return xerrors.Wrap(err, "systemd notify: dial")
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return xerrors.Wrap(err, "systemd notify: write")
	}
	return nil
}
