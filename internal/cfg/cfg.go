package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-demos/internal/log"
)

// Store backends
const (
	BackendS3     = "s3"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Analytics providers
const (
	AnalyticsNone    = "none"
	AnalyticsPostHog = "posthog"
)

// App is the full server configuration, bound to flags by Register and
// overlaid from the environment by FillFromEnv.
type App struct {
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int
	ShutdownDrain     time.Duration

	// request handling
	TrustedHops       int
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitSweep    float64
	CORSOrigins       string

	// stores
	StoreBackend     string
	MetadataBackend  string
	AssetsS3Bucket   string
	AssetsS3Prefix   string
	MetadataS3Prefix string
	RedisAddr        string
	RedisDB          int
	RedisPrefix      string
	SeedDir          string

	// analytics
	AnalyticsProvider     string
	PostHogHost           string
	PostHogAPIKeySSMParam string
	AnalyticsRate         float64
	AnalyticsQueue        int
}

// Register binds every App field to a flag on fs. Defaults live here.
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.DurationVar(&c.ShutdownDrain, "shutdown-drain", 60*time.Second, "time to keep serving after readiness fails on shutdown (0..5m)")

	fs.IntVar(&c.TrustedHops, "trusted-hops", 1, "number of trusted proxies in front of the server (0 ignores X-Forwarded-For)")
	fs.IntVar(&c.RateLimitRequests, "rate-limit-requests", 100, "max requests per client within rate-limit-window")
	fs.DurationVar(&c.RateLimitWindow, "rate-limit-window", time.Minute, "sliding rate limit window")
	fs.Float64Var(&c.RateLimitSweep, "rate-limit-sweep", 0.01, "fraction of admitted requests that sweep idle clients (0..1)")
	fs.StringVar(&c.CORSOrigins, "cors-origins", "https://linnemanlabs.com,https://www.linnemanlabs.com", "comma separated origins allowed cross-origin access")

	fs.StringVar(&c.StoreBackend, "store-backend", BackendS3, "asset object store: s3|memory")
	fs.StringVar(&c.MetadataBackend, "metadata-backend", BackendS3, "project metadata store: s3|redis|memory")
	fs.StringVar(&c.AssetsS3Bucket, "assets-s3-bucket", "phxi-demos-prod-use2-assets", "s3 bucket holding demo assets and metadata documents")
	fs.StringVar(&c.AssetsS3Prefix, "assets-s3-prefix", "demos", "s3 prefix (key) under which {project}/{path} assets live")
	fs.StringVar(&c.MetadataS3Prefix, "metadata-s3-prefix", "metadata", "s3 prefix (key) under which {project}.json metadata lives")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "redis host:port for the redis metadata backend")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis logical database")
	fs.StringVar(&c.RedisPrefix, "redis-prefix", "demos:meta:", "redis key prefix for metadata documents")
	fs.StringVar(&c.SeedDir, "seed-dir", "", "local directory of projects (each with demo.yaml) for memory backends")

	fs.StringVar(&c.AnalyticsProvider, "analytics-provider", AnalyticsNone, "server-side pageview analytics: none|posthog")
	fs.StringVar(&c.PostHogHost, "posthog-host", "https://us.i.posthog.com", "posthog ingestion base url")
	fs.StringVar(&c.PostHogAPIKeySSMParam, "posthog-api-key-ssm-param", "/app/linnemanlabs-demos/server/posthog/api-key", "ssm SecureString parameter holding the posthog project api key")
	fs.Float64Var(&c.AnalyticsRate, "analytics-rate", 20, "max analytics events sent per second")
	fs.IntVar(&c.AnalyticsQueue, "analytics-queue", 1024, "analytics events buffered before dropping")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Origins splits CORSOrigins, dropping blanks.
func (c App) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// NeedsSeed reports whether any store is served from memory.
func (c App) NeedsSeed() bool {
	return c.StoreBackend == BackendMemory || c.MetadataBackend == BackendMemory
}

// problems collects validation failures so every bad field is reported at once.
type problems []error

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Errorf(format, args...))
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var p problems
	c.validateServer(&p)
	c.validateObservability(&p)
	c.validateRequests(&p)
	c.validateStores(&p)
	c.validateAnalytics(&p)
	return errors.Join(p...)
}

func (c App) validateServer(p *problems) {
	if !validPort(c.HTTPPort) {
		p.addf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort)
	}
	if !validPort(c.AdminPort) {
		p.addf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort)
	}
	if c.AdminPort == c.HTTPPort {
		p.addf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort)
	}
	if c.ShutdownDrain < 0 || c.ShutdownDrain > 5*time.Minute {
		p.addf("SHUTDOWN_DRAIN must be 0..5m (got %s)", c.ShutdownDrain)
	}
}

func (c App) validateObservability(p *problems) {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		p.addf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			p.addf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err)
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		p.addf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks)
	}
	if c.TraceSample < 0 || c.TraceSample > 1 {
		p.addf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample)
	}

	if c.EnablePyroscope {
		switch {
		case c.PyroServer == "":
			p.addf("PYRO_SERVER required when ENABLE_PYROSCOPE=true")
		case !isURL(c.PyroServer):
			p.addf("PYRO_SERVER must be a URL (got %q)", c.PyroServer)
		}
		if c.PyroTenantID == "" {
			p.addf("PYRO_TENANT required when ENABLE_PYROSCOPE=true")
		}
	}

	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			p.addf("OTLP_ENDPOINT required when ENABLE_TRACING=true")
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			p.addf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err)
		}
	}
}

func (c App) validateRequests(p *problems) {
	if c.TrustedHops < 0 {
		p.addf("TRUSTED_HOPS must be >= 0 (got %d)", c.TrustedHops)
	}
	if c.RateLimitRequests < 1 {
		p.addf("RATE_LIMIT_REQUESTS must be > 0 (got %d)", c.RateLimitRequests)
	}
	if c.RateLimitWindow <= 0 {
		p.addf("RATE_LIMIT_WINDOW must be > 0 (got %s)", c.RateLimitWindow)
	}
	if c.RateLimitSweep < 0 || c.RateLimitSweep > 1 {
		p.addf("RATE_LIMIT_SWEEP must be 0..1 (got %.3f)", c.RateLimitSweep)
	}
	for _, o := range c.Origins() {
		u, err := url.Parse(o)
		if err != nil || !isURL(o) || (u.Path != "" && u.Path != "/") {
			p.addf("CORS_ORIGINS entry must be scheme://host[:port] (got %q)", o)
		}
	}
}

func (c App) validateStores(p *problems) {
	switch c.StoreBackend {
	case BackendS3, BackendMemory:
	default:
		p.addf("invalid STORE_BACKEND %q (must be s3|memory)", c.StoreBackend)
	}
	switch c.MetadataBackend {
	case BackendS3, BackendRedis, BackendMemory:
	default:
		p.addf("invalid METADATA_BACKEND %q (must be s3|redis|memory)", c.MetadataBackend)
	}

	if (c.StoreBackend == BackendS3 || c.MetadataBackend == BackendS3) && c.AssetsS3Bucket == "" {
		p.addf("ASSETS_S3_BUCKET is required for the s3 backend")
	}
	if c.MetadataBackend == BackendRedis {
		if c.RedisAddr == "" {
			p.addf("REDIS_ADDR required when METADATA_BACKEND=redis")
		} else if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
			p.addf("REDIS_ADDR must be host:port (got %q): %v", c.RedisAddr, err)
		}
		if c.RedisDB < 0 {
			p.addf("REDIS_DB must be >= 0 (got %d)", c.RedisDB)
		}
	}
	if !c.NeedsSeed() {
		return
	}
	if c.SeedDir == "" {
		p.addf("SEED_DIR required for memory backends")
	} else if fi, err := os.Stat(c.SeedDir); err != nil || !fi.IsDir() {
		p.addf("SEED_DIR %q must be an existing directory", c.SeedDir)
	}
}

func (c App) validateAnalytics(p *problems) {
	switch c.AnalyticsProvider {
	case AnalyticsNone:
	case AnalyticsPostHog:
		if !isURL(c.PostHogHost) {
			p.addf("POSTHOG_HOST must be a URL (got %q)", c.PostHogHost)
		}
		if c.PostHogAPIKeySSMParam == "" {
			p.addf("POSTHOG_API_KEY_SSM_PARAM required when ANALYTICS_PROVIDER=posthog")
		}
		if c.AnalyticsRate <= 0 {
			p.addf("ANALYTICS_RATE must be > 0 (got %.2f)", c.AnalyticsRate)
		}
		if c.AnalyticsQueue < 1 {
			p.addf("ANALYTICS_QUEUE must be > 0 (got %d)", c.AnalyticsQueue)
		}
	default:
		p.addf("invalid ANALYTICS_PROVIDER %q (must be none|posthog)", c.AnalyticsProvider)
	}
}
