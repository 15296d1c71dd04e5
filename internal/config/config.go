package config

import (
	"time"
)

// Default configuration values.
const (
	DefaultRegionGroup       = "default"
	DefaultGatewaysPerRegion = 1
	DefaultProvisionTimeout  = 60 * time.Second
	DefaultTeardownTimeout   = 30 * time.Second
	DefaultDrainTimeout      = 30 * time.Second
	DefaultMaxConcurrency    = 4
	DefaultPaginationLimit   = 50
	DefaultStageName         = "proxy-stage"

	DefaultRetryMaxRetries     = 3
	DefaultRetryInitialBackoff = 500 * time.Millisecond
	DefaultRetryMaxBackoff     = 10 * time.Second
	DefaultRetryJitterFactor   = 0.25

	DefaultRateLimitRPS   = 5.0
	DefaultRateLimitBurst = 10

	DefaultBreakerThreshold = 5
	DefaultBreakerTimeout   = 30 * time.Second

	DefaultRequestTimeout      = 60 * time.Second
	DefaultMaxIdleConns        = 100
	DefaultMaxIdleConnsPerHost = 10
	DefaultIdleConnTimeout     = 90 * time.Second

	DefaultMetricsAddress = ":9090"
)

// Config is the complete configuration of a proxy client and its gateway pool.
type Config struct {
	// BaseURL is the logical target every gateway forwards to.
	BaseURL string `yaml:"baseURL" json:"baseURL"`

	// Regions is either an explicit list of regions or a region group name.
	Regions RegionSpec `yaml:"regions,omitempty" json:"regions,omitempty"`

	// GatewaysPerRegion is the number of endpoints provisioned per region.
	GatewaysPerRegion int `yaml:"gatewaysPerRegion,omitempty" json:"gatewaysPerRegion,omitempty"`

	// ReuseGateways keeps the pool alive across scope exits. The pool must
	// then be released with an explicit shutdown.
	ReuseGateways bool `yaml:"reuseGateways,omitempty" json:"reuseGateways,omitempty"`

	// UniqueNames appends a random suffix to every gateway name.
	UniqueNames bool `yaml:"uniqueNames,omitempty" json:"uniqueNames,omitempty"`

	// HostHeader overrides the Host the gateway presents to the target.
	// Defaults to the host of BaseURL.
	HostHeader string `yaml:"hostHeader,omitempty" json:"hostHeader,omitempty"`

	// Debug logs every rewritten request.
	Debug bool `yaml:"debug,omitempty" json:"debug,omitempty"`

	Provisioning ProvisioningConfig `yaml:"provisioning,omitempty" json:"provisioning,omitempty"`
	AWS          AWSConfig          `yaml:"aws,omitempty" json:"aws,omitempty"`
	Transport    TransportConfig    `yaml:"transport,omitempty" json:"transport,omitempty"`
	Logging      LoggingConfig      `yaml:"logging,omitempty" json:"logging,omitempty"`
	Metrics      MetricsConfig      `yaml:"metrics,omitempty" json:"metrics,omitempty"`
	Tracing      TracingConfig      `yaml:"tracing,omitempty" json:"tracing,omitempty"`
}

// ProvisioningConfig controls calls to the cloud gateway API.
type ProvisioningConfig struct {
	// Timeout bounds a single create call.
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// TeardownTimeout bounds a single delete call.
	TeardownTimeout Duration `yaml:"teardownTimeout,omitempty" json:"teardownTimeout,omitempty"`

	// DrainTimeout bounds how long teardown waits for in-flight requests.
	DrainTimeout Duration `yaml:"drainTimeout,omitempty" json:"drainTimeout,omitempty"`

	// MaxConcurrency caps the number of concurrent provider calls.
	MaxConcurrency int `yaml:"maxConcurrency,omitempty" json:"maxConcurrency,omitempty"`

	// PaginationLimit is the page size used when listing existing gateways.
	PaginationLimit int `yaml:"paginationLimit,omitempty" json:"paginationLimit,omitempty"`

	Retry          RetryConfig          `yaml:"retry,omitempty" json:"retry,omitempty"`
	RateLimit      RateLimitConfig      `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`
}

// RetryConfig configures bounded retries of throttled provider calls.
type RetryConfig struct {
	MaxRetries     int      `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`
	InitialBackoff Duration `yaml:"initialBackoff,omitempty" json:"initialBackoff,omitempty"`
	MaxBackoff     Duration `yaml:"maxBackoff,omitempty" json:"maxBackoff,omitempty"`
	JitterFactor   float64  `yaml:"jitterFactor,omitempty" json:"jitterFactor,omitempty"`
}

// RateLimitConfig configures the token bucket in front of provider calls.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty" json:"requestsPerSecond,omitempty"`
	Burst             int     `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// CircuitBreakerConfig configures the per-region provider circuit breaker.
type CircuitBreakerConfig struct {
	Enabled   bool     `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Threshold int      `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Timeout   Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// AWSConfig holds credentials and API Gateway settings. Empty credentials
// fall back to the default AWS credential chain.
type AWSConfig struct {
	AccessKeyID     string `yaml:"accessKeyID,omitempty" json:"accessKeyID,omitempty"`
	SecretAccessKey string `yaml:"secretAccessKey,omitempty" json:"secretAccessKey,omitempty"`
	SessionToken    string `yaml:"sessionToken,omitempty" json:"sessionToken,omitempty"`
	Profile         string `yaml:"profile,omitempty" json:"profile,omitempty"`
	StageName       string `yaml:"stageName,omitempty" json:"stageName,omitempty"`
}

// TransportConfig configures the HTTP transport requests are sent with.
type TransportConfig struct {
	Timeout             Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	MaxIdleConns        int      `yaml:"maxIdleConns,omitempty" json:"maxIdleConns,omitempty"`
	MaxIdleConnsPerHost int      `yaml:"maxIdleConnsPerHost,omitempty" json:"maxIdleConnsPerHost,omitempty"`
	MaxConnsPerHost     int      `yaml:"maxConnsPerHost,omitempty" json:"maxConnsPerHost,omitempty"`
	IdleConnTimeout     Duration `yaml:"idleConnTimeout,omitempty" json:"idleConnTimeout,omitempty"`
	DisableRedirects    bool     `yaml:"disableRedirects,omitempty" json:"disableRedirects,omitempty"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint of the CLI.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	ServiceName  string  `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty" json:"samplingRate,omitempty"`
}

// DefaultConfig returns a configuration for baseURL with all defaults applied.
func DefaultConfig(baseURL string) *Config {
	cfg := &Config{BaseURL: baseURL}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Regions.IsZero() {
		c.Regions = RegionGroup(DefaultRegionGroup)
	}
	if c.GatewaysPerRegion == 0 {
		c.GatewaysPerRegion = DefaultGatewaysPerRegion
	}

	p := &c.Provisioning
	setDuration(&p.Timeout, DefaultProvisionTimeout)
	setDuration(&p.TeardownTimeout, DefaultTeardownTimeout)
	setDuration(&p.DrainTimeout, DefaultDrainTimeout)
	setInt(&p.MaxConcurrency, DefaultMaxConcurrency)
	setInt(&p.PaginationLimit, DefaultPaginationLimit)
	setInt(&p.Retry.MaxRetries, DefaultRetryMaxRetries)
	setDuration(&p.Retry.InitialBackoff, DefaultRetryInitialBackoff)
	setDuration(&p.Retry.MaxBackoff, DefaultRetryMaxBackoff)
	if p.Retry.JitterFactor == 0 {
		p.Retry.JitterFactor = DefaultRetryJitterFactor
	}
	if p.RateLimit.RequestsPerSecond == 0 {
		p.RateLimit.RequestsPerSecond = DefaultRateLimitRPS
	}
	setInt(&p.RateLimit.Burst, DefaultRateLimitBurst)
	setInt(&p.CircuitBreaker.Threshold, DefaultBreakerThreshold)
	setDuration(&p.CircuitBreaker.Timeout, DefaultBreakerTimeout)

	if c.AWS.StageName == "" {
		c.AWS.StageName = DefaultStageName
	}

	t := &c.Transport
	setDuration(&t.Timeout, DefaultRequestTimeout)
	setInt(&t.MaxIdleConns, DefaultMaxIdleConns)
	setInt(&t.MaxIdleConnsPerHost, DefaultMaxIdleConnsPerHost)
	setDuration(&t.IdleConnTimeout, DefaultIdleConnTimeout)

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = DefaultMetricsAddress
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "avaproxy"
	}
}

func setDuration(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}

func setInt(n *int, def int) {
	if *n == 0 {
		*n = def
	}
}
