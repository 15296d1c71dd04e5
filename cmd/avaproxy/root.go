package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vyrodovalexey/avaproxy/internal/client"
	"github.com/vyrodovalexey/avaproxy/internal/cloud/awsapigw"
	"github.com/vyrodovalexey/avaproxy/internal/cloud/memory"
	"github.com/vyrodovalexey/avaproxy/internal/config"
	"github.com/vyrodovalexey/avaproxy/internal/gateway"
	"github.com/vyrodovalexey/avaproxy/internal/observability"
)

const shutdownTimeout = 30 * time.Second

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath   string
	logLevel     string
	logFormat    string
	metricsAddr  string
	otlpEndpoint string
	dryRun       bool

	// pool settings shared by the commands that talk to a provider
	baseURL   string
	regions   string
	perRegion int
	reuse     bool
	unique    bool

	out    io.Writer
	errOut io.Writer
}

// runtime is what a command gets after the persistent setup.
type runtime struct {
	cfg     *config.Config
	logger  observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	cloud   gateway.CloudAPI

	closers []func(context.Context) error
}

func (r *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			r.logger.Warn("shutdown step failed", observability.Error(err))
		}
	}
	_ = r.logger.Sync()
}

func (r *runtime) newClient() (*client.Client, error) {
	return client.New(r.cfg,
		client.WithCloudAPI(r.cloud),
		client.WithLogger(r.logger),
		client.WithMetrics(r.metrics),
		client.WithTracer(r.tracer),
	)
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &rootOptions{out: out, errOut: errOut}

	cmd := &cobra.Command{
		Use:   "avaproxy",
		Short: "Send HTTP requests through rotating cloud gateways",
		Long: `avaproxy provisions a pool of AWS API Gateway endpoints that forward to a
target base URL and rotates requests across them, so each request leaves
from a different address. Gateways are deleted when the command exits
unless --reuse is set.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", getEnvOrDefault("AVAPROXY_CONFIG", ""),
		"Path to configuration file")
	pf.StringVar(&opts.logLevel, "log-level", getEnvOrDefault("AVAPROXY_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error)")
	pf.StringVar(&opts.logFormat, "log-format", getEnvOrDefault("AVAPROXY_LOG_FORMAT", ""),
		"Log format (json, console)")
	pf.StringVar(&opts.metricsAddr, "metrics-addr", getEnvOrDefault("AVAPROXY_METRICS_ADDR", ""),
		"Serve Prometheus metrics on this address while the command runs")
	pf.StringVar(&opts.otlpEndpoint, "otlp-endpoint", getEnvOrDefault("AVAPROXY_OTLP_ENDPOINT", ""),
		"Export traces to this OTLP gRPC endpoint")
	pf.BoolVar(&opts.dryRun, "dry-run", getEnvBool("AVAPROXY_DRY_RUN", false),
		"Use an in-memory provider whose gateways forward straight to the base URL")
	pf.StringVar(&opts.baseURL, "base-url", getEnvOrDefault("AVAPROXY_BASE_URL", ""),
		"Target base URL the gateways forward to")
	pf.StringVar(&opts.regions, "regions", "",
		"Region group (default, us, eu, asia, all), region prefix, or comma-separated region list")
	pf.IntVar(&opts.perRegion, "gateways-per-region", 0, "Number of gateways per region")
	pf.BoolVar(&opts.reuse, "reuse", false, "Adopt existing gateways and keep them on exit")
	pf.BoolVar(&opts.unique, "unique-names", false, "Append a random suffix to gateway names")

	cmd.AddCommand(
		newFetchCmd(opts),
		newRegionsCmd(opts),
		newClearCmd(opts),
		newVersionCmd(opts),
	)
	return cmd
}

// loadConfig reads the config file, if any, and applies flag overrides.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := &config.Config{}
	if o.configPath != "" {
		loaded, err := config.LoadConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.regions != "" {
		cfg.Regions = config.ParseRegionSpec(o.regions)
	}
	if flags.Changed("gateways-per-region") {
		cfg.GatewaysPerRegion = o.perRegion
	}
	if flags.Changed("reuse") {
		cfg.ReuseGateways = o.reuse
	}
	if flags.Changed("unique-names") {
		cfg.UniqueNames = o.unique
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = o.metricsAddr
	}
	if o.otlpEndpoint != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.OTLPEndpoint = o.otlpEndpoint
	}
	if cfg.Logging.Level == "debug" {
		cfg.Debug = true
	}

	cfg.ApplyDefaults()
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup builds the runtime for a provider command.
func (o *rootOptions) setup(cmd *cobra.Command) (*runtime, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, err
	}
	observability.SetGlobalLogger(logger)

	rt := &runtime{cfg: cfg, logger: logger}
	ctx := cmd.Context()

	rt.tracer, err = observability.NewTracer(ctx, observability.TracerConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRate: tracingRate(cfg.Tracing),
		Enabled:      cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	rt.closers = append(rt.closers, rt.tracer.Shutdown)

	if cfg.Metrics.Enabled {
		rt.metrics = observability.NewMetrics(observability.DefaultNamespace)
		srv := observability.NewMetricsServer(cfg.Metrics.Address, rt.metrics, logger)
		if err := srv.Start(ctx); err != nil {
			rt.close()
			return nil, fmt.Errorf("failed to start metrics server: %w", err)
		}
		rt.closers = append(rt.closers, srv.Stop)
	}

	if o.dryRun {
		rt.cloud = memory.New(memory.WithStaticBaseURL(cfg.BaseURL))
		logger.Info("dry run: gateways are simulated and requests go to the base URL directly")
	} else {
		awsCfg, err := awsapigw.LoadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.cloud = awsapigw.New(awsCfg,
			awsapigw.WithStageName(cfg.AWS.StageName),
			awsapigw.WithPaginationLimit(cfg.Provisioning.PaginationLimit),
			awsapigw.WithLogger(logger),
		)
	}

	logger.Debug("configuration loaded",
		observability.String("base_url", cfg.BaseURL),
		observability.String("regions", cfg.Regions.String()),
		observability.Int("gateways_per_region", cfg.GatewaysPerRegion),
		observability.Bool("reuse", cfg.ReuseGateways),
	)
	return rt, nil
}

func tracingRate(cfg config.TracingConfig) float64 {
	if cfg.SamplingRate == 0 {
		return 1
	}
	return cfg.SamplingRate
}

// parseHeader splits "Key: Value".
func parseHeader(s string) (key, value string, err error) {
	key, value, ok := strings.Cut(s, ":")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid header %q, want \"Key: Value\"", s)
	}
	return key, strings.TrimSpace(value), nil
}

// parseParam splits "key=value".
func parseParam(s string) (key, value string, err error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid parameter %q, want key=value", s)
	}
	return key, value, nil
}
