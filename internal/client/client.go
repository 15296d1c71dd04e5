package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/avaproxy/internal/circuitbreaker"
	"github.com/vyrodovalexey/avaproxy/internal/config"
	"github.com/vyrodovalexey/avaproxy/internal/document"
	"github.com/vyrodovalexey/avaproxy/internal/gateway"
	"github.com/vyrodovalexey/avaproxy/internal/observability"
	"github.com/vyrodovalexey/avaproxy/internal/retry"
	"github.com/vyrodovalexey/avaproxy/internal/transport"
)

// ErrClientClosed is returned by every operation issued after the client
// has been torn down.
var ErrClientClosed = errors.New("client is closed")

type state int

const (
	stateUnpopulated state = iota
	statePopulated
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateUnpopulated:
		return "unpopulated"
	case statePopulated:
		return "populated"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client sends requests through the gateways of its pool.
type Client struct {
	cfg    *config.Config
	target *url.URL

	api     gateway.CloudAPI
	sender  transport.Sender
	parser  document.Parser
	logger  observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	prov   *gateway.Provisioner
	router *gateway.Router

	// mu guards the lifecycle. It is held across populate and teardown so
	// concurrent first requests share one populate.
	mu    sync.Mutex
	state state
	pool  *gateway.Pool

	// closed is set as soon as Shutdown starts, before mu is taken.
	closed atomic.Bool
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithCloudAPI sets the cloud gateway provider. Required.
func WithCloudAPI(api gateway.CloudAPI) Option {
	return func(c *Client) {
		c.api = api
	}
}

// WithTransport sets the sender requests are dispatched with.
func WithTransport(sender transport.Sender) Option {
	return func(c *Client) {
		c.sender = sender
	}
}

// WithParser sets the parser used for RequestOptions.ParseBody.
func WithParser(parser document.Parser) Option {
	return func(c *Client) {
		c.parser = parser
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer *observability.Tracer) Option {
	return func(c *Client) {
		c.tracer = tracer
	}
}

// New creates a client for cfg. Defaults are applied to a copy of cfg and
// the result is validated. No provider call is made until Open or the
// first request.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	cfgCopy := *cfg
	cfgCopy.ApplyDefaults()
	if err := config.ValidateConfig(&cfgCopy); err != nil {
		return nil, err
	}

	target, err := url.Parse(cfgCopy.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	c := &Client{
		cfg:    &cfgCopy,
		target: target,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.api == nil {
		return nil, errors.New("cloud API is required")
	}
	if c.sender == nil {
		c.sender = transport.NewConnectionPool(transport.PoolConfigFrom(cfgCopy.Transport))
	}
	if c.parser == nil {
		c.parser = document.NewHTMLParser()
	}

	c.prov = c.newProvisioner()

	routerOpts := []gateway.RouterOption{gateway.WithTargetPath(target.Path)}
	if cfgCopy.HostHeader != "" {
		routerOpts = append(routerOpts, gateway.WithHostHeader(cfgCopy.HostHeader))
	}
	c.router = gateway.NewRouter(routerOpts...)

	return c, nil
}

func (c *Client) newProvisioner() *gateway.Provisioner {
	p := c.cfg.Provisioning

	breakers := circuitbreaker.NewRegistry(
		p.CircuitBreaker.Enabled,
		circuitbreaker.Config{
			Threshold: p.CircuitBreaker.Threshold,
			Timeout:   p.CircuitBreaker.Timeout.Duration(),
		},
		c.logger,
		c.metrics.SetCircuitBreakerState,
	)

	return gateway.NewProvisioner(c.api,
		gateway.ProvisionerConfig{
			TargetURL:     strings.TrimRight(c.cfg.BaseURL, "/"),
			UniqueNames:   c.cfg.UniqueNames,
			CreateTimeout: p.Timeout.Duration(),
			DeleteTimeout: p.TeardownTimeout.Duration(),
			Retry: &retry.Config{
				MaxRetries:     p.Retry.MaxRetries,
				InitialBackoff: p.Retry.InitialBackoff.Duration(),
				MaxBackoff:     p.Retry.MaxBackoff.Duration(),
				JitterFactor:   p.Retry.JitterFactor,
			},
			RateLimit: rate.Limit(p.RateLimit.RequestsPerSecond),
			Burst:     p.RateLimit.Burst,
		},
		gateway.WithProvisionerLogger(c.logger),
		gateway.WithProvisionerMetrics(c.metrics),
		gateway.WithCircuitBreakers(breakers),
	)
}

// Pool returns the client's pool, or nil before the first Open.
func (c *Client) Pool() *gateway.Pool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool
}

// Open populates the pool. It is a no-op on a fully populated pool and
// tops up a pool that has lost endpoints.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked(ctx)
}

func (c *Client) openLocked(ctx context.Context) error {
	if c.state == stateClosed {
		return ErrClientClosed
	}

	if c.pool == nil {
		regions, err := gateway.ResolveRegions(ctx, c.api, c.cfg.Regions)
		if err != nil {
			return err
		}
		c.pool = gateway.NewPool(c.prov,
			gateway.PoolConfig{
				Regions:        regions,
				PerRegion:      c.cfg.GatewaysPerRegion,
				Reuse:          c.cfg.ReuseGateways,
				MaxConcurrency: c.cfg.Provisioning.MaxConcurrency,
				DrainTimeout:   c.cfg.Provisioning.DrainTimeout.Duration(),
			},
			gateway.WithPoolLogger(c.logger),
			gateway.WithPoolMetrics(c.metrics),
			gateway.WithPoolTracer(c.tracer),
		)
	}

	if err := c.pool.Populate(ctx); err != nil {
		return err
	}
	c.state = statePopulated
	return nil
}

// ensureOpen returns the pool, populating it on first use.
func (c *Client) ensureOpen(ctx context.Context) (*gateway.Pool, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateClosed:
		return nil, ErrClientClosed
	case statePopulated:
		return c.pool, nil
	default:
		if err := c.openLocked(ctx); err != nil {
			return nil, err
		}
		return c.pool, nil
	}
}

// acquire takes a lease on pool. A lease is never granted once Shutdown
// has started, whatever state the pool is in.
func (c *Client) acquire(pool *gateway.Pool) (release func(), err error) {
	release, err = pool.Acquire()
	if c.closed.Load() {
		if err == nil {
			release()
		}
		return nil, ErrClientClosed
	}
	return release, err
}

// Close ends a scoped use of the client. Without gateway reuse the pool is
// torn down and the client is closed for good; with reuse the gateways
// survive until Shutdown.
func (c *Client) Close(ctx context.Context) error {
	if c.cfg.ReuseGateways {
		return nil
	}
	return c.Shutdown(ctx)
}

// Shutdown tears the pool down and closes the client. Calling it again is
// a no-op. Teardown failures are logged by the pool and returned joined.
func (c *Client) Shutdown(ctx context.Context) error {
	c.closed.Store(true)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return nil
	}
	c.state = stateClosed

	var err error
	if c.pool != nil {
		err = c.pool.Teardown(ctx)
	}
	if idle, ok := c.sender.(interface{ CloseIdleConnections() }); ok {
		idle.CloseIdleConnections()
	}
	return err
}

// Use opens the client, runs fn and closes the client on every exit path,
// a panic in fn included. The close error is joined to fn's.
func (c *Client) Use(ctx context.Context, fn func(ctx context.Context, c *Client) error) (err error) {
	if err := c.Open(ctx); err != nil {
		return errors.Join(err, c.Close(ctx))
	}

	defer func() {
		closeErr := c.Close(ctx)
		if r := recover(); r != nil {
			if closeErr != nil {
				c.logger.Error("failed to close client after panic", observability.Error(closeErr))
			}
			panic(r)
		}
		err = errors.Join(err, closeErr)
	}()

	return fn(ctx, c)
}
