package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/avaproxy/internal/circuitbreaker"
	"github.com/vyrodovalexey/avaproxy/internal/observability"
	"github.com/vyrodovalexey/avaproxy/internal/retry"
)

// Provisioner defaults.
const (
	DefaultCreateTimeout = 60 * time.Second
	DefaultDeleteTimeout = 30 * time.Second

	// gatewayNamePrefix starts every gateway name this module creates.
	gatewayNamePrefix = "avaproxy gateway for "
)

// Provider operation names used in logs and metrics.
const (
	opCreate = "create"
	opDelete = "delete"
	opList   = "list"
)

// ProvisionerConfig configures a Provisioner.
type ProvisionerConfig struct {
	// TargetURL is the URL every created gateway forwards to.
	TargetURL string

	// UniqueNames appends a random suffix to every gateway name.
	UniqueNames bool

	CreateTimeout time.Duration
	DeleteTimeout time.Duration

	// Retry bounds retries of throttled provider calls. Nil uses retry defaults.
	Retry *retry.Config

	// RateLimit caps provider calls per second across all regions.
	// Zero disables rate limiting.
	RateLimit rate.Limit
	Burst     int
}

// Provisioner creates and deletes single endpoints. It holds no pool policy.
type Provisioner struct {
	api      CloudAPI
	cfg      ProvisionerConfig
	limiter  *rate.Limiter
	breakers *circuitbreaker.Registry
	logger   observability.Logger
	metrics  *observability.Metrics
}

// ProvisionerOption is a functional option for configuring a Provisioner.
type ProvisionerOption func(*Provisioner)

// WithProvisionerLogger sets the logger.
func WithProvisionerLogger(logger observability.Logger) ProvisionerOption {
	return func(p *Provisioner) {
		p.logger = logger
	}
}

// WithProvisionerMetrics sets the metrics sink.
func WithProvisionerMetrics(metrics *observability.Metrics) ProvisionerOption {
	return func(p *Provisioner) {
		p.metrics = metrics
	}
}

// WithCircuitBreakers guards provider calls with one breaker per region.
func WithCircuitBreakers(registry *circuitbreaker.Registry) ProvisionerOption {
	return func(p *Provisioner) {
		p.breakers = registry
	}
}

// NewProvisioner creates a provisioner on top of api.
func NewProvisioner(api CloudAPI, cfg ProvisionerConfig, opts ...ProvisionerOption) *Provisioner {
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = DefaultCreateTimeout
	}
	if cfg.DeleteTimeout <= 0 {
		cfg.DeleteTimeout = DefaultDeleteTimeout
	}

	p := &Provisioner{
		api:    api,
		cfg:    cfg,
		logger: observability.NopLogger(),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// NamePrefix returns the name shared by every gateway this provisioner
// creates for its target. Unique names append " (<uuid>)" to it.
func (p *Provisioner) NamePrefix() string {
	return gatewayNamePrefix + p.cfg.TargetURL
}

func (p *Provisioner) gatewayName() string {
	if p.cfg.UniqueNames {
		return fmt.Sprintf("%s (%s)", p.NamePrefix(), uuid.NewString())
	}
	return p.NamePrefix()
}

// Create provisions one endpoint in region and returns it active.
func (p *Provisioner) Create(ctx context.Context, region Region) (*Endpoint, error) {
	spec := EndpointSpec{Name: p.gatewayName(), TargetURL: p.cfg.TargetURL}
	start := time.Now()

	var handle EndpointHandle
	res, err := p.call(ctx, opCreate, region, p.cfg.CreateTimeout, func(ctx context.Context) error {
		h, err := p.api.CreateEndpoint(ctx, region, spec)
		if err != nil {
			return err
		}
		if h.BaseURL == "" {
			return retry.Permanent(fmt.Errorf("provider returned endpoint %q without a base URL", h.ID))
		}
		handle = h
		return nil
	})
	if err != nil {
		p.metrics.RecordProvision(string(region), resultFor(err))
		p.logger.Warn("failed to provision endpoint",
			observability.String(observability.FieldRegion, string(region)),
			observability.Int("attempts", res.Attempts),
			observability.Error(err),
		)
		return nil, &ProvisionError{Region: region, Attempts: res.Attempts, Cause: err}
	}

	if handle.Region == "" {
		handle.Region = region
	}
	e := newEndpoint(handle)
	e.transition(StatusProvisioning, StatusActive)

	p.metrics.RecordProvision(string(region), observability.ResultSuccess)
	p.logger.Info("endpoint provisioned",
		observability.String(observability.FieldRegion, string(region)),
		observability.String(observability.FieldEndpointID, e.ID),
		observability.String(observability.FieldBaseURL, e.BaseURL),
		observability.Duration("duration", time.Since(start)),
	)

	return e, nil
}

// Adopt wraps an existing remote endpoint as an active Endpoint.
func (p *Provisioner) Adopt(h EndpointHandle) *Endpoint {
	e := newEndpoint(h)
	e.transition(StatusProvisioning, StatusActive)
	p.logger.Info("endpoint adopted",
		observability.String(observability.FieldRegion, string(e.Region)),
		observability.String(observability.FieldEndpointID, e.ID),
	)
	return e
}

// Discover lists existing endpoints in region that were named for this
// provisioner's target. It returns nil when the provider cannot list.
func (p *Provisioner) Discover(ctx context.Context, region Region) ([]EndpointHandle, error) {
	lister, ok := p.api.(EndpointLister)
	if !ok {
		return nil, nil
	}

	var handles []EndpointHandle
	_, err := p.call(ctx, opList, region, p.cfg.CreateTimeout, func(ctx context.Context) error {
		hs, err := lister.ListEndpoints(ctx, region, p.NamePrefix())
		if err != nil {
			return err
		}
		handles = hs
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list endpoints in %s: %w", region, err)
	}

	// Providers may filter loosely.
	out := make([]EndpointHandle, 0, len(handles))
	for _, h := range handles {
		if MatchesName(h.Name, p.NamePrefix()) && h.BaseURL != "" {
			if h.Region == "" {
				h.Region = region
			}
			out = append(out, h)
		}
	}
	return out, nil
}

// Delete tears the endpoint down. Deleting a deleted endpoint is a no-op
// and makes no provider call. An endpoint the provider no longer knows is
// treated as deleted.
func (p *Provisioner) Delete(ctx context.Context, e *Endpoint) error {
	if e == nil {
		return nil
	}
	if !e.transition(StatusActive, StatusDeleting) {
		// Already deleted, or another delete owns it.
		return nil
	}

	_, err := p.call(ctx, opDelete, e.Region, p.cfg.DeleteTimeout, func(ctx context.Context) error {
		err := p.api.DeleteEndpoint(ctx, e.Handle())
		if errors.Is(err, ErrEndpointNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		e.transition(StatusDeleting, StatusActive)
		p.metrics.RecordTeardown(string(e.Region), resultFor(err))
		return &TeardownError{EndpointID: e.ID, Region: e.Region, Cause: err}
	}

	e.transition(StatusDeleting, StatusDeleted)
	p.metrics.RecordTeardown(string(e.Region), observability.ResultSuccess)
	p.logger.Info("endpoint deleted",
		observability.String(observability.FieldRegion, string(e.Region)),
		observability.String(observability.FieldEndpointID, e.ID),
	)
	return nil
}

// call runs fn under the rate limiter, the region breaker and a per-attempt
// timeout, retrying throttled attempts.
func (p *Provisioner) call(
	ctx context.Context,
	op string,
	region Region,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) (retry.Result, error) {
	breaker := p.breakers.Get(string(region))

	return retry.Do(ctx, p.cfg.Retry, func(ctx context.Context, _ int) error {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return retry.Permanent(err)
			}
		}

		err := breaker.Execute(func() error {
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return fn(callCtx)
		})
		if circuitbreaker.IsOpen(err) {
			return retry.Permanent(fmt.Errorf("circuit breaker open for %s: %w", region, err))
		}
		return err
	}, &retry.Options{
		ShouldRetry: func(err error) bool {
			return errors.Is(err, ErrThrottled)
		},
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			p.metrics.RecordProviderRetry(op)
			p.logger.Debug("retrying provider call",
				observability.String("op", op),
				observability.String(observability.FieldRegion, string(region)),
				observability.Int("attempt", attempt),
				observability.Duration("backoff", backoff),
				observability.Error(err),
			)
		},
	})
}

func resultFor(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return observability.ResultTimeout
	}
	return observability.ResultFailure
}
