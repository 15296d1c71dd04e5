package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/vyrodovalexey/avaproxy/internal/observability"
)

// Pool defaults.
const (
	DefaultMaxConcurrency = 4
	DefaultDrainTimeout   = 30 * time.Second
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Regions lists the regions in routing order.
	Regions []Region

	// PerRegion is the number of endpoints kept in each region.
	PerRegion int

	// Reuse adopts existing remote endpoints with this pool's name prefix
	// before creating new ones.
	Reuse bool

	// MaxConcurrency caps concurrent provider calls during populate and teardown.
	MaxConcurrency int

	// DrainTimeout bounds how long Teardown waits for in-flight leases.
	DrainTimeout time.Duration
}

// Pool owns the endpoints of one client. Membership changes only through
// Populate and Teardown.
type Pool struct {
	prov    *Provisioner
	cfg     PoolConfig
	logger  observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	// lifecycle serializes Populate and Teardown.
	lifecycle sync.Mutex

	mu        sync.RWMutex
	endpoints map[Region][]*Endpoint
	draining  bool
	inflight  int
	drained   chan struct{}
}

// PoolOption is a functional option for configuring a Pool.
type PoolOption func(*Pool)

// WithPoolLogger sets the logger.
func WithPoolLogger(logger observability.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithPoolMetrics sets the metrics sink.
func WithPoolMetrics(metrics *observability.Metrics) PoolOption {
	return func(p *Pool) {
		p.metrics = metrics
	}
}

// WithPoolTracer sets the tracer.
func WithPoolTracer(tracer *observability.Tracer) PoolOption {
	return func(p *Pool) {
		p.tracer = tracer
	}
}

// NewPool creates an empty pool.
func NewPool(prov *Provisioner, cfg PoolConfig, opts ...PoolOption) *Pool {
	if cfg.PerRegion < 1 {
		cfg.PerRegion = 1
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	cfg.Regions = append([]Region(nil), cfg.Regions...)

	p := &Pool{
		prov:      prov,
		cfg:       cfg,
		logger:    observability.NopLogger(),
		endpoints: make(map[Region][]*Endpoint, len(cfg.Regions)),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Regions returns the configured regions in routing order.
func (p *Pool) Regions() []Region {
	return append([]Region(nil), p.cfg.Regions...)
}

// PerRegion returns the configured per-region endpoint count.
func (p *Pool) PerRegion() int {
	return p.cfg.PerRegion
}

// Endpoints returns the live endpoints in region order, then provisioning order.
func (p *Pool) Endpoints() []*Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*Endpoint
	for _, region := range p.cfg.Regions {
		out = appendActive(out, p.endpoints[region])
	}
	return out
}

// RegionEndpoints returns the live endpoints of one region in provisioning order.
func (p *Pool) RegionEndpoints(region Region) []*Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return appendActive(nil, p.endpoints[region])
}

// Len returns the number of live endpoints.
func (p *Pool) Len() int {
	return len(p.Endpoints())
}

func appendActive(dst, eps []*Endpoint) []*Endpoint {
	for _, e := range eps {
		if e.IsActive() {
			dst = append(dst, e)
		}
	}
	return dst
}

// Acquire registers an in-flight request. The returned release func must
// be called once the request is done. Acquire fails while the pool drains.
func (p *Pool) Acquire() (release func(), err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.draining {
		return nil, ErrNoEndpointsAvailable
	}
	p.inflight++

	var once sync.Once
	return func() {
		once.Do(p.release)
	}, nil
}

func (p *Pool) release() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inflight--
	if p.inflight == 0 && p.drained != nil {
		close(p.drained)
		p.drained = nil
	}
}

// Populate fills every region up to its per-region count. Provider calls
// run concurrently and all of them settle before Populate returns. Slots
// that fail are logged and skipped; if no endpoint is live afterwards
// Populate returns a *PoolExhaustedError.
func (p *Pool) Populate(ctx context.Context) (err error) {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	ctx, span := p.tracer.StartSpan(ctx, "pool.populate",
		trace.WithAttributes(
			attribute.Int("pool.regions", len(p.cfg.Regions)),
			attribute.Int("pool.per_region", p.cfg.PerRegion),
		),
	)
	defer func() { observability.EndSpan(span, err) }()

	if p.cfg.Reuse {
		p.adopt(ctx)
	}

	slots := p.missingSlots()
	if len(slots) == 0 {
		p.logger.Debug("pool already populated", observability.Int("endpoints", p.Len()))
		return nil
	}

	created := make([]*Endpoint, len(slots))
	errs := make([]error, len(slots))

	var g errgroup.Group
	g.SetLimit(p.cfg.MaxConcurrency)
	for i, region := range slots {
		g.Go(func() error {
			created[i], errs[i] = p.prov.Create(ctx, region)
			return nil
		})
	}
	_ = g.Wait()

	p.mu.Lock()
	for i, e := range created {
		if e != nil {
			p.endpoints[slots[i]] = append(p.endpoints[slots[i]], e)
		}
	}
	p.mu.Unlock()
	p.reportActive()

	var failed []error
	for _, e := range errs {
		if e != nil {
			failed = append(failed, e)
		}
	}

	live := p.Len()
	span.SetAttributes(
		attribute.Int("pool.created", len(slots)-len(failed)),
		attribute.Int("pool.failed", len(failed)),
	)

	if live == 0 {
		return &PoolExhaustedError{Requested: len(slots), Errs: failed}
	}
	if len(failed) > 0 {
		p.logger.Warn("pool populated with reduced capacity",
			observability.Int("live", live),
			observability.Int("failed", len(failed)),
			observability.Error(errors.Join(failed...)),
		)
	} else {
		p.logger.Info("pool populated", observability.Int("live", live))
	}
	return nil
}

// missingSlots lists one region entry per endpoint still to create, in
// region order.
func (p *Pool) missingSlots() []Region {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var slots []Region
	for _, region := range p.cfg.Regions {
		need := p.cfg.PerRegion - len(appendActive(nil, p.endpoints[region]))
		for range max(need, 0) {
			slots = append(slots, region)
		}
	}
	return slots
}

// adopt takes over existing remote endpoints up to the per-region count.
// Listing failures fall back to creating endpoints.
func (p *Pool) adopt(ctx context.Context) {
	for _, region := range p.cfg.Regions {
		p.mu.RLock()
		owned := make(map[string]bool, len(p.endpoints[region]))
		for _, e := range p.endpoints[region] {
			owned[e.ID] = true
		}
		need := p.cfg.PerRegion - len(appendActive(nil, p.endpoints[region]))
		p.mu.RUnlock()

		if need <= 0 {
			continue
		}

		handles, err := p.prov.Discover(ctx, region)
		if err != nil {
			p.logger.Warn("failed to list existing endpoints",
				observability.String(observability.FieldRegion, string(region)),
				observability.Error(err),
			)
			continue
		}

		var adopted []*Endpoint
		for _, h := range handles {
			if need == 0 {
				break
			}
			if owned[h.ID] {
				continue
			}
			adopted = append(adopted, p.prov.Adopt(h))
			need--
		}

		if len(adopted) > 0 {
			p.mu.Lock()
			p.endpoints[region] = append(p.endpoints[region], adopted...)
			p.mu.Unlock()
		}
	}
}

// Teardown drains the pool and deletes every owned endpoint, best effort.
// The pool is empty afterwards even when deletions fail. The returned
// error joins every *TeardownError. Teardown of an empty pool is a no-op.
func (p *Pool) Teardown(ctx context.Context) (err error) {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.mu.Lock()
	var owned []*Endpoint
	for _, region := range p.cfg.Regions {
		owned = append(owned, p.endpoints[region]...)
	}
	if len(owned) == 0 {
		p.mu.Unlock()
		return nil
	}
	p.draining = true
	var drained chan struct{}
	if p.inflight > 0 {
		p.drained = make(chan struct{})
		drained = p.drained
	}
	p.mu.Unlock()

	ctx, span := p.tracer.StartSpan(ctx, "pool.teardown",
		trace.WithAttributes(attribute.Int("pool.endpoints", len(owned))),
	)
	defer func() { observability.EndSpan(span, err) }()

	if drained != nil {
		p.drain(ctx, drained)
	}

	// Cleanup must still run when the caller has already given up; every
	// provider call keeps its own timeout.
	delCtx := context.WithoutCancel(ctx)
	errs := make([]error, len(owned))

	var g errgroup.Group
	g.SetLimit(p.cfg.MaxConcurrency)
	for i, e := range owned {
		g.Go(func() error {
			errs[i] = p.prov.Delete(delCtx, e)
			return nil
		})
	}
	_ = g.Wait()

	for i, e := range owned {
		if errs[i] != nil {
			p.logger.Warn("abandoning endpoint after failed teardown",
				observability.String(observability.FieldRegion, string(e.Region)),
				observability.String(observability.FieldEndpointID, e.ID),
				observability.String(observability.FieldBaseURL, e.BaseURL),
				observability.Error(errs[i]),
			)
		}
	}

	p.mu.Lock()
	p.endpoints = make(map[Region][]*Endpoint, len(p.cfg.Regions))
	p.draining = false
	p.drained = nil
	p.mu.Unlock()
	p.reportActive()

	p.logger.Info("pool torn down", observability.Int("endpoints", len(owned)))
	return errors.Join(errs...)
}

func (p *Pool) drain(ctx context.Context, drained <-chan struct{}) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.DrainTimeout)
	defer cancel()

	select {
	case <-drained:
	case <-ctx.Done():
		p.mu.RLock()
		n := p.inflight
		p.mu.RUnlock()
		p.logger.Warn("drain timed out, deleting endpoints with requests in flight",
			observability.Int("inflight", n),
		)
	}
}

func (p *Pool) reportActive() {
	if p.metrics == nil {
		return
	}
	for _, region := range p.cfg.Regions {
		p.metrics.SetEndpointsActive(string(region), len(p.RegionEndpoints(region)))
	}
}
