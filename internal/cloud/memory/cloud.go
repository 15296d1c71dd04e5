package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/avaproxy/internal/gateway"
)

// DefaultRegions is the region list offered when none is configured.
var DefaultRegions = []gateway.Region{
	"us-east-1", "us-east-2", "us-west-1", "us-west-2",
	"ca-central-1",
	"eu-west-1", "eu-west-2", "eu-west-3", "eu-central-1",
	"ap-south-1", "ap-northeast-1", "ap-northeast-2",
	"ap-southeast-1", "ap-southeast-2",
	"sa-east-1",
}

// BaseURLFunc builds the base URL of a created endpoint.
type BaseURLFunc func(region gateway.Region, id string) string

// FaultFunc decides whether a call fails. A nil return lets it succeed.
type FaultFunc func(region gateway.Region, call int) error

// Cloud is an in-memory gateway.CloudAPI and gateway.EndpointLister.
type Cloud struct {
	regions []gateway.Region
	baseURL BaseURLFunc
	latency time.Duration

	mu          sync.Mutex
	seq         int
	endpoints   map[string]gateway.EndpointHandle
	order       []string
	createFault FaultFunc
	deleteFault FaultFunc

	createCalls atomic.Int64
	deleteCalls atomic.Int64
	listCalls   atomic.Int64
}

// Option is a functional option for configuring a Cloud.
type Option func(*Cloud)

// WithRegions sets the offered regions.
func WithRegions(regions ...gateway.Region) Option {
	return func(c *Cloud) {
		c.regions = regions
	}
}

// WithBaseURL sets how endpoint base URLs are built.
func WithBaseURL(fn BaseURLFunc) Option {
	return func(c *Cloud) {
		c.baseURL = fn
	}
}

// WithStaticBaseURL gives every endpoint the same base URL.
func WithStaticBaseURL(u string) Option {
	return func(c *Cloud) {
		c.baseURL = func(gateway.Region, string) string { return u }
	}
}

// WithLatency delays every provider call.
func WithLatency(d time.Duration) Option {
	return func(c *Cloud) {
		c.latency = d
	}
}

// New creates an empty in-memory cloud.
func New(opts ...Option) *Cloud {
	c := &Cloud{
		regions:   DefaultRegions,
		endpoints: make(map[string]gateway.EndpointHandle),
		baseURL: func(region gateway.Region, id string) string {
			return fmt.Sprintf("https://%s.execute-api.%s.example.invalid/proxy-stage", id, region)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FailCreate installs a fault for CreateEndpoint.
func (c *Cloud) FailCreate(fn FaultFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createFault = fn
}

// FailDelete installs a fault for DeleteEndpoint.
func (c *Cloud) FailDelete(fn FaultFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteFault = fn
}

// FailRegion makes every create in region fail with err.
func FailRegion(region gateway.Region, err error) FaultFunc {
	return func(r gateway.Region, _ int) error {
		if r == region {
			return err
		}
		return nil
	}
}

// FailFirst makes the first n calls fail with err.
func FailFirst(n int, err error) FaultFunc {
	return func(_ gateway.Region, call int) error {
		if call <= n {
			return err
		}
		return nil
	}
}

// Seed registers an existing endpoint, as if created by an earlier run.
func (c *Cloud) Seed(h gateway.EndpointHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	if _, ok := c.endpoints[h.ID]; !ok {
		c.order = append(c.order, h.ID)
	}
	c.endpoints[h.ID] = h
}

func (c *Cloud) wait(ctx context.Context) error {
	if c.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CreateEndpoint implements gateway.CloudAPI.
func (c *Cloud) CreateEndpoint(ctx context.Context, region gateway.Region, spec gateway.EndpointSpec) (gateway.EndpointHandle, error) {
	call := int(c.createCalls.Add(1))
	if err := c.wait(ctx); err != nil {
		return gateway.EndpointHandle{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !slices.Contains(c.regions, region) {
		return gateway.EndpointHandle{}, fmt.Errorf("region %s is not offered", region)
	}
	if c.createFault != nil {
		if err := c.createFault(region, call); err != nil {
			return gateway.EndpointHandle{}, err
		}
	}

	c.seq++
	id := fmt.Sprintf("mem%06d", c.seq)
	h := gateway.EndpointHandle{
		ID:        id,
		Name:      spec.Name,
		Region:    region,
		BaseURL:   c.baseURL(region, id),
		CreatedAt: time.Now(),
	}
	c.endpoints[id] = h
	c.order = append(c.order, id)
	return h, nil
}

// DeleteEndpoint implements gateway.CloudAPI.
func (c *Cloud) DeleteEndpoint(ctx context.Context, h gateway.EndpointHandle) error {
	call := int(c.deleteCalls.Add(1))
	if err := c.wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deleteFault != nil {
		if err := c.deleteFault(h.Region, call); err != nil {
			return err
		}
	}
	if _, ok := c.endpoints[h.ID]; !ok {
		return fmt.Errorf("endpoint %s: %w", h.ID, gateway.ErrEndpointNotFound)
	}
	delete(c.endpoints, h.ID)
	c.order = slices.DeleteFunc(c.order, func(id string) bool { return id == h.ID })
	return nil
}

// ListRegions implements gateway.CloudAPI.
func (c *Cloud) ListRegions(ctx context.Context) ([]gateway.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Clone(c.regions), nil
}

// ListEndpoints implements gateway.EndpointLister.
func (c *Cloud) ListEndpoints(ctx context.Context, region gateway.Region, name string) ([]gateway.EndpointHandle, error) {
	c.listCalls.Add(1)
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []gateway.EndpointHandle
	for _, id := range c.order {
		h := c.endpoints[id]
		if h.Region == region && gateway.MatchesName(h.Name, name) {
			out = append(out, h)
		}
	}
	return out, nil
}

// Endpoints returns every live endpoint in creation order.
func (c *Cloud) Endpoints() []gateway.EndpointHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]gateway.EndpointHandle, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.endpoints[id])
	}
	return out
}

// CreateCalls returns the number of CreateEndpoint calls.
func (c *Cloud) CreateCalls() int { return int(c.createCalls.Load()) }

// DeleteCalls returns the number of DeleteEndpoint calls.
func (c *Cloud) DeleteCalls() int { return int(c.deleteCalls.Load()) }

// ListCalls returns the number of ListEndpoints calls.
func (c *Cloud) ListCalls() int { return int(c.listCalls.Load()) }
