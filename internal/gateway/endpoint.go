package gateway

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Region is a cloud region code such as "us-east-1".
type Region string

// String implements fmt.Stringer.
func (r Region) String() string {
	return string(r)
}

// Status is the lifecycle state of an Endpoint.
type Status int32

// Endpoint states. Transitions are provisioning → active, then
// active → deleting → deleted. A failed delete returns deleting → active.
const (
	StatusProvisioning Status = iota
	StatusActive
	StatusDeleting
	StatusDeleted
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusProvisioning:
		return "provisioning"
	case StatusActive:
		return "active"
	case StatusDeleting:
		return "deleting"
	case StatusDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Endpoint is one provisioned forwarding gateway. Only the pool that owns
// it changes its status.
type Endpoint struct {
	Region    Region
	ID        string
	Name      string
	BaseURL   string
	CreatedAt time.Time

	status atomic.Int32
}

func newEndpoint(h EndpointHandle) *Endpoint {
	e := &Endpoint{
		Region:    h.Region,
		ID:        h.ID,
		Name:      h.Name,
		BaseURL:   h.BaseURL,
		CreatedAt: h.CreatedAt,
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.status.Store(int32(StatusProvisioning))
	return e
}

// Status returns the current status.
func (e *Endpoint) Status() Status {
	return Status(e.status.Load())
}

// IsActive reports whether the endpoint can carry requests.
func (e *Endpoint) IsActive() bool {
	return e.Status() == StatusActive
}

func (e *Endpoint) transition(from, to Status) bool {
	return e.status.CompareAndSwap(int32(from), int32(to))
}

// Handle returns the provider handle of the endpoint.
func (e *Endpoint) Handle() EndpointHandle {
	return EndpointHandle{
		ID:        e.ID,
		Name:      e.Name,
		Region:    e.Region,
		BaseURL:   e.BaseURL,
		CreatedAt: e.CreatedAt,
	}
}

// String implements fmt.Stringer.
func (e *Endpoint) String() string {
	return fmt.Sprintf("%s/%s (%s)", e.Region, e.ID, e.Status())
}
