package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for pool operations.
var (
	// ErrProvision matches every *ProvisionError.
	ErrProvision = errors.New("endpoint provisioning failed")

	// ErrTeardown matches every *TeardownError.
	ErrTeardown = errors.New("endpoint teardown failed")

	// ErrInvalidRegion matches every *InvalidRegionError.
	ErrInvalidRegion = errors.New("invalid region")

	// ErrPoolExhausted matches every *PoolExhaustedError.
	ErrPoolExhausted = errors.New("no endpoints could be provisioned")

	// ErrNoEndpointsAvailable indicates the pool has no live endpoint to
	// route through.
	ErrNoEndpointsAvailable = errors.New("no endpoints available")
)

// Provider conditions. CloudAPI implementations wrap their errors with
// these so the provisioner can classify them.
var (
	// ErrThrottled indicates the provider rejected a call due to rate limiting.
	ErrThrottled = errors.New("provider throttled the request")

	// ErrEndpointNotFound indicates the endpoint no longer exists remotely.
	ErrEndpointNotFound = errors.New("endpoint not found")
)

// ProvisionError reports a failed endpoint creation.
type ProvisionError struct {
	Region   Region
	Attempts int
	Cause    error
}

// Error implements the error interface.
func (e *ProvisionError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("provision endpoint in %s after %d attempts: %v", e.Region, e.Attempts, e.Cause)
	}
	return fmt.Sprintf("provision endpoint in %s: %v", e.Region, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ProvisionError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ProvisionError) Is(target error) bool {
	return target == ErrProvision
}

// TeardownError reports a failed endpoint deletion.
type TeardownError struct {
	EndpointID string
	Region     Region
	Cause      error
}

// Error implements the error interface.
func (e *TeardownError) Error() string {
	return fmt.Sprintf("delete endpoint %s in %s: %v", e.EndpointID, e.Region, e.Cause)
}

// Unwrap returns the underlying error.
func (e *TeardownError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *TeardownError) Is(target error) bool {
	return target == ErrTeardown
}

// InvalidRegionError reports a region or region group that cannot be used.
type InvalidRegionError struct {
	Region string
	Reason string
}

// Error implements the error interface.
func (e *InvalidRegionError) Error() string {
	return fmt.Sprintf("invalid region %q: %s", e.Region, e.Reason)
}

// Is checks if the error matches the target.
func (e *InvalidRegionError) Is(target error) bool {
	return target == ErrInvalidRegion
}

// PoolExhaustedError reports that populate left the pool with no live
// endpoint. Errs holds every slot failure.
type PoolExhaustedError struct {
	Requested int
	Errs      []error
}

// Error implements the error interface.
func (e *PoolExhaustedError) Error() string {
	if len(e.Errs) == 0 {
		return fmt.Sprintf("%s (requested %d)", ErrPoolExhausted, e.Requested)
	}
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%s (requested %d): %s", ErrPoolExhausted, e.Requested, strings.Join(msgs, "; "))
}

// Unwrap returns the slot errors.
func (e *PoolExhaustedError) Unwrap() []error {
	return e.Errs
}

// Is checks if the error matches the target.
func (e *PoolExhaustedError) Is(target error) bool {
	return target == ErrPoolExhausted
}
