package gateway

import (
	"context"
	"strings"
	"time"
)

// EndpointSpec describes the endpoint to create.
type EndpointSpec struct {
	// Name is the gateway name. Pools recognize their own gateways by its prefix.
	Name string

	// TargetURL is the URL the gateway forwards to.
	TargetURL string
}

// EndpointHandle identifies an endpoint at the provider.
type EndpointHandle struct {
	ID        string
	Name      string
	Region    Region
	BaseURL   string
	CreatedAt time.Time
}

// CloudAPI is the cloud gateway provisioning capability.
//
// Implementations should wrap throttling errors with ErrThrottled and
// missing-endpoint errors with ErrEndpointNotFound.
type CloudAPI interface {
	CreateEndpoint(ctx context.Context, region Region, spec EndpointSpec) (EndpointHandle, error)
	DeleteEndpoint(ctx context.Context, handle EndpointHandle) error
	ListRegions(ctx context.Context) ([]Region, error)
}

// EndpointLister is implemented by providers that can enumerate existing
// endpoints. Pools with reuse enabled adopt matching endpoints instead of
// creating new ones. Implementations return the endpoints for which
// MatchesName(endpoint name, name) holds.
type EndpointLister interface {
	ListEndpoints(ctx context.Context, region Region, name string) ([]EndpointHandle, error)
}

// MatchesName reports whether gateway name was given for base, either
// exactly or with a unique suffix " (<id>)". Names of gateways for a
// longer base URL sharing the same leading characters do not match.
func MatchesName(name, base string) bool {
	return name == base || strings.HasPrefix(name, base+" (") && strings.HasSuffix(name, ")")
}
