// Package gateway implements the rotating proxy gateway pool.
//
// A Pool owns a set of ephemeral HTTP-forwarding endpoints spread over one
// or more cloud regions. Endpoints are created and destroyed by a
// Provisioner through the CloudAPI capability, and a Router picks the next
// endpoint for each outbound request and rewrites the request to go
// through it.
//
// # Lifecycle
//
//	prov := gateway.NewProvisioner(api, gateway.ProvisionerConfig{TargetURL: "https://example.com"})
//	pool := gateway.NewPool(prov, gateway.PoolConfig{
//	    Regions:   []gateway.Region{"us-east-1", "us-west-2"},
//	    PerRegion: 2,
//	})
//	if err := pool.Populate(ctx); err != nil {
//	    return err
//	}
//	defer pool.Teardown(ctx)
//
// # Rotation
//
// Router.Select hands out the pool's live endpoints round-robin, in region
// order and then provisioning order. The cursor is shared by every caller
// of the same Router.
//
// # Teardown
//
// Teardown drains: it stops new leases, waits for in-flight requests to
// release theirs (bounded by the drain timeout and ctx), and then deletes
// every endpoint. Deletion is best effort. Failures are collected and the
// pool is cleared regardless.
package gateway
