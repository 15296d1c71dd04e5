package client

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vyrodovalexey/avaproxy/internal/gateway"
	"github.com/vyrodovalexey/avaproxy/internal/observability"
)

// Regions resolves the configured region spec against the provider.
func (c *Client) Regions(ctx context.Context) ([]gateway.Region, error) {
	return gateway.ResolveRegions(ctx, c.api, c.cfg.Regions)
}

// Clear deletes every remote gateway named for this client's base URL in
// the configured regions, including gateways kept by earlier runs.
// Gateways in the client's own pool are skipped; Shutdown releases those.
// It returns the number of gateways deleted. Providers that cannot list
// endpoints have nothing to clear.
func (c *Client) Clear(ctx context.Context) (int, error) {
	regions, err := c.Regions(ctx)
	if err != nil {
		return 0, err
	}

	owned := make(map[string]bool)
	if pool := c.Pool(); pool != nil {
		for _, e := range pool.Endpoints() {
			owned[e.ID] = true
		}
	}

	var (
		mu      sync.Mutex
		deleted int
		errs    []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Provisioning.MaxConcurrency)
	for _, region := range regions {
		g.Go(func() error {
			handles, err := c.prov.Discover(gctx, region)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			for _, h := range handles {
				if owned[h.ID] {
					continue
				}
				err := c.prov.Delete(gctx, c.prov.Adopt(h))
				mu.Lock()
				if err != nil {
					errs = append(errs, err)
				} else {
					deleted++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info("cleared gateways",
		observability.Int("deleted", deleted),
		observability.Int("failed", len(errs)),
	)
	return deleted, errors.Join(errs...)
}
