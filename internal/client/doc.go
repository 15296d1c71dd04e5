// Package client sends HTTP requests through a rotating pool of cloud
// forwarding gateways.
//
// A Client owns one gateway.Pool. The pool is populated by Open, or lazily by
// the first request, and torn down by Close unless the configuration asks
// for gateways to be reused, in which case only Shutdown releases them:
//
//	c, err := client.New(cfg, client.WithCloudAPI(api))
//	if err != nil {
//	    return err
//	}
//	err = c.Use(ctx, func(ctx context.Context, c *client.Client) error {
//	    resp, err := c.Get(ctx, "/items", nil)
//	    ...
//	})
//
// Request blocks; RequestAsync returns a *Call immediately. Both go through
// the same dispatch path, so pool membership and rotation are shared.
package client
