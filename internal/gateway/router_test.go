package gateway_test

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avaproxy/internal/cloud/memory"
	"github.com/vyrodovalexey/avaproxy/internal/gateway"
)

// staticSource is a fixed EndpointSource.
type staticSource struct {
	regions []gateway.Region
	eps     []*gateway.Endpoint
}

func (s staticSource) Regions() []gateway.Region { return s.regions }

func (s staticSource) Endpoints() []*gateway.Endpoint { return s.eps }

func (s staticSource) RegionEndpoints(region gateway.Region) []*gateway.Endpoint {
	var out []*gateway.Endpoint
	for _, e := range s.eps {
		if e.Region == region {
			out = append(out, e)
		}
	}
	return out
}

func newStaticSource(n int) staticSource {
	src := staticSource{regions: []gateway.Region{"us-east-1", "us-west-2"}}
	for i := 0; i < n; i++ {
		region := src.regions[i%2]
		src.eps = append(src.eps, &gateway.Endpoint{
			ID:      string(rune('a' + i)),
			Region:  region,
			BaseURL: "https://" + string(rune('a'+i)) + ".example.invalid/proxy-stage",
		})
	}
	return src
}

func TestRouter_SelectRoundRobin(t *testing.T) {
	t.Parallel()

	src := newStaticSource(3)
	router := gateway.NewRouter()

	var got []string
	for i := 0; i < 7; i++ {
		e, err := router.Select(src)
		require.NoError(t, err)
		got = append(got, e.ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c", "a"}, got)
}

func TestRouter_SelectConcurrent(t *testing.T) {
	t.Parallel()

	const (
		workers = 8
		perWork = 250
	)
	src := newStaticSource(4)
	router := gateway.NewRouter()

	var mu sync.Mutex
	counts := make(map[string]int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make(map[string]int)
			for i := 0; i < perWork; i++ {
				e, err := router.Select(src)
				if !assert.NoError(t, err) {
					return
				}
				local[e.ID]++
			}
			mu.Lock()
			for k, v := range local {
				counts[k] += v
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Every endpoint is used equally, whatever the interleaving.
	for _, e := range src.eps {
		assert.Equal(t, workers*perWork/len(src.eps), counts[e.ID], e.ID)
	}
}

func TestRouter_SelectEmpty(t *testing.T) {
	t.Parallel()

	router := gateway.NewRouter()
	_, err := router.Select(staticSource{})
	assert.ErrorIs(t, err, gateway.ErrNoEndpointsAvailable)

	pool := newPool(memory.New(), []gateway.Region{"us-east-1"}, 1)
	_, err = router.Select(pool)
	assert.ErrorIs(t, err, gateway.ErrNoEndpointsAvailable)
}

func TestRouter_SelectSkipsTornDownEndpoints(t *testing.T) {
	t.Parallel()

	pool := newPool(memory.New(), []gateway.Region{"us-east-1"}, 2)
	ctx := context.Background()
	require.NoError(t, pool.Populate(ctx))
	require.NoError(t, pool.Teardown(ctx))

	_, err := gateway.NewRouter().Select(pool)
	assert.ErrorIs(t, err, gateway.ErrNoEndpointsAvailable)
}

func TestRouter_SelectRegion(t *testing.T) {
	t.Parallel()

	src := newStaticSource(4) // a,c in us-east-1; b,d in us-west-2
	router := gateway.NewRouter()

	var got []string
	for i := 0; i < 3; i++ {
		e, err := router.SelectRegion(src, "us-west-2")
		require.NoError(t, err)
		got = append(got, e.ID)
	}
	assert.Equal(t, []string{"b", "d", "b"}, got)

	e, err := router.SelectRegion(src, "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, "a", e.ID, "regions keep separate cursors")

	_, err = router.SelectRegion(src, "eu-west-1")
	var ire *gateway.InvalidRegionError
	require.ErrorAs(t, err, &ire)
	assert.Equal(t, "eu-west-1", ire.Region)

	_, err = router.SelectRegion(staticSource{regions: []gateway.Region{"eu-west-1"}}, "eu-west-1")
	assert.ErrorIs(t, err, gateway.ErrNoEndpointsAvailable)
}

func TestRouter_Rewrite(t *testing.T) {
	t.Parallel()

	e := &gateway.Endpoint{
		ID:      "abc123",
		Region:  "us-east-1",
		BaseURL: "https://abc123.execute-api.us-east-1.amazonaws.com/proxy-stage",
	}
	req, err := http.NewRequest(http.MethodGet, "https://www.example.com/search/items?q=go&page=2", nil)
	require.NoError(t, err)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	req.Header.Set("Accept", "text/html")

	routed, err := gateway.NewRouter().Rewrite(req, e)
	require.NoError(t, err)

	out := routed.Request
	assert.Same(t, e, routed.Endpoint)
	assert.Equal(t, "https://www.example.com/search/items?q=go&page=2", routed.Target.String())
	assert.Equal(t, "https://abc123.execute-api.us-east-1.amazonaws.com/proxy-stage/search/items?q=go&page=2", out.URL.String())
	assert.Equal(t, "abc123.execute-api.us-east-1.amazonaws.com", out.Host)

	assert.Equal(t, "www.example.com", out.Header.Get(gateway.HeaderHost))
	assert.Equal(t, "203.0.113.7", out.Header.Get(gateway.HeaderForwardedHeader))
	assert.Empty(t, out.Header.Get(gateway.HeaderForwardedFor))
	assert.Equal(t, gateway.DefaultUserAgent, out.Header.Get(gateway.HeaderForwardUserAgent))
	assert.Equal(t, "text/html", out.Header.Get("Accept"))

	// The caller's request is untouched.
	assert.Equal(t, "www.example.com", req.URL.Host)
	assert.Equal(t, "203.0.113.7", req.Header.Get("X-Forwarded-For"))
	assert.Empty(t, req.Header.Get(gateway.HeaderHost))
}

func TestRouter_RewriteGeneratesForwardedFor(t *testing.T) {
	t.Parallel()

	e := &gateway.Endpoint{ID: "x", BaseURL: "https://x.example.invalid/proxy-stage/"}
	req, err := http.NewRequest(http.MethodPost, "https://api.example.com/", nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "avaproxy-test/1.0")

	router := gateway.NewRouter(
		gateway.WithHostHeader("origin.example.com"),
		gateway.WithForwardedForSource(func() netip.Addr { return netip.MustParseAddr("198.51.100.23") }),
	)
	routed, err := router.Rewrite(req, e)
	require.NoError(t, err)

	out := routed.Request
	assert.Equal(t, "https://x.example.invalid/proxy-stage/", out.URL.String())
	assert.Equal(t, http.MethodPost, out.Method)
	assert.Equal(t, "origin.example.com", out.Header.Get(gateway.HeaderHost))
	assert.Equal(t, "198.51.100.23", out.Header.Get(gateway.HeaderForwardedHeader))
	assert.Equal(t, "avaproxy-test/1.0", out.Header.Get(gateway.HeaderForwardUserAgent))
}

func TestRouter_RewriteRandomForwardedFor(t *testing.T) {
	t.Parallel()

	e := &gateway.Endpoint{ID: "x", BaseURL: "https://x.example.invalid"}
	req, err := http.NewRequest(http.MethodGet, "https://api.example.com/v1", nil)
	require.NoError(t, err)

	routed, err := gateway.NewRouter().Rewrite(req, e)
	require.NoError(t, err)

	addr, err := netip.ParseAddr(routed.Request.Header.Get(gateway.HeaderForwardedHeader))
	require.NoError(t, err)
	assert.True(t, addr.Is4())
	assert.Equal(t, "/v1", routed.Request.URL.Path)
}

func TestRouter_RewriteTargetPath(t *testing.T) {
	t.Parallel()

	e := &gateway.Endpoint{ID: "x", BaseURL: "https://x.example.invalid/proxy-stage"}
	router := gateway.NewRouter(gateway.WithTargetPath("/api/"))

	tests := []struct {
		target string
		want   string
	}{
		{target: "https://example.com/api/v1/items", want: "/proxy-stage/v1/items"},
		{target: "https://example.com/api", want: "/proxy-stage/"},
		{target: "https://example.com/apiary", want: "/proxy-stage/apiary"},
		{target: "https://example.com/other", want: "/proxy-stage/other"},
	}

	for _, tt := range tests {
		req, err := http.NewRequest(http.MethodGet, tt.target, nil)
		require.NoError(t, err)

		routed, err := router.Rewrite(req, e)
		require.NoError(t, err)
		assert.Equal(t, tt.want, routed.Request.URL.Path, tt.target)
	}
}

func TestRouter_RewriteErrors(t *testing.T) {
	t.Parallel()

	req, err := http.NewRequest(http.MethodGet, "https://api.example.com/v1", nil)
	require.NoError(t, err)

	router := gateway.NewRouter()
	_, err = router.Rewrite(req, nil)
	assert.ErrorIs(t, err, gateway.ErrNoEndpointsAvailable)

	_, err = router.Rewrite(req, &gateway.Endpoint{ID: "bad", BaseURL: "://nope"})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, gateway.ErrNoEndpointsAvailable))
}
