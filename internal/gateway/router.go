package gateway

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
)

// Forwarding headers. The gateway integration maps them back onto the
// relayed request as Host, X-Forwarded-For and User-Agent.
const (
	HeaderHost             = "X-Host"
	HeaderForwardedFor     = "X-Forwarded-For"
	HeaderForwardedHeader  = "X-Forwarded-Header"
	HeaderUserAgent        = "User-Agent"
	HeaderForwardUserAgent = "X-User-Agent"
)

// DefaultUserAgent is sent when the request carries no User-Agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// EndpointSource is the read side of a pool.
type EndpointSource interface {
	Regions() []Region
	Endpoints() []*Endpoint
	RegionEndpoints(region Region) []*Endpoint
}

// RoutedRequest is an outbound request rewritten to go through Endpoint.
type RoutedRequest struct {
	Request  *http.Request
	Endpoint *Endpoint

	// Target is the URL the caller asked for.
	Target *url.URL
}

// Router selects endpoints round-robin and rewrites requests to them.
type Router struct {
	hostHeader string
	targetPath string
	userAgent  string
	randIP     func() netip.Addr

	mu            sync.Mutex
	cursor        uint64
	regionCursors map[Region]uint64
}

// RouterOption is a functional option for configuring a Router.
type RouterOption func(*Router)

// WithHostHeader forces the Host the gateway presents to the target.
func WithHostHeader(host string) RouterOption {
	return func(r *Router) {
		r.hostHeader = host
	}
}

// WithTargetPath sets the path of the URL gateways forward to. Request
// paths under it are sent relative to it, since the gateway integration
// already appends it.
func WithTargetPath(p string) RouterOption {
	return func(r *Router) {
		r.targetPath = strings.TrimRight(p, "/")
	}
}

// WithDefaultUserAgent overrides DefaultUserAgent.
func WithDefaultUserAgent(ua string) RouterOption {
	return func(r *Router) {
		r.userAgent = ua
	}
}

// WithForwardedForSource sets the generator of X-Forwarded-For values used
// when the request carries none.
func WithForwardedForSource(fn func() netip.Addr) RouterOption {
	return func(r *Router) {
		r.randIP = fn
	}
}

// NewRouter creates a router.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		userAgent:     DefaultUserAgent,
		randIP:        randomIPv4,
		regionCursors: make(map[Region]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Select returns the next live endpoint of src in round-robin order.
func (r *Router) Select(src EndpointSource) (*Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	eps := src.Endpoints()
	if len(eps) == 0 {
		return nil, ErrNoEndpointsAvailable
	}
	idx := r.cursor % uint64(len(eps))
	r.cursor++
	return eps[idx], nil
}

// SelectRegion is Select restricted to one region, with a cursor per region.
func (r *Router) SelectRegion(src EndpointSource, region Region) (*Endpoint, error) {
	known := false
	for _, reg := range src.Regions() {
		if reg == region {
			known = true
			break
		}
	}
	if !known {
		return nil, &InvalidRegionError{Region: string(region), Reason: "region is not part of the pool"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	eps := src.RegionEndpoints(region)
	if len(eps) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoEndpointsAvailable, region)
	}
	c := r.regionCursors[region]
	r.regionCursors[region] = c + 1
	return eps[c%uint64(len(eps))], nil
}

// Rewrite returns a copy of req addressed to e. The path and query are
// kept under the endpoint's base URL and the original target travels in
// forwarding headers.
func (r *Router) Rewrite(req *http.Request, e *Endpoint) (*RoutedRequest, error) {
	if e == nil {
		return nil, ErrNoEndpointsAvailable
	}
	base, err := url.Parse(e.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s has invalid base URL: %w", e.ID, err)
	}

	target := *req.URL
	u := *base
	u.Path = joinPath(base.Path, r.relative(req.URL.Path))
	u.RawPath = ""
	if req.URL.RawPath != "" {
		u.RawPath = joinPath(base.EscapedPath(), r.relative(req.URL.RawPath))
	}
	u.RawQuery = req.URL.RawQuery
	u.Fragment = ""

	out := req.Clone(req.Context())
	out.URL = &u
	out.Host = u.Host
	if out.Header == nil {
		out.Header = make(http.Header)
	}

	host := r.hostHeader
	if host == "" {
		host = req.Host
	}
	if host == "" {
		host = target.Host
	}
	out.Header.Set(HeaderHost, host)

	forwarded := out.Header.Get(HeaderForwardedFor)
	out.Header.Del(HeaderForwardedFor)
	if forwarded == "" {
		forwarded = r.randIP().String()
	}
	out.Header.Set(HeaderForwardedHeader, forwarded)

	ua := out.Header.Get(HeaderUserAgent)
	if ua == "" {
		ua = r.userAgent
	}
	out.Header.Set(HeaderForwardUserAgent, ua)

	return &RoutedRequest{Request: out, Endpoint: e, Target: &target}, nil
}

func (r *Router) relative(p string) string {
	if r.targetPath == "" {
		return p
	}
	if p == r.targetPath {
		return ""
	}
	if rest, ok := strings.CutPrefix(p, r.targetPath+"/"); ok {
		return rest
	}
	return p
}

func joinPath(base, p string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(p, "/")
}

// randomIPv4 returns a random public-looking unicast address.
func randomIPv4() netip.Addr {
	//nolint:gosec // G404: spoofed forwarding address, not security-sensitive
	return netip.AddrFrom4([4]byte{
		byte(1 + rand.IntN(223)),
		byte(rand.IntN(256)),
		byte(rand.IntN(256)),
		byte(1 + rand.IntN(254)),
	})
}
