package transport

import (
	"net"
	"net/http"
	"time"

	"github.com/vyrodovalexey/avaproxy/internal/config"
)

// Sender sends one HTTP request. Implementations must honor the request
// context for cancellation.
type Sender interface {
	Send(req *http.Request) (*http.Response, error)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(req *http.Request) (*http.Response, error)

// Send implements Sender.
func (f SenderFunc) Send(req *http.Request) (*http.Response, error) {
	return f(req)
}

// PoolConfig contains connection pool configuration.
type PoolConfig struct {
	Timeout               time.Duration
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	ResponseHeaderTimeout time.Duration
	ExpectContinueTimeout time.Duration
	DisableRedirects      bool
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Timeout:               config.DefaultRequestTimeout,
		MaxIdleConns:          config.DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   config.DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:       config.DefaultIdleConnTimeout,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// PoolConfigFrom converts the transport section of the configuration.
func PoolConfigFrom(cfg config.TransportConfig) PoolConfig {
	pc := DefaultPoolConfig()
	if cfg.Timeout > 0 {
		pc.Timeout = cfg.Timeout.Duration()
	}
	if cfg.MaxIdleConns > 0 {
		pc.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost > 0 {
		pc.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	pc.MaxConnsPerHost = cfg.MaxConnsPerHost
	if cfg.IdleConnTimeout > 0 {
		pc.IdleConnTimeout = cfg.IdleConnTimeout.Duration()
	}
	pc.DisableRedirects = cfg.DisableRedirects
	return pc
}

// ConnectionPool is a Sender backed by a shared http.Transport.
type ConnectionPool struct {
	config    PoolConfig
	transport *http.Transport
	client    *http.Client
}

// NewConnectionPool creates a new connection pool.
func NewConnectionPool(cfg PoolConfig) *ConnectionPool {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: cfg.ExpectContinueTimeout,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
	if cfg.DisableRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &ConnectionPool{
		config:    cfg,
		transport: transport,
		client:    client,
	}
}

// Send implements Sender.
func (p *ConnectionPool) Send(req *http.Request) (*http.Response, error) {
	return p.client.Do(req)
}

// CloseIdleConnections closes idle connections.
func (p *ConnectionPool) CloseIdleConnections() {
	p.transport.CloseIdleConnections()
}
