package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics server defaults.
const (
	DefaultMetricsPath         = "/metrics"
	DefaultMetricsReadTimeout  = 5 * time.Second
	DefaultMetricsWriteTimeout = 10 * time.Second
)

// MetricsServer serves a Metrics registry over HTTP.
type MetricsServer struct {
	addr     string
	metrics  *Metrics
	logger   Logger
	server   *http.Server
	listener net.Listener
	stopOnce sync.Once
}

// NewMetricsServer creates a metrics server listening on addr.
func NewMetricsServer(addr string, metrics *Metrics, logger Logger) *MetricsServer {
	if logger == nil {
		logger = NopLogger()
	}
	return &MetricsServer{
		addr:    addr,
		metrics: metrics,
		logger:  logger,
	}
}

// Addr returns the bound address once Start has returned, or the configured one.
func (s *MetricsServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start binds the listener and serves in the background until Stop is called.
func (s *MetricsServer) Start(ctx context.Context) error {
	if s.metrics == nil {
		return errors.New("metrics server requires a metrics registry")
	}

	mux := http.NewServeMux()
	mux.Handle(DefaultMetricsPath, promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{
		ErrorLog:            &promErrorLogger{logger: s.logger},
		ErrorHandling:       promhttp.ContinueOnError,
		MaxRequestsInFlight: 10,
		Timeout:             DefaultMetricsWriteTimeout,
		EnableOpenMetrics:   true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			s.logger.Debug("failed to write health response", Error(err))
		}
	})

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  DefaultMetricsReadTimeout,
		WriteTimeout: DefaultMetricsWriteTimeout,
	}

	s.logger.Info("starting metrics server",
		String("address", ln.Addr().String()),
		String("path", DefaultMetricsPath),
	)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *MetricsServer) Stop(ctx context.Context) error {
	var stopErr error
	s.stopOnce.Do(func() {
		if s.server == nil {
			return
		}
		s.logger.Info("stopping metrics server")
		stopErr = s.server.Shutdown(ctx)
	})
	return stopErr
}

// promErrorLogger adapts Logger to the promhttp.Logger interface.
type promErrorLogger struct {
	logger Logger
}

// Println implements promhttp.Logger.
func (l *promErrorLogger) Println(v ...interface{}) {
	l.logger.Error(fmt.Sprint(v...))
}
