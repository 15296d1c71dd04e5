// Package observability provides logging, metrics, and tracing
// functionality for the gateway pool and the proxy client.
//
// # Logging
//
// The Logger interface provides structured logging backed by zap:
//
//	logger, err := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	logger.Info("endpoint created",
//	    observability.String(observability.FieldRegion, "us-east-1"),
//	    observability.String(observability.FieldEndpointID, "a1b2c3"),
//	)
//
// # Metrics
//
// Prometheus metrics for the endpoint lifecycle and routed requests:
//
//	metrics := observability.NewMetrics("avaproxy")
//	http.Handle("/metrics", metrics.Handler())
//
// All Metrics methods are safe to call on a nil receiver.
//
// # Tracing
//
// OpenTelemetry tracing with optional OTLP gRPC export:
//
//	tracer, err := observability.NewTracer(ctx, observability.TracerConfig{
//	    Enabled:      true,
//	    OTLPEndpoint: "localhost:4317",
//	    SamplingRate: 1,
//	})
//	defer tracer.Shutdown(ctx)
package observability
