// Package metrics provides an observability framework for audit, repair and
// download metrics.
//
// # Design Philosophy
//
// This package implements the Null Object pattern to enable metrics collection
// without requiring explicit nil checks throughout the codebase. By default,
// all components use NoopRecorder which implements the Recorder interface with
// no-op methods that inline to nothing at compile time.
//
// # Architecture
//
// The metrics system has three components:
//
//  1. Recorder interface - Defines all metrics operations
//  2. NoopRecorder - Default implementation that does nothing (zero overhead)
//  3. PrometheusRecorder - Real implementation registered against a Prometheus registry
//
// # Usage Pattern
//
// Components receive a Recorder through dependency injection:
//
//	type Runner struct {
//	    recorder metrics.Recorder
//	}
//
//	func NewRunner() *Runner {
//	    return &Runner{
//	        recorder: metrics.NoopRecorder{}, // Default: no metrics
//	    }
//	}
//
// # Activation
//
// One-shot CLI commands keep the NoopRecorder default. The daemon constructs a
// PrometheusRecorder against its own registry and serves it over HTTP:
//
//	reg := prom.NewRegistry()
//	recorder := metrics.NewPrometheusRecorder(reg)
//	mux.Handle("/metrics", metrics.HTTPHandler(reg))
//
// This approach allows:
//   - Zero overhead when metrics are disabled (noop methods inline away)
//   - Metrics activation without code changes (just swap implementation)
//   - Clean testing (inject mock recorder for verification)
package metrics
