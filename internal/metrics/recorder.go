package metrics

import "time"

// ResultLabel enumerates run result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultWarning  ResultLabel = "warning"
	ResultFailed   ResultLabel = "failed"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for audit, repair and download metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All methods must
// be safe for nil receivers when using the NoopRecorder (allowing optional injection).
type Recorder interface {
	ObserveAuditDuration(d time.Duration)
	IncAuditOutcome(outcome ResultLabel)
	SetDiscrepancies(kind string, n int)
	ObserveRepairDuration(tag string, d time.Duration, success bool)
	IncRepairResult(success bool)
	ObserveDownloadDuration(platform string, d time.Duration, success bool)
	AddDownloadBytes(n int64)
	IncCacheResult(hit bool)
	IncRetry(op string)
	IncRetryExhausted(op string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveAuditDuration(time.Duration)                  {}
func (NoopRecorder) IncAuditOutcome(ResultLabel)                         {}
func (NoopRecorder) SetDiscrepancies(string, int)                        {}
func (NoopRecorder) ObserveRepairDuration(string, time.Duration, bool)   {}
func (NoopRecorder) IncRepairResult(bool)                                {}
func (NoopRecorder) ObserveDownloadDuration(string, time.Duration, bool) {}
func (NoopRecorder) AddDownloadBytes(int64)                              {}
func (NoopRecorder) IncCacheResult(bool)                                 {}
func (NoopRecorder) IncRetry(string)                                     {}
func (NoopRecorder) IncRetryExhausted(string)                            {}
