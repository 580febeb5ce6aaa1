package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once             sync.Once
	auditDuration    prom.Histogram
	auditOutcome     *prom.CounterVec
	discrepancies    *prom.GaugeVec
	repairDuration   *prom.HistogramVec
	repairResults    *prom.CounterVec
	downloadDuration *prom.HistogramVec
	downloadBytes    prom.Counter
	cacheResults     *prom.CounterVec
	retries          *prom.CounterVec
	retriesExhausted *prom.CounterVec
}

var _ Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.auditDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "dbdepot",
			Name:      "audit_duration_seconds",
			Help:      "Total audit run duration",
			Buckets:   prom.DefBuckets,
		})
		pr.auditOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "dbdepot",
			Name:      "audit_outcomes_total",
			Help:      "Audit outcomes by final status",
		}, []string{"outcome"})
		pr.discrepancies = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "dbdepot",
			Name:      "discrepancies",
			Help:      "Discrepancies found by the last audit, by kind",
		}, []string{"kind"})
		pr.repairDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "dbdepot",
			Name:      "repair_duration_seconds",
			Help:      "Duration of individual release repair operations",
			Buckets:   prom.DefBuckets,
		}, []string{"release", "result"})
		pr.repairResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "dbdepot",
			Name:      "repair_results_total",
			Help:      "Repair results by success/failure",
		}, []string{"result"})
		pr.downloadDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "dbdepot",
			Name:      "download_duration_seconds",
			Help:      "Duration of artifact downloads by platform",
			Buckets:   prom.DefBuckets,
		}, []string{"platform", "result"})
		pr.downloadBytes = prom.NewCounter(prom.CounterOpts{
			Namespace: "dbdepot",
			Name:      "download_bytes_total",
			Help:      "Total bytes fetched from release assets",
		})
		pr.cacheResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "dbdepot",
			Name:      "cache_results_total",
			Help:      "Artifact cache lookups by hit/miss",
		}, []string{"result"})
		pr.retries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "dbdepot",
			Name:      "retries_total",
			Help:      "Total operation retries (transient failures)",
		}, []string{"op"})
		pr.retriesExhausted = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "dbdepot",
			Name:      "retry_exhausted_total",
			Help:      "Count of operations where retries were exhausted",
		}, []string{"op"})
		reg.MustRegister(pr.auditDuration, pr.auditOutcome, pr.discrepancies, pr.repairDuration, pr.repairResults, pr.downloadDuration, pr.downloadBytes, pr.cacheResults, pr.retries, pr.retriesExhausted)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveAuditDuration(d time.Duration) {
	if p == nil || p.auditDuration == nil {
		return
	}
	p.auditDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncAuditOutcome(outcome ResultLabel) {
	if p == nil || p.auditOutcome == nil {
		return
	}
	p.auditOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) SetDiscrepancies(kind string, n int) {
	if p == nil || p.discrepancies == nil {
		return
	}
	p.discrepancies.WithLabelValues(kind).Set(float64(n))
}

func (p *PrometheusRecorder) ObserveRepairDuration(tag string, d time.Duration, success bool) {
	if p == nil || p.repairDuration == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.repairDuration.WithLabelValues(tag, res).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRepairResult(success bool) {
	if p == nil || p.repairResults == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.repairResults.WithLabelValues(res).Inc()
}

func (p *PrometheusRecorder) ObserveDownloadDuration(platform string, d time.Duration, success bool) {
	if p == nil || p.downloadDuration == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.downloadDuration.WithLabelValues(platform, res).Observe(d.Seconds())
}

func (p *PrometheusRecorder) AddDownloadBytes(n int64) {
	if p == nil || p.downloadBytes == nil {
		return
	}
	p.downloadBytes.Add(float64(n))
}

func (p *PrometheusRecorder) IncCacheResult(hit bool) {
	if p == nil || p.cacheResults == nil {
		return
	}
	res := "miss"
	if hit {
		res = "hit"
	}
	p.cacheResults.WithLabelValues(res).Inc()
}

func (p *PrometheusRecorder) IncRetry(op string) {
	if p == nil || p.retries == nil {
		return
	}
	p.retries.WithLabelValues(op).Inc()
}

func (p *PrometheusRecorder) IncRetryExhausted(op string) {
	if p == nil || p.retriesExhausted == nil {
		return
	}
	p.retriesExhausted.WithLabelValues(op).Inc()
}
