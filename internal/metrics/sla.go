package metrics

import "time"

// SLAMonitor evaluates service-level indicators against a Collector's
// rolling windows and reports degradation signals the engine can use
// for dashboards or auto-mode-switching triggers. Supplemented from
// original_source/src/core/observability/metrics.py's SLAMonitor
// (SPEC_FULL §4) — it reads the Collector's own counters/histograms and
// introduces no new storage.
type SLAMonitor struct {
	metrics            *Collector
	latencySLAMs       float64
	errorRateSLA       float64
	approvalRateFloor  float64
}

// NewSLAMonitor creates an SLAMonitor with the original's defaults:
// latency_sla_ms=200, error_rate_sla=0.05, approval_rate_floor=0.3.
func NewSLAMonitor(m *Collector) *SLAMonitor {
	return &SLAMonitor{metrics: m, latencySLAMs: 200.0, errorRateSLA: 0.05, approvalRateFloor: 0.3}
}

// Check evaluates every SLA condition and returns a health map keyed by
// indicator name.
func (s *SLAMonitor) Check() map[string]bool {
	results := make(map[string]bool, 3)

	avgLatency, ok := s.metrics.HistogramAvg("intent_latency_ms", 60)
	results["latency"] = !ok || avgLatency <= s.latencySLAMs

	total := s.metrics.GetCounter("intents_total")
	errorsCount := s.metrics.GetCounter("intents_error")
	if total > 0 {
		results["error_rate"] = (errorsCount / total) <= s.errorRateSLA
	} else {
		results["error_rate"] = true
	}

	approved := s.metrics.GetCounter("intents_approved")
	if total > 10 {
		results["approval_rate"] = (approved / total) >= s.approvalRateFloor
	} else {
		results["approval_rate"] = true
	}

	return results
}

// IsDegraded is true if any SLA indicator is breached.
func (s *SLAMonitor) IsDegraded() bool {
	for _, healthy := range s.Check() {
		if !healthy {
			return true
		}
	}
	return false
}

// Report returns a full SLA report for status()/dashboards.
func (s *SLAMonitor) Report() map[string]any {
	checks := s.Check()
	healthy := true
	for _, v := range checks {
		healthy = healthy && v
	}

	avgLatency, _ := s.metrics.HistogramAvg("intent_latency_ms", 60)
	p99Latency, _ := s.metrics.HistogramP99("intent_latency_ms", 60)

	return map[string]any{
		"healthy": healthy,
		"checks":  checks,
		"metrics": map[string]any{
			"avg_latency_ms": avgLatency,
			"p99_latency_ms": p99Latency,
			"total_intents":  s.metrics.GetCounter("intents_total"),
			"approved":       s.metrics.GetCounter("intents_approved"),
			"rejected":       s.metrics.GetCounter("intents_rejected"),
			"quarantined":    s.metrics.GetCounter("intents_quarantined"),
			"errors":         s.metrics.GetCounter("intents_error"),
		},
		"timestamp": time.Now().UTC(),
	}
}
