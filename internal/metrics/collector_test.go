package metrics

import "testing"

func TestCollector_CounterAccumulates(t *testing.T) {
	c := NewCollector(10)
	c.IncCounter("intents_total", 1)
	c.IncCounter("intents_total", 1)
	if got := c.GetCounter("intents_total"); got != 2 {
		t.Errorf("expected counter=2, got %v", got)
	}
}

func TestCollector_GaugeOverwrites(t *testing.T) {
	c := NewCollector(10)
	c.SetGauge("queue_depth", 5)
	c.SetGauge("queue_depth", 9)
	if got := c.GetGauge("queue_depth"); got != 9 {
		t.Errorf("expected gauge=9, got %v", got)
	}
}

func TestCollector_HistogramAvgAndP99(t *testing.T) {
	c := NewCollector(1000)
	for i := 1; i <= 100; i++ {
		c.Observe("latency", float64(i))
	}
	avg, ok := c.HistogramAvg("latency", 3600)
	if !ok || avg != 50.5 {
		t.Errorf("expected avg=50.5, got %v (ok=%v)", avg, ok)
	}
	p99, ok := c.HistogramP99("latency", 3600)
	if !ok || p99 < 98 {
		t.Errorf("expected p99 near 99, got %v", p99)
	}
}

func TestCollector_MissingHistogramReturnsFalse(t *testing.T) {
	c := NewCollector(10)
	if _, ok := c.HistogramAvg("does-not-exist", 60); ok {
		t.Error("expected ok=false for a histogram with no observations")
	}
}

func TestCollector_BoundedWindow(t *testing.T) {
	c := NewCollector(5)
	for i := 0; i < 20; i++ {
		c.Observe("x", float64(i))
	}
	c.mu.Lock()
	n := len(c.histograms["x"])
	c.mu.Unlock()
	if n != 5 {
		t.Errorf("expected histogram capped at 5 observations, got %d", n)
	}
}

func TestCollector_Reset(t *testing.T) {
	c := NewCollector(10)
	c.IncCounter("x", 1)
	c.SetGauge("y", 1)
	c.Observe("z", 1)
	c.Reset()
	if c.GetCounter("x") != 0 || c.GetGauge("y") != 0 {
		t.Error("expected reset to clear counters and gauges")
	}
	if _, ok := c.HistogramAvg("z", 60); ok {
		t.Error("expected reset to clear histograms")
	}
}

func TestSLAMonitor_HealthyWithNoTraffic(t *testing.T) {
	c := NewCollector(10)
	sla := NewSLAMonitor(c)
	if sla.IsDegraded() {
		t.Error("expected a fresh collector with no traffic to report healthy")
	}
}

func TestSLAMonitor_DegradedOnHighErrorRate(t *testing.T) {
	c := NewCollector(10)
	sla := NewSLAMonitor(c)
	c.IncCounter("intents_total", 100)
	c.IncCounter("intents_error", 20)
	if !sla.IsDegraded() {
		t.Error("expected degraded SLA at 20% error rate (floor 5%)")
	}
}

func TestSLAMonitor_ApprovalFloorIgnoredBelowMinimumSample(t *testing.T) {
	c := NewCollector(10)
	sla := NewSLAMonitor(c)
	c.IncCounter("intents_total", 5)
	c.IncCounter("intents_approved", 0)
	checks := sla.Check()
	if !checks["approval_rate"] {
		t.Error("expected approval_rate check to pass below the minimum sample size of 10")
	}
}
