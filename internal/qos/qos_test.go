package qos

import (
	"testing"

	"github.com/sentrygov/governor/internal/trace"
)

func TestEvaluate_SheddingScenario(t *testing.T) {
	// Scenario 4 from spec §8.
	c := NewController(Config{
		BackpressureThreshold: 100,
		LatencyThresholdMs:    200,
		CPUThreshold:          0.85,
		MemoryThreshold:       0.90,
		AdaptiveThrottling:    true,
	}, nil)

	adj := c.Evaluate(Metrics{CPUUsage: 0.9, QueueDepth: 250})

	if adj.SpeedMultiplier > 0.6 {
		t.Errorf("expected speed_multiplier <= 0.6, got %v", adj.SpeedMultiplier)
	}
	if adj.FuelMultiplier > 0.5 {
		t.Errorf("expected fuel_multiplier <= 0.5, got %v", adj.FuelMultiplier)
	}
	if adj.RateLimitMultiplier > 0.4 {
		t.Errorf("expected rate_limit_multiplier <= 0.4, got %v", adj.RateLimitMultiplier)
	}
	if !adj.ShedLowPriority {
		t.Error("expected shed_low_priority=true")
	}
	if adj.LoadLevel != trace.LoadOverload {
		t.Errorf("expected OVERLOAD load level, got %v", adj.LoadLevel)
	}
}

func TestEvaluate_MultipliersNeverExceedOne(t *testing.T) {
	c := NewController(DefaultConfig(), nil)
	adj := c.Evaluate(Metrics{})
	if adj.SpeedMultiplier != 1.0 || adj.FuelMultiplier != 1.0 || adj.RateLimitMultiplier != 1.0 {
		t.Errorf("expected all multipliers at 1.0 for an idle snapshot, got %+v", adj)
	}
}

func TestEvaluate_RulesOnlyLowerMultipliers(t *testing.T) {
	c := NewController(DefaultConfig(), nil)
	adj := c.Evaluate(Metrics{CPUUsage: 0.95, MemoryUsage: 0.95, QueueDepth: 500, AvgLatencyMs: 5000, PacketLoss: 0.5})

	for name, v := range map[string]float64{
		"speed":      adj.SpeedMultiplier,
		"fuel":       adj.FuelMultiplier,
		"rate_limit": adj.RateLimitMultiplier,
	} {
		if v <= 0 || v > 1.0 {
			t.Errorf("%s multiplier %v out of (0,1] range", name, v)
		}
	}
}

func TestClassifyLoad_IdleWhenBelowAllThresholds(t *testing.T) {
	c := NewController(DefaultConfig(), nil)
	adj := c.Evaluate(Metrics{CPUUsage: 0.1})
	if adj.LoadLevel != trace.LoadIdle {
		t.Errorf("expected IDLE, got %v", adj.LoadLevel)
	}
}

func TestClassifyLoad_ElevatedOnHighLatencyAlone(t *testing.T) {
	c := NewController(DefaultConfig(), nil)
	adj := c.Evaluate(Metrics{CPUUsage: 0.1, AvgLatencyMs: 170})
	if adj.LoadLevel != trace.LoadElevated {
		t.Errorf("expected ELEVATED from latency > 0.8*threshold, got %v", adj.LoadLevel)
	}
}

// AdaptiveThrottling only gates the adjustment warning log (original_source
// qos.py:127: "if adj.reasons and self.adaptive_throttling") — the
// multiplier/shedding rules themselves always run.
func TestAdaptiveThrottlingDisabled_RulesStillApply(t *testing.T) {
	c := NewController(Config{AdaptiveThrottling: false, CPUThreshold: 0.85, MemoryThreshold: 0.9, LatencyThresholdMs: 200, BackpressureThreshold: 100}, nil)
	adj := c.Evaluate(Metrics{CPUUsage: 0.99})
	if adj.SpeedMultiplier != 0.6 {
		t.Errorf("expected throttling rules to still apply when AdaptiveThrottling is false, got speed_multiplier=%v", adj.SpeedMultiplier)
	}
}

func TestTrend_InsufficientHistoryReturnsEmpty(t *testing.T) {
	c := NewController(DefaultConfig(), nil)
	if trend := c.Trend(10); trend != "" {
		t.Errorf("expected empty trend with no history, got %q", trend)
	}
}

func TestTrend_DegradingWhenCPURises(t *testing.T) {
	c := NewController(DefaultConfig(), nil)
	for i := 0; i < 5; i++ {
		c.Evaluate(Metrics{CPUUsage: 0.1})
	}
	for i := 0; i < 5; i++ {
		c.Evaluate(Metrics{CPUUsage: 0.8})
	}
	if trend := c.Trend(10); trend != "degrading" {
		t.Errorf("expected degrading trend, got %q", trend)
	}
}

func TestTrend_ImprovingWhenCPUFalls(t *testing.T) {
	c := NewController(DefaultConfig(), nil)
	for i := 0; i < 5; i++ {
		c.Evaluate(Metrics{CPUUsage: 0.9})
	}
	for i := 0; i < 5; i++ {
		c.Evaluate(Metrics{CPUUsage: 0.1})
	}
	if trend := c.Trend(10); trend != "improving" {
		t.Errorf("expected improving trend, got %q", trend)
	}
}

func TestHistory_BoundedRing(t *testing.T) {
	c := NewController(DefaultConfig(), nil)
	for i := 0; i < historySize+20; i++ {
		c.Evaluate(Metrics{CPUUsage: 0.5})
	}
	if len(c.history) != historySize {
		t.Errorf("expected history capped at %d, got %d", historySize, len(c.history))
	}
}
