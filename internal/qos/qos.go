// Package qos implements the Adaptive QoS Controller (spec §4.4): maps a
// SystemMetrics snapshot to a QoSAdjustment via additive-min rules.
package qos

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sentrygov/governor/internal/trace"
)

const historySize = 60

// Config tunes the controller's thresholds (spec §4.4 defaults, resolved
// from original_source/src/core/governance/qos.py).
type Config struct {
	BackpressureThreshold int
	LatencyThresholdMs    float64
	CPUThreshold          float64
	MemoryThreshold       float64
	AdaptiveThrottling    bool
}

// DefaultConfig returns the spec's defaults.
func DefaultConfig() Config {
	return Config{
		BackpressureThreshold: 100,
		LatencyThresholdMs:    200.0,
		CPUThreshold:          0.85,
		MemoryThreshold:       0.90,
		AdaptiveThrottling:    true,
	}
}

// Metrics is the SystemMetrics snapshot (spec §3).
type Metrics struct {
	CPUUsage      float64
	MemoryUsage   float64
	QueueDepth    int
	AvgLatencyMs  float64
	ErrorRate     float64
	PacketLoss    float64
	Timestamp     time.Time
}

// Adjustment is the QoSAdjustment output (spec §3).
type Adjustment struct {
	SpeedMultiplier     float64
	FuelMultiplier      float64
	RateLimitMultiplier float64
	ShedLowPriority     bool
	LoadLevel           trace.LoadLevel
	Reasons             []string
}

// Controller is the Adaptive QoS Controller.
type Controller struct {
	cfg     Config
	log     *zap.Logger
	history []Metrics
}

// NewController creates a Controller bound to cfg. A nil log disables the
// adjustment warning log.
func NewController(cfg Config, log *zap.Logger) *Controller {
	return &Controller{cfg: cfg, log: log}
}

// SetConfig replaces the controller's tunables, as propagated from
// reload_policy (spec §4.1: "Propagates queue_backpressure_threshold and
// adaptive_throttling to the QoS controller").
func (c *Controller) SetConfig(backpressureThreshold int, adaptiveThrottling bool) {
	c.cfg.BackpressureThreshold = backpressureThreshold
	c.cfg.AdaptiveThrottling = adaptiveThrottling
}

// Evaluate computes a QoSAdjustment from m, recording m in the bounded
// history ring (spec §4.4).
func (c *Controller) Evaluate(m Metrics) Adjustment {
	c.record(m)

	adj := Adjustment{SpeedMultiplier: 1.0, FuelMultiplier: 1.0, RateLimitMultiplier: 1.0}

	if m.CPUUsage > c.cfg.CPUThreshold {
		adj.SpeedMultiplier = min(adj.SpeedMultiplier, 0.6)
		adj.FuelMultiplier = min(adj.FuelMultiplier, 0.5)
		adj.Reasons = append(adj.Reasons, "cpu above threshold")
	}

	if m.MemoryUsage > c.cfg.MemoryThreshold {
		adj.FuelMultiplier = min(adj.FuelMultiplier, 0.3)
		adj.Reasons = append(adj.Reasons, "memory above threshold")
	}

	if c.cfg.BackpressureThreshold > 0 && m.QueueDepth > c.cfg.BackpressureThreshold {
		ratio := float64(m.QueueDepth) / float64(c.cfg.BackpressureThreshold)
		adj.RateLimitMultiplier = min(adj.RateLimitMultiplier, 1/ratio)
		adj.Reasons = append(adj.Reasons, "queue depth above backpressure threshold")
		if ratio > 2.0 {
			adj.ShedLowPriority = true
			adj.Reasons = append(adj.Reasons, "queue depth more than 2x backpressure threshold: shedding low priority")
		}
	}

	if m.AvgLatencyMs > c.cfg.LatencyThresholdMs {
		adj.SpeedMultiplier = min(adj.SpeedMultiplier, c.cfg.LatencyThresholdMs/m.AvgLatencyMs)
		adj.Reasons = append(adj.Reasons, "latency above threshold")
	}

	if m.PacketLoss > 0.10 {
		adj.RateLimitMultiplier = min(adj.RateLimitMultiplier, 0.5)
		adj.Reasons = append(adj.Reasons, "packet loss above 10%")
	}

	adj.LoadLevel = c.classifyLoad(m, adj)

	if len(adj.Reasons) > 0 && c.cfg.AdaptiveThrottling && c.log != nil {
		c.log.Warn("QoS adjustment",
			zap.String("load_level", string(adj.LoadLevel)),
			zap.Float64("speed_multiplier", adj.SpeedMultiplier),
			zap.Float64("fuel_multiplier", adj.FuelMultiplier),
			zap.Bool("shed_low_priority", adj.ShedLowPriority),
			zap.String("reasons", strings.Join(adj.Reasons, "; ")),
		)
	}

	return adj
}

// classifyLoad applies the first-match-wins cascade of spec §4.4.
func (c *Controller) classifyLoad(m Metrics, adj Adjustment) trace.LoadLevel {
	switch {
	case adj.ShedLowPriority:
		return trace.LoadOverload
	case m.CPUUsage > c.cfg.CPUThreshold || m.QueueDepth > c.cfg.BackpressureThreshold:
		return trace.LoadCritical
	case m.CPUUsage > 0.70 || m.AvgLatencyMs > 0.8*c.cfg.LatencyThresholdMs:
		return trace.LoadElevated
	case m.CPUUsage > 0.30:
		return trace.LoadNormal
	default:
		return trace.LoadIdle
	}
}

func (c *Controller) record(m Metrics) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	c.history = append(c.history, m)
	if len(c.history) > historySize {
		c.history = c.history[len(c.history)-historySize:]
	}
}

// Trend compares the mean CPU usage of the first vs second half of the
// last window snapshots, returning "improving"/"stable"/"degrading", or
// "" if history is insufficient (spec §4.4, delta threshold 0.10).
func (c *Controller) Trend(window int) string {
	if window <= 1 || len(c.history) < window {
		return ""
	}
	recent := c.history[len(c.history)-window:]
	half := window / 2
	firstHalf := recent[:half]
	secondHalf := recent[half:]

	firstMean := meanCPU(firstHalf)
	secondMean := meanCPU(secondHalf)
	delta := secondMean - firstMean

	switch {
	case delta > 0.10:
		return "degrading"
	case delta < -0.10:
		return "improving"
	default:
		return "stable"
	}
}

func meanCPU(ms []Metrics) float64 {
	if len(ms) == 0 {
		return 0
	}
	sum := 0.0
	for _, m := range ms {
		sum += m.CPUUsage
	}
	return sum / float64(len(ms))
}
