// Package feedback implements the telemetry feedback loop: it observes
// rolling latency/rejection telemetry and recommends policy-axis
// adjustments (spec §4.6), ported from
// original_source/src/core/governance/feedback.py.
//
// Loop does not hold an engine back-reference (spec §9's cyclic-coupling
// avoidance) — Evaluate returns a plain Action for the caller to apply.
package feedback

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sentrygov/governor/internal/metrics"
	"github.com/sentrygov/governor/internal/policy"
)

// Config holds the tunable feedback thresholds.
type Config struct {
	CPUOverloadThreshold  float64
	CPUIdleThreshold      float64
	LatencyOverloadMs     float64
	LatencyHealthyMs      float64
	RejectionRateLockdown float64
	RejectionRateRecovery float64
	CooldownS             float64
	MinObservations       int
	ObservationWindowS    float64
}

// DefaultConfig mirrors original_source's FeedbackConfig defaults.
func DefaultConfig() Config {
	return Config{
		CPUOverloadThreshold:  0.85,
		CPUIdleThreshold:      0.20,
		LatencyOverloadMs:     2000.0,
		LatencyHealthyMs:      500.0,
		RejectionRateLockdown: 0.40,
		RejectionRateRecovery: 0.05,
		CooldownS:             60.0,
		MinObservations:       20,
		ObservationWindowS:    300.0,
	}
}

// State is a monitoring snapshot of the loop's current condition.
type State struct {
	LastAdaptationTime time.Time
	TotalAdaptations   int
	LastAction         string
	CurrentAvgLatency  *float64
	CurrentRejection   *float64
	CurrentCPUUsage    *float64
	InCooldown         bool
}

// Action is an adaptation recommended by Evaluate. The caller applies it
// to the engine's policy axes.
type Action struct {
	Name        string
	Performance *policy.PerformanceProfile
	Security    *policy.SecurityPosture
	Reason      string
}

type sample struct {
	at    time.Time
	value float64
}

// Loop is the adaptive controller. It holds no reference to the engine.
type Loop struct {
	mu       sync.Mutex
	metrics  *metrics.Collector
	cfg      Config
	log      *zap.Logger
	state    State
	latency  []sample
	rejected []sample
}

const maxBufferSize = 500

// New creates a Loop bound to a Collector.
func New(m *metrics.Collector, cfg Config, log *zap.Logger) *Loop {
	return &Loop{metrics: m, cfg: cfg, log: log}
}

// Observe feeds a single intent outcome into the loop, also forwarding it
// into the shared Collector for dashboard visibility.
func (l *Loop) Observe(latencyMs float64, rejected bool) {
	now := time.Now().UTC()

	l.mu.Lock()
	l.latency = appendBounded(l.latency, sample{at: now, value: latencyMs}, maxBufferSize)
	rejVal := 0.0
	if rejected {
		rejVal = 1.0
	}
	l.rejected = appendBounded(l.rejected, sample{at: now, value: rejVal}, maxBufferSize)
	l.mu.Unlock()

	l.metrics.Observe("intent_latency_ms", latencyMs)
	l.metrics.IncCounter("intents_total", 1)
	if rejected {
		l.metrics.IncCounter("intents_rejected", 1)
	} else {
		l.metrics.IncCounter("intents_approved", 1)
	}
}

func appendBounded(buf []sample, s sample, max int) []sample {
	buf = append(buf, s)
	if len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}

// Evaluate checks telemetry and returns an Action if adaptation is
// needed, or nil if no change is needed or the loop is in cooldown
// (spec §4.6's gate ordering: cooldown -> min-observations -> compute
// averages -> performance rules -> security rules).
func (l *Loop) Evaluate(currentPerformance policy.PerformanceProfile, currentSecurity policy.SecurityPosture, cpuUsage float64) *Action {
	now := time.Now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.state.LastAdaptationTime.IsZero() {
		elapsed := now.Sub(l.state.LastAdaptationTime).Seconds()
		if elapsed < l.cfg.CooldownS {
			l.state.InCooldown = true
			return nil
		}
	}
	l.state.InCooldown = false

	cutoff := now.Add(-time.Duration(l.cfg.ObservationWindowS * float64(time.Second)))
	recentLatencies := windowed(l.latency, cutoff)
	recentRejections := windowed(l.rejected, cutoff)

	if len(recentLatencies) < l.cfg.MinObservations {
		return nil
	}

	avgLatency := mean(recentLatencies)
	rejectionRate := mean(recentRejections)

	l.state.CurrentAvgLatency = &avgLatency
	l.state.CurrentRejection = &rejectionRate
	l.state.CurrentCPUUsage = &cpuUsage

	if action := l.evaluatePerformance(currentPerformance, cpuUsage, avgLatency); action != nil {
		return action
	}
	return l.evaluateSecurity(currentSecurity, rejectionRate)
}

func (l *Loop) evaluatePerformance(current policy.PerformanceProfile, cpuUsage, avgLatency float64) *Action {
	if cpuUsage > l.cfg.CPUOverloadThreshold || avgLatency > l.cfg.LatencyOverloadMs {
		if current != policy.Eco {
			l.log.Warn("system overload detected, downshifting performance",
				zap.Float64("cpu_usage", cpuUsage), zap.Float64("avg_latency_ms", avgLatency))
			return l.makeAction("performance_downshift", &policy.Eco, nil, "system overload — downshifting to eco")
		}
	}

	if cpuUsage < l.cfg.CPUIdleThreshold && avgLatency < l.cfg.LatencyHealthyMs && current == policy.Eco {
		l.log.Info("system idle, upshifting performance",
			zap.Float64("cpu_usage", cpuUsage), zap.Float64("avg_latency_ms", avgLatency))
		return l.makeAction("performance_upshift", &policy.Balanced, nil, "system idle — upshifting to balanced")
	}

	return nil
}

func (l *Loop) evaluateSecurity(current policy.SecurityPosture, rejectionRate float64) *Action {
	if rejectionRate > l.cfg.RejectionRateLockdown {
		if current != policy.Lockdown {
			l.log.Error("high rejection rate, initiating lockdown", zap.Float64("rejection_rate", rejectionRate))
			return l.makeAction("security_lockdown", nil, &policy.Lockdown, "high rejection rate — initiating lockdown")
		}
	}

	if rejectionRate < l.cfg.RejectionRateRecovery && current == policy.Lockdown {
		l.log.Info("rejection rate normalized, reverting to guarded", zap.Float64("rejection_rate", rejectionRate))
		return l.makeAction("security_recovery", nil, &policy.Guarded, "rejection rate normalized — reverting to guarded")
	}

	return nil
}

func (l *Loop) makeAction(name string, perf *policy.PerformanceProfile, sec *policy.SecurityPosture, reason string) *Action {
	l.state.LastAdaptationTime = time.Now().UTC()
	l.state.TotalAdaptations++
	l.state.LastAction = name
	return &Action{Name: name, Performance: perf, Security: sec, Reason: reason}
}

// State returns a copy of the loop's current monitoring state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Status returns a status snapshot for dashboards.
func (l *Loop) Status() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return map[string]any{
		"last_action":        l.state.LastAction,
		"total_adaptations":  l.state.TotalAdaptations,
		"in_cooldown":        l.state.InCooldown,
		"avg_latency_ms":     l.state.CurrentAvgLatency,
		"rejection_rate":     l.state.CurrentRejection,
		"cpu_usage":          l.state.CurrentCPUUsage,
		"observation_count":  len(l.latency),
	}
}

func windowed(buf []sample, cutoff time.Time) []float64 {
	values := make([]float64, 0, len(buf))
	for _, s := range buf {
		if !s.at.Before(cutoff) {
			values = append(values, s.value)
		}
	}
	return values
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
