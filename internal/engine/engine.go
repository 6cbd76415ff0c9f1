// Package engine implements the Governance Engine: the orchestrator that
// owns the Policy store, Breaker Set, QoS Controller, Audit Chain, Panic
// Switch, and Metrics Collector, and runs the twelve-step intent
// evaluation pipeline (spec §4.1), ported from
// original_source/src/core/governance/engine.py's RuntimeGovernanceEngine.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sentrygov/governor/internal/audit"
	"github.com/sentrygov/governor/internal/breaker"
	"github.com/sentrygov/governor/internal/feedback"
	"github.com/sentrygov/governor/internal/metrics"
	"github.com/sentrygov/governor/internal/panicswitch"
	"github.com/sentrygov/governor/internal/policy"
	"github.com/sentrygov/governor/internal/qos"
	"github.com/sentrygov/governor/internal/risk"
	"github.com/sentrygov/governor/internal/trace"
)

// subsystem names known statically (spec §9), registered eagerly so
// status() always reports them even before first use.
const (
	SubsystemSSAI      = "ssai"
	SubsystemConsensus = "consensus"
	SubsystemP2P       = "p2p"
	SubsystemSandbox   = "sandbox"
	SubsystemAudit     = "audit"
)

// SemanticClient is the optional hook for a real SSAI semantic-analysis
// service (spec §1: out of scope, "provides a semantic-risk score when
// healthy"). When nil, the engine falls back to the local heuristic
// scorer for every intent and never trips the ssai breaker itself.
type SemanticClient interface {
	Score(ctx context.Context, intent risk.Intent) (float64, error)
}

// QuorumSource is the hook for the out-of-scope consensus layer (spec §9
// Open Questions: "the real consensus module is not wired in ... may
// ship with the constant"). Defaults to a constant 1.0.
type QuorumSource interface {
	QuorumScore() float64
}

type constantQuorum struct{ v float64 }

func (c constantQuorum) QuorumScore() float64 { return c.v }

// Deps bundles the Governance Engine's component dependencies.
type Deps struct {
	PolicyPath     string
	PolicyStore    *policy.Store
	Breakers       *breaker.Set
	QoS            *qos.Controller
	Audit          *audit.Chain
	Panic          *panicswitch.Switch
	Metrics        *metrics.Collector
	Scorer         risk.Scorer    // nil defaults to risk.NewHeuristicScorer()
	SemanticClient SemanticClient // nil disables the ssai breaker's real-call path
	Quorum         QuorumSource   // nil defaults to a constant 1.0
	Logger         *zap.Logger
}

// Engine is the Governance Engine: the decision pipeline plus the four
// coupled subsystems (spec §1, §2).
type Engine struct {
	policyPath  string
	policyStore *policy.Store
	breakers    *breaker.Set
	qosCtrl     *qos.Controller
	auditChain  *audit.Chain
	panicSwitch *panicswitch.Switch
	metricsColl *metrics.Collector
	scorer      risk.Scorer
	semantic    SemanticClient
	quorum      QuorumSource
	log         *zap.Logger

	mu           sync.Mutex
	lastFileHash string

	lastQoS atomic.Value // qos.Adjustment
}

// New wires a Governance Engine from deps. Subsystem breakers are
// pre-registered so status() reports every named subsystem from first
// boot (spec §9: "Names are known statically ... but the registry must
// allow late addition").
func New(deps Deps) *Engine {
	scorer := deps.Scorer
	if scorer == nil {
		scorer = risk.NewHeuristicScorer()
	}
	quorum := deps.Quorum
	if quorum == nil {
		quorum = constantQuorum{v: 1.0}
	}

	e := &Engine{
		policyPath:  deps.PolicyPath,
		policyStore: deps.PolicyStore,
		breakers:    deps.Breakers,
		qosCtrl:     deps.QoS,
		auditChain:  deps.Audit,
		panicSwitch: deps.Panic,
		metricsColl: deps.Metrics,
		scorer:      scorer,
		semantic:    deps.SemanticClient,
		quorum:      quorum,
		log:         deps.Logger,
	}
	e.lastQoS.Store(qos.Adjustment{SpeedMultiplier: 1, FuelMultiplier: 1, RateLimitMultiplier: 1, LoadLevel: trace.LoadIdle})

	for _, name := range []string{SubsystemSSAI, SubsystemConsensus, SubsystemP2P, SubsystemSandbox, SubsystemAudit} {
		e.breakers.WithConfig(name, breaker.DefaultConfig())
	}

	return e
}

// ReloadPolicy reads the config file, rebuilds the Policy, and publishes
// it atomically (spec §4.1). It never throws: on a missing file or
// parse/validation error the previous policy stays in effect and false
// is returned.
func (e *Engine) ReloadPolicy() bool {
	result, fallbacks, err := policy.Load(e.policyPath)
	if err != nil {
		e.log.Error("policy reload failed, keeping previous policy", zap.Error(err), zap.String("path", e.policyPath))
		return false
	}
	for _, fb := range fallbacks {
		e.log.Error("policy file: " + fb)
	}

	e.mu.Lock()
	changed := result.FileHash != e.lastFileHash
	e.lastFileHash = result.FileHash
	e.mu.Unlock()

	e.policyStore.Publish(result.Policy)
	e.qosCtrl.SetConfig(result.Policy.QueueBackpressureThreshold, result.Policy.AdaptiveThrottling)

	if changed {
		e.log.Info("policy file changed", zap.String("hash", result.FileHash), zap.String("mode", result.Policy.Mode.String()))
	}

	// A policy_reload audit entry is emitted on every successful reload,
	// changed or not (spec §8: "Idempotence of reload_policy on an
	// unchanged file ... a policy_reload audit entry is still emitted").
	e.auditChain.LogPolicyReload(result.FileHash, result.Policy.Mode.String())

	return true
}

// ApplyFeedbackAction rebuilds and republishes the Policy with the
// performance/security axis the feedback loop recommends, preserving
// every other field of the current Policy (spec §4.6). It logs a
// policy_reload audit entry under the synthetic hash "feedback:<name>"
// so the adaptation is traceable without a backing file change.
func (e *Engine) ApplyFeedbackAction(action *feedback.Action) {
	if action == nil {
		return
	}

	cur := e.policyStore.Current()
	newProfile := cur.Profile
	if action.Performance != nil {
		newProfile = *action.Performance
	}
	newPosture := cur.Posture
	if action.Security != nil {
		newPosture = *action.Security
	}

	updated := policy.BuildPolicy(cur.Mode, newPosture, newProfile, policy.Overrides{
		CognitiveSpeed:             feedbackFloatPtr(cur.CognitiveSpeed),
		SSAIThreshold:              feedbackFloatPtr(cur.SSAIThreshold),
		QuorumRatio:                feedbackFloatPtr(cur.QuorumRatio),
		ConsensusTimeoutMs:         feedbackIntPtr(cur.ConsensusTimeoutMs),
		MaxFuelPerIntent:           feedbackIntPtr(cur.MaxFuelPerIntent),
		P2PRateLimit:               feedbackIntPtr(cur.P2PRateLimit),
		MinReputation:              feedbackFloatPtr(cur.MinReputation),
		MaxParallelIntents:         feedbackIntPtr(cur.MaxParallelIntents),
		QueueBackpressureThreshold: feedbackIntPtr(cur.QueueBackpressureThreshold),
		RiskWeightSemantic:         feedbackFloatPtr(cur.RiskWeightSemantic),
		RiskWeightBehavioral:       feedbackFloatPtr(cur.RiskWeightBehavioral),
		RiskWeightReputation:       feedbackFloatPtr(cur.RiskWeightReputation),
		SSAIDepth:                  feedbackStringPtr(cur.SSAIDepth),
		SandboxStrictness:          feedbackStringPtr(cur.SandboxStrictness),
		RequireSignedIntents:       feedbackBoolPtr(cur.RequireSignedIntents),
		AdaptiveThrottling:         feedbackBoolPtr(cur.AdaptiveThrottling),
		AllowManualOverride:        feedbackBoolPtr(cur.AllowManualOverride),
	})
	if err := updated.Validate(); err != nil {
		e.log.Error("feedback-driven policy rebuild failed validation, keeping previous policy",
			zap.Error(err), zap.String("action", action.Name))
		return
	}

	e.policyStore.Publish(updated)
	e.qosCtrl.SetConfig(updated.QueueBackpressureThreshold, updated.AdaptiveThrottling)
	e.log.Info("feedback loop adapted policy",
		zap.String("action", action.Name), zap.String("reason", action.Reason),
		zap.String("performance", newProfile.String()), zap.String("security", newPosture.String()))

	e.auditChain.LogPolicyReload("feedback:"+action.Name, updated.Mode.String())
}

func feedbackFloatPtr(v float64) *float64 { return &v }
func feedbackIntPtr(v int) *int           { return &v }
func feedbackStringPtr(v string) *string  { return &v }
func feedbackBoolPtr(v bool) *bool        { return &v }

// UpdateQoS delegates to the QoS controller and caches the result for
// the next intent evaluation (spec §4.1).
func (e *Engine) UpdateQoS(m qos.Metrics) qos.Adjustment {
	adj := e.qosCtrl.Evaluate(m)
	e.lastQoS.Store(adj)
	if e.metricsColl != nil {
		e.metricsColl.SetGauge("qos_speed_multiplier", adj.SpeedMultiplier)
		e.metricsColl.SetGauge("qos_fuel_multiplier", adj.FuelMultiplier)
		e.metricsColl.SetGauge("qos_rate_limit_multiplier", adj.RateLimitMultiplier)
	}
	return adj
}

// LastQoS returns the most recently cached QoSAdjustment.
func (e *Engine) LastQoS() qos.Adjustment {
	return e.lastQoS.Load().(qos.Adjustment)
}

// Breakers exposes the breaker registry for operator tooling and tests
// that drive failures directly (spec §4.5 admin operations).
func (e *Engine) Breakers() *breaker.Set { return e.breakers }

// Panic exposes the panic switch for operator tooling.
func (e *Engine) Panic() *panicswitch.Switch { return e.panicSwitch }

// Audit exposes the audit chain for verification tooling.
func (e *Engine) Audit() *audit.Chain { return e.auditChain }

// Policy returns the currently published Policy snapshot.
func (e *Engine) Policy() policy.Policy { return e.policyStore.Current() }

// EvaluateIntent runs the twelve-step decision pipeline (spec §4.1) and
// returns the finalized DecisionTrace. It never panics or returns an
// error — every outcome is a terminal DecisionTrace (spec §7).
func (e *Engine) EvaluateIntent(ctx context.Context, intent risk.Intent, actorReputation float64, isPanic bool) *trace.Trace {
	start := time.Now()
	pol := e.policyStore.Current()

	t := trace.New(intent.ID, pol.Mode.String(), pol.Posture.String(), pol.Profile.String())
	t.ActorReputation = clamp01(actorReputation)

	// Step 1: panic.
	if isPanic {
		t.Finalize(trace.Rejected, "PANIC mode active")
		return e.finish(t, start)
	}

	// Step 2: FORENSIC mode is read-only.
	if pol.Mode == policy.Forensic {
		t.Finalize(trace.Rejected, "read-only")
		return e.finish(t, start)
	}

	// Step 3: ssai breaker health gates whether step 7 runs for real.
	skipSemantic := false
	if !e.breakers.IsHealthy(SubsystemSSAI) {
		t.SemanticRisk = 0.3
		t.AddReason("ssai subsystem breaker open — using fallback semantic risk")
		skipSemantic = true
	}

	// Step 4: QoS shedding.
	lastQoS := e.LastQoS()
	if lastQoS.ShedLowPriority && intent.Priority == "low" {
		t.Finalize(trace.Rejected, "shed under load: low-priority intent rejected")
		return e.finish(t, start)
	}

	// Step 5: signature requirement, posture overriding policy.
	if pol.EffectiveRequireSignedIntents() && !intent.HasSignature {
		t.FinalizeWithRisk(trace.Rejected, "missing required signature", 1.0)
		return e.finish(t, start)
	}

	// Step 6: reputation floor, posture overriding policy.
	minRep := pol.EffectiveMinReputation()
	if actorReputation < minRep {
		t.FinalizeWithRisk(trace.Rejected, fmt.Sprintf("actor reputation %.2f below minimum %.2f", actorReputation, minRep), 0.9)
		return e.finish(t, start)
	}

	// Step 7: semantic risk.
	if !skipSemantic {
		t.SemanticRisk = e.semanticRisk(ctx, intent)
	}

	// Step 8: behavioral risk.
	t.BehavioralRisk = e.scorer.BehavioralRisk(intent)

	// Step 9: fuel budget.
	fuelBudget := int64(float64(pol.MaxFuelPerIntent) * lastQoS.FuelMultiplier)
	if intent.FuelEstimate > fuelBudget {
		t.Finalize(trace.Rejected, fmt.Sprintf("fuel estimate %d exceeds budget %d", intent.FuelEstimate, fuelBudget))
		return e.finish(t, start)
	}

	// Step 10: weighted aggregation.
	t.ComputeConfidence(pol.RiskWeightSemantic, pol.RiskWeightBehavioral, pol.RiskWeightReputation, e.quorum.QuorumScore())
	t.LoadLevel = lastQoS.LoadLevel
	t.QoSAdjusted = lastQoS.SpeedMultiplier < 1 || lastQoS.FuelMultiplier < 1 || lastQoS.RateLimitMultiplier < 1 || lastQoS.ShedLowPriority

	// Step 11: decision thresholds on confidence.
	switch {
	case t.ConfidenceScore >= 0.7:
		t.Finalize(trace.Approved, "")
	case t.ConfidenceScore >= 0.4:
		t.Finalize(trace.Quarantined, fmt.Sprintf("confidence %.2f below approval threshold", t.ConfidenceScore))
	default:
		t.Finalize(trace.Rejected, fmt.Sprintf("confidence %.2f below quarantine threshold", t.ConfidenceScore))
	}

	return e.finish(t, start)
}

// semanticRisk computes the semantic risk for an intent, preferring the
// wired SemanticClient and recording its outcome with the ssai breaker;
// falling back to the local heuristic when no client is wired (spec
// §4.1 step 7, §4.2's heuristic is "the fallback when a real SSAI is
// absent").
func (e *Engine) semanticRisk(ctx context.Context, intent risk.Intent) float64 {
	if e.semantic == nil {
		e.breakers.RecordSuccess(SubsystemSSAI)
		return e.scorer.SemanticRisk(intent)
	}

	score, err := e.semantic.Score(ctx, intent)
	if err != nil {
		e.breakers.RecordFailure(SubsystemSSAI)
		e.log.Warn("ssai client call failed, falling back to heuristic", zap.Error(err))
		return e.scorer.SemanticRisk(intent)
	}
	e.breakers.RecordSuccess(SubsystemSSAI)
	return score
}

// finish performs the pipeline's step 12: compute confidence from
// whatever factors are set if a terminal step didn't already derive it,
// append the decision to the audit chain, and record metrics.
func (e *Engine) finish(t *trace.Trace, start time.Time) *trace.Trace {
	if !t.ConfidenceComputed() {
		pol := e.policyStore.Current()
		t.ComputeConfidence(pol.RiskWeightSemantic, pol.RiskWeightBehavioral, pol.RiskWeightReputation, e.quorum.QuorumScore())
	}

	e.auditChain.LogDecision(t.ToDict())

	if e.metricsColl != nil {
		latencyMs := float64(time.Since(start)) / float64(time.Millisecond)
		e.metricsColl.Observe("intent_latency_ms", latencyMs)
		e.metricsColl.IncCounter("intents_total", 1)
		e.metricsColl.IncCounter("intents_"+strings.ToLower(t.Decision.String()), 1)
		e.metricsColl.SetGauge("audit_chain_length", float64(e.auditChain.Len()))
	}

	return t
}

// ManualOverride stamps trace with a human override if the policy
// permits it; otherwise it logs a warning and leaves the trace
// untouched — no audit entry, no state change (spec §4.1, §7).
func (e *Engine) ManualOverride(t *trace.Trace, operator string, newDecision trace.Decision, justification string) *trace.Trace {
	if !e.policyStore.Current().AllowManualOverride {
		e.log.Warn("manual override refused: policy forbids overrides", zap.String("operator", operator), zap.String("intent_id", t.IntentID))
		return t
	}

	t.ApplyOverride(operator, justification, newDecision)
	e.auditChain.LogManualOverride(operator, newDecision.String(), justification)
	return t
}

// Status returns a structured snapshot for dashboards (spec §4.1
// status()).
func (e *Engine) Status() map[string]any {
	pol := e.policyStore.Current()
	lastQoS := e.LastQoS()
	panicState := e.panicSwitch.State()
	chainOK, badIndex := e.auditChain.Verify()

	breakers := make(map[string]any, 5)
	for name, st := range e.breakers.GetAllStatus() {
		breakers[name] = map[string]any{
			"state":             st.State.String(),
			"failure_count":     st.FailureCount,
			"success_count":     st.SuccessCount,
			"total_trips":       st.TotalTrips,
			"last_state_change": st.LastStateChange,
		}
	}

	e.mu.Lock()
	fileHash := e.lastFileHash
	e.mu.Unlock()

	status := map[string]any{
		"policy": map[string]any{
			"mode":          pol.Mode.String(),
			"posture":       pol.Posture.String(),
			"profile":       pol.Profile.String(),
			"file_hash":     fileHash,
			"file_path":     e.policyPath,
		},
		"qos": map[string]any{
			"load_level":            string(lastQoS.LoadLevel),
			"speed_multiplier":      lastQoS.SpeedMultiplier,
			"fuel_multiplier":       lastQoS.FuelMultiplier,
			"rate_limit_multiplier": lastQoS.RateLimitMultiplier,
			"shed_low_priority":     lastQoS.ShedLowPriority,
			"trend":                 e.qosCtrl.Trend(10),
		},
		"breakers": breakers,
		"panic": map[string]any{
			"active":       panicState.Active,
			"reason":       panicState.Reason,
			"activated_by": string(panicState.ActivatedBy),
			"activated_at": panicState.ActivatedAt,
		},
		"audit": map[string]any{
			"length":   e.auditChain.Len(),
			"tip":      e.auditChain.Tip(),
			"verified": chainOK,
		},
	}
	if !chainOK {
		status["audit"].(map[string]any)["broken_index"] = badIndex
	}
	if e.metricsColl != nil {
		status["metrics"] = e.metricsColl.Snapshot()
	}
	return status
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
