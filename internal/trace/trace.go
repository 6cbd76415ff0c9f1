// Package trace implements the DecisionTrace accumulator: the per-intent
// record of risk factors, reasons, and the final decision (spec §3, §4.3).
package trace

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Decision is the terminal outcome of evaluating an intent.
type Decision int

const (
	Pending Decision = iota
	Approved
	Quarantined
	Rejected
)

func (d Decision) String() string {
	switch d {
	case Pending:
		return "PENDING"
	case Approved:
		return "APPROVED"
	case Quarantined:
		return "QUARANTINED"
	case Rejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// LoadLevel is the QoS load classification. It is defined here, and used
// by the qos package, so that trace stays a low-level leaf package (spec
// §3: "load_level").
type LoadLevel string

const (
	LoadIdle     LoadLevel = "idle"
	LoadNormal   LoadLevel = "normal"
	LoadElevated LoadLevel = "elevated"
	LoadCritical LoadLevel = "critical"
	LoadOverload LoadLevel = "overload"
)

// Override captures a manual-override stamp (spec §4.1 manual_override).
type Override struct {
	Operator      string
	Justification string
	OriginalDecision Decision
	AppliedAt     time.Time
}

// Trace is the per-intent DecisionTrace (spec §3).
type Trace struct {
	TraceID   string // supplemental correlation id, not in spec's field list
	IntentID  string
	Timestamp time.Time

	Mode    string
	Posture string
	Profile string

	SemanticRisk    float64
	BehavioralRisk  float64
	ActorReputation float64

	RiskScore        float64
	ConfidenceScore  float64
	Uncertainty      float64
	RecommendedAction string

	LoadLevel   LoadLevel
	QoSAdjusted bool

	Decision Decision
	Reasons  []string

	Override *Override

	// confidenceComputed tracks whether ComputeConfidence or
	// FinalizeWithRisk has already set RiskScore/ConfidenceScore, so the
	// engine's finalize step (spec §4.1 step 12) knows whether a generic
	// recompute from whatever factors are set would clobber an
	// explicitly-assigned risk score (spec §4.1 steps 5-6).
	confidenceComputed bool
}

// ConfidenceComputed reports whether RiskScore/ConfidenceScore have
// already been derived, either via the weighted aggregation or an
// explicit terminal risk assignment.
func (t *Trace) ConfidenceComputed() bool {
	return t.confidenceComputed
}

// New constructs a PENDING trace for intentID (spec §3: "Constructed
// PENDING; single terminal transition; immutable after audit").
func New(intentID, mode, posture, profile string) *Trace {
	if intentID == "" {
		intentID = "unknown"
	}
	return &Trace{
		TraceID:   uuid.NewString(),
		IntentID:  intentID,
		Timestamp: time.Now().UTC(),
		Mode:      mode,
		Posture:   posture,
		Profile:   profile,
		Decision:  Pending,
	}
}

// AddReason appends a reason string, preserving order.
func (t *Trace) AddReason(reason string) {
	t.Reasons = append(t.Reasons, reason)
}

// Finalize sets the terminal decision once. Subsequent calls are no-ops,
// enforcing the "single terminal transition" invariant.
func (t *Trace) Finalize(d Decision, reason string) {
	if t.Decision != Pending {
		return
	}
	t.Decision = d
	if reason != "" {
		t.AddReason(reason)
	}
}

// ComputeConfidence implements spec §4.3's weighted aggregation:
//
//	risk_score = clamp(w_s*semantic + w_b*behavioral + w_r*(1-reputation), 0, 1)
//	confidence_score = (1 - risk_score) * q
//	uncertainty = population_stddev([semantic, behavioral, 1-reputation])
//	recommended_action thresholds at 0.8 / 0.6 / 0.4
func (t *Trace) ComputeConfidence(wSem, wBeh, wRep, quorum float64) {
	inverseReputation := 1 - t.ActorReputation

	risk := wSem*t.SemanticRisk + wBeh*t.BehavioralRisk + wRep*inverseReputation
	t.RiskScore = clamp01(risk)
	t.ConfidenceScore = (1 - t.RiskScore) * quorum
	t.Uncertainty = populationStddev([]float64{t.SemanticRisk, t.BehavioralRisk, inverseReputation})
	t.RecommendedAction = recommendedActionFor(t.ConfidenceScore)
	t.confidenceComputed = true
}

// FinalizeWithRisk stamps an explicit terminal risk_score (spec §4.1
// steps 5-6 give literal values — 1.0 for a missing signature, 0.9 for
// insufficient reputation — rather than the weighted aggregation) and
// finalizes the trace with d and reason in one step.
func (t *Trace) FinalizeWithRisk(d Decision, reason string, riskScore float64) {
	if t.Decision != Pending {
		return
	}
	t.RiskScore = clamp01(riskScore)
	t.ConfidenceScore = clamp01(1 - t.RiskScore)
	t.RecommendedAction = recommendedActionFor(t.ConfidenceScore)
	t.confidenceComputed = true
	t.Finalize(d, reason)
}

func recommendedActionFor(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "safe_execution"
	case confidence >= 0.6:
		return "monitor"
	case confidence >= 0.4:
		return "manual_review"
	default:
		return "block"
	}
}

// ApplyOverride stamps the trace with a human override and replaces the
// decision, per spec §4.3.
func (t *Trace) ApplyOverride(operator, justification string, newDecision Decision) {
	t.Override = &Override{
		Operator:         operator,
		Justification:    justification,
		OriginalDecision: t.Decision,
		AppliedAt:        time.Now().UTC(),
	}
	t.Decision = newDecision
	t.AddReason(fmt.Sprintf("HUMAN OVERRIDE by %s: %s", operator, justification))
}

// Explain returns the structured, human-readable representation defined
// by spec §4.3, including the override block when present.
func (t *Trace) Explain() map[string]any {
	out := map[string]any{
		"id":                 t.IntentID,
		"trace_id":           t.TraceID,
		"decision":           t.Decision.String(),
		"confidence":         fmt.Sprintf("%.1f%%", t.ConfidenceScore*100),
		"uncertainty":        fmt.Sprintf("%.3f", t.Uncertainty),
		"recommended_action": t.RecommendedAction,
		"risk_level":         riskLevelLabel(t.RiskScore),
		"context": map[string]any{
			"mode":    t.Mode,
			"posture": t.Posture,
			"profile": t.Profile,
		},
		"metrics": map[string]any{
			"semantic_risk":    t.SemanticRisk,
			"behavioral_risk":  t.BehavioralRisk,
			"actor_reputation": t.ActorReputation,
			"risk_score":       t.RiskScore,
			"load_level":       string(t.LoadLevel),
			"qos_adjusted":     t.QoSAdjusted,
		},
		"reasons": t.Reasons,
	}

	if t.Override != nil {
		out["override"] = map[string]any{
			"operator":          t.Override.Operator,
			"justification":     t.Override.Justification,
			"original_decision": t.Override.OriginalDecision.String(),
			"applied_at":        t.Override.AppliedAt.Format(time.RFC3339Nano),
		}
	}

	return out
}

// ToDict returns the canonical flat form persisted to the audit chain
// (spec §4.3, §4.6 log_decision).
func (t *Trace) ToDict() map[string]any {
	d := map[string]any{
		"trace_id":           t.TraceID,
		"intent_id":          t.IntentID,
		"timestamp":          t.Timestamp.Format(time.RFC3339Nano),
		"mode":                t.Mode,
		"posture":             t.Posture,
		"profile":             t.Profile,
		"semantic_risk":       t.SemanticRisk,
		"behavioral_risk":     t.BehavioralRisk,
		"actor_reputation":    t.ActorReputation,
		"risk_score":          t.RiskScore,
		"confidence_score":    t.ConfidenceScore,
		"uncertainty":         t.Uncertainty,
		"recommended_action":  t.RecommendedAction,
		"load_level":          string(t.LoadLevel),
		"qos_adjusted":        t.QoSAdjusted,
		"decision":            t.Decision.String(),
		"reasons":             t.Reasons,
	}
	if t.Override != nil {
		d["override_operator"] = t.Override.Operator
		d["override_justification"] = t.Override.Justification
	}
	return d
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

// populationStddev computes the population (not sample) standard
// deviation, matching the original's stdev_population semantics.
func populationStddev(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))

	variance := 0.0
	for _, v := range vals {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(vals))

	return math.Sqrt(variance)
}

func riskLevelLabel(score float64) string {
	switch {
	case score >= 0.875:
		return "critical"
	case score >= 0.625:
		return "high"
	case score >= 0.375:
		return "medium"
	case score >= 0.125:
		return "low"
	default:
		return "negligible"
	}
}
