package policy

import (
	"math"

	"github.com/go-faster/errors"
)

// weightEpsilon is the tolerance within which the three risk weights must
// sum to 1.0 (spec §3, §8).
const weightEpsilon = 1e-6

// Policy is the immutable typed record of every tunable threshold the
// Governance Engine consults. It is built once by BuildPolicy from a mode
// preset plus file overrides, and replaced atomically on reload — never
// mutated in place (spec §3, §9).
type Policy struct {
	Mode     OperationalMode
	Posture  SecurityPosture
	Profile  PerformanceProfile

	CognitiveSpeed       float64
	SSAIThreshold        float64
	QuorumRatio          float64
	ConsensusTimeoutMs   int
	MaxFuelPerIntent     int
	P2PRateLimit         int
	RequireSignedIntents bool
	SandboxStrictness    string
	MinReputation        float64
	SSAIDepth            string

	MaxParallelIntents          int
	QueueBackpressureThreshold  int
	AdaptiveThrottling          bool
	AllowManualOverride         bool

	RiskWeightSemantic    float64
	RiskWeightBehavioral  float64
	RiskWeightReputation  float64
}

// Overrides holds the subset of fields a config file may set explicitly;
// nil pointers mean "use the preset value" (spec §6: "Unknown keys are
// ignored").
type Overrides struct {
	CognitiveSpeed             *float64
	SSAIThreshold              *float64
	QuorumRatio                *float64
	ConsensusTimeoutMs         *int
	MaxFuelPerIntent           *int
	P2PRateLimit               *int
	MinReputation              *float64
	MaxParallelIntents         *int
	QueueBackpressureThreshold *int
	RiskWeightSemantic         *float64
	RiskWeightBehavioral       *float64
	RiskWeightReputation       *float64
	SSAIDepth                  *string
	SandboxStrictness          *string
	RequireSignedIntents       *bool
	AdaptiveThrottling         *bool
	AllowManualOverride        *bool
}

// BuildPolicy constructs a Policy from mode + profile presets, with file
// overrides layered on top of both (spec §4.1 reload_policy, §4.2). The
// security posture is intentionally NOT applied here — it is resolved at
// decision time by the engine (spec §4.2, §9).
func BuildPolicy(mode OperationalMode, posture SecurityPosture, profile PerformanceProfile, ov Overrides) Policy {
	mp := modePresetFor(mode)
	pp := PerformancePresetFor(profile)

	p := Policy{
		Mode:    mode,
		Posture: posture, // carried for live resolution by Effective*; never baked into the fields below
		Profile: profile,

		CognitiveSpeed:       pp.CognitiveSpeed,
		SSAIThreshold:        mp.SSAIThreshold,
		QuorumRatio:          mp.QuorumRatio,
		ConsensusTimeoutMs:   pp.ConsensusTimeoutMs,
		MaxFuelPerIntent:     int(float64(mp.MaxFuelPerIntent) * pp.FuelMultiplier),
		P2PRateLimit:         mp.P2PRateLimit,
		RequireSignedIntents: mp.RequireSignedIntents,
		SandboxStrictness:    mp.SandboxStrictness,
		MinReputation:        0.0,
		SSAIDepth:            pp.SSAIDepth,

		MaxParallelIntents:         100,
		QueueBackpressureThreshold: 100,
		AdaptiveThrottling:         true,
		AllowManualOverride:        mp.AllowManualOverride,

		RiskWeightSemantic:   0.5,
		RiskWeightBehavioral: 0.3,
		RiskWeightReputation: 0.2,
	}

	applyOverrides(&p, ov)
	return p
}

func applyOverrides(p *Policy, ov Overrides) {
	if ov.CognitiveSpeed != nil {
		p.CognitiveSpeed = *ov.CognitiveSpeed
	}
	if ov.SSAIThreshold != nil {
		p.SSAIThreshold = *ov.SSAIThreshold
	}
	if ov.QuorumRatio != nil {
		p.QuorumRatio = *ov.QuorumRatio
	}
	if ov.ConsensusTimeoutMs != nil {
		p.ConsensusTimeoutMs = *ov.ConsensusTimeoutMs
	}
	if ov.MaxFuelPerIntent != nil {
		p.MaxFuelPerIntent = *ov.MaxFuelPerIntent
	}
	if ov.P2PRateLimit != nil {
		p.P2PRateLimit = *ov.P2PRateLimit
	}
	if ov.MinReputation != nil {
		p.MinReputation = *ov.MinReputation
	}
	if ov.MaxParallelIntents != nil {
		p.MaxParallelIntents = *ov.MaxParallelIntents
	}
	if ov.QueueBackpressureThreshold != nil {
		p.QueueBackpressureThreshold = *ov.QueueBackpressureThreshold
	}
	if ov.RiskWeightSemantic != nil {
		p.RiskWeightSemantic = *ov.RiskWeightSemantic
	}
	if ov.RiskWeightBehavioral != nil {
		p.RiskWeightBehavioral = *ov.RiskWeightBehavioral
	}
	if ov.RiskWeightReputation != nil {
		p.RiskWeightReputation = *ov.RiskWeightReputation
	}
	if ov.SSAIDepth != nil {
		p.SSAIDepth = *ov.SSAIDepth
	}
	if ov.SandboxStrictness != nil {
		p.SandboxStrictness = *ov.SandboxStrictness
	}
	if ov.RequireSignedIntents != nil {
		p.RequireSignedIntents = *ov.RequireSignedIntents
	}
	if ov.AdaptiveThrottling != nil {
		p.AdaptiveThrottling = *ov.AdaptiveThrottling
	}
	if ov.AllowManualOverride != nil {
		p.AllowManualOverride = *ov.AllowManualOverride
	}
}

// Validate checks the invariants of spec §3/§8: numeric fields finite,
// ratios in [0,1], weights summing to 1.0 within epsilon.
func (p Policy) Validate() error {
	var problems []string

	for _, f := range []struct {
		name string
		v    float64
	}{
		{"cognitive_speed", p.CognitiveSpeed},
		{"ssai_threshold", p.SSAIThreshold},
		{"quorum_ratio", p.QuorumRatio},
		{"min_reputation", p.MinReputation},
		{"risk_weight_semantic", p.RiskWeightSemantic},
		{"risk_weight_behavioral", p.RiskWeightBehavioral},
		{"risk_weight_reputation", p.RiskWeightReputation},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			problems = append(problems, f.name+" must be finite")
		}
	}

	for _, f := range []struct {
		name string
		v    float64
	}{
		{"ssai_threshold", p.SSAIThreshold},
		{"quorum_ratio", p.QuorumRatio},
		{"min_reputation", p.MinReputation},
	} {
		if f.v < 0 || f.v > 1 {
			problems = append(problems, f.name+" must lie in [0,1]")
		}
	}

	sum := p.RiskWeightSemantic + p.RiskWeightBehavioral + p.RiskWeightReputation
	if math.Abs(sum-1.0) > weightEpsilon {
		problems = append(problems, "risk weights must sum to 1.0")
	}

	if p.ConsensusTimeoutMs < 0 {
		problems = append(problems, "consensus_timeout_ms must be non-negative")
	}
	if p.MaxFuelPerIntent < 0 {
		problems = append(problems, "max_fuel_per_intent must be non-negative")
	}
	if p.MaxParallelIntents <= 0 {
		problems = append(problems, "max_parallel_intents must be positive")
	}
	if p.QueueBackpressureThreshold <= 0 {
		problems = append(problems, "queue_backpressure_threshold must be positive")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.Errorf("policy validation failed: %v", problems)
}

// EffectiveRequireSignedIntents resolves the signature requirement for a
// decision, giving the security posture's preset priority over the
// baked-in Policy value (spec §4.1 step 5, §4.2).
func (p Policy) EffectiveRequireSignedIntents() bool {
	return SecurityPresetFor(p.Posture).RequireSignedIntents
}

// EffectiveMinReputation resolves the reputation floor for a decision
// (spec §4.1 step 6).
func (p Policy) EffectiveMinReputation() float64 {
	return SecurityPresetFor(p.Posture).MinReputation
}

// EffectiveSandboxStrictness resolves the sandbox strictness for a
// decision.
func (p Policy) EffectiveSandboxStrictness() string {
	return SecurityPresetFor(p.Posture).SandboxStrictness
}
