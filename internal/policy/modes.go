// Package policy holds the immutable typed Policy record, its enum axes,
// and the preset tables used to build a Policy from a mode plus file
// overrides (spec §3, §4.2).
package policy

import "strings"

// OperationalMode is the baseline behavioural axis. FORENSIC is read-only:
// every intent evaluated under it is rejected by the engine.
type OperationalMode int

const (
	Development OperationalMode = iota
	Production
	Paranoid
	Forensic
)

func (m OperationalMode) String() string {
	switch m {
	case Development:
		return "development"
	case Production:
		return "production"
	case Paranoid:
		return "paranoid"
	case Forensic:
		return "forensic"
	default:
		return "unknown"
	}
}

// ParseOperationalMode parses the config-file string form, falling back to
// Production (and the caller logging an error) for unrecognised values per
// spec §6 ("unknown enum values fall back to the field default").
func ParseOperationalMode(s string) (OperationalMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "development":
		return Development, true
	case "production":
		return Production, true
	case "paranoid":
		return Paranoid, true
	case "forensic":
		return Forensic, true
	default:
		return Production, false
	}
}

// SecurityPosture is an axis independent of mode and profile. It carries
// preset overrides applied at decision time, never baked into the Policy
// record at load time (spec §4.2, §9).
type SecurityPosture int

const (
	Open SecurityPosture = iota
	Guarded
	Hardened
	Lockdown
)

func (p SecurityPosture) String() string {
	switch p {
	case Open:
		return "open"
	case Guarded:
		return "guarded"
	case Hardened:
		return "hardened"
	case Lockdown:
		return "lockdown"
	default:
		return "unknown"
	}
}

func ParseSecurityPosture(s string) (SecurityPosture, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open":
		return Open, true
	case "guarded":
		return Guarded, true
	case "hardened":
		return Hardened, true
	case "lockdown":
		return Lockdown, true
	default:
		return Open, false
	}
}

// SecurityPreset is the set of fields a SecurityPosture overrides at
// decision time (spec §3, §4.2).
type SecurityPreset struct {
	RequireSignedIntents bool
	MinReputation        float64
	SandboxStrictness    string
}

var securityPresets = map[SecurityPosture]SecurityPreset{
	Open:     {RequireSignedIntents: false, MinReputation: 0.0, SandboxStrictness: "soft"},
	Guarded:  {RequireSignedIntents: true, MinReputation: 0.2, SandboxStrictness: "hard"},
	Hardened: {RequireSignedIntents: true, MinReputation: 0.4, SandboxStrictness: "hard"},
	Lockdown: {RequireSignedIntents: true, MinReputation: 0.6, SandboxStrictness: "vm"},
}

// SecurityPresetFor returns the decision-time override set for a posture.
func SecurityPresetFor(p SecurityPosture) SecurityPreset {
	if preset, ok := securityPresets[p]; ok {
		return preset
	}
	return securityPresets[Open]
}

// PerformanceProfile controls the depth/throughput tradeoff (spec §3, §4.2).
type PerformanceProfile int

const (
	Eco PerformanceProfile = iota
	Balanced
	Turbo
)

func (p PerformanceProfile) String() string {
	switch p {
	case Eco:
		return "eco"
	case Balanced:
		return "balanced"
	case Turbo:
		return "turbo"
	default:
		return "unknown"
	}
}

func ParsePerformanceProfile(s string) (PerformanceProfile, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "eco":
		return Eco, true
	case "balanced":
		return Balanced, true
	case "turbo":
		return Turbo, true
	default:
		return Balanced, false
	}
}

// PerformancePreset is the set of fields a PerformanceProfile fixes at
// policy-build time (spec §3, §4.2). FuelMultiplier scales the mode
// preset's MaxFuelPerIntent once, at construction.
type PerformancePreset struct {
	CognitiveSpeed      float64
	SSAIDepth           string
	FuelMultiplier      float64
	ConsensusTimeoutMs  int
	LogVerbosity        string
}

var performancePresets = map[PerformanceProfile]PerformancePreset{
	Eco:      {CognitiveSpeed: 0.5, SSAIDepth: "shallow", FuelMultiplier: 0.5, ConsensusTimeoutMs: 4000, LogVerbosity: "error"},
	Balanced: {CognitiveSpeed: 1.0, SSAIDepth: "normal", FuelMultiplier: 1.0, ConsensusTimeoutMs: 2500, LogVerbosity: "info"},
	Turbo:    {CognitiveSpeed: 2.0, SSAIDepth: "deep", FuelMultiplier: 2.0, ConsensusTimeoutMs: 1500, LogVerbosity: "debug"},
}

// PerformancePresetFor returns the load-time preset for a profile.
func PerformancePresetFor(p PerformanceProfile) PerformancePreset {
	if preset, ok := performancePresets[p]; ok {
		return preset
	}
	return performancePresets[Balanced]
}

// modePreset fixes the baseline values a Policy takes before the
// performance profile and file overrides are layered on (grounded on
// the original RuntimePolicy.default() per-mode table).
type modePreset struct {
	SSAIThreshold        float64
	QuorumRatio          float64
	ConsensusTimeoutMs   int
	MaxFuelPerIntent     int
	P2PRateLimit         int
	RequireSignedIntents bool
	SandboxStrictness    string
	AllowManualOverride  bool
}

var modePresets = map[OperationalMode]modePreset{
	Development: {SSAIThreshold: 0.4, QuorumRatio: 0.51, ConsensusTimeoutMs: 5000, MaxFuelPerIntent: 1_000_000, P2PRateLimit: 1000, RequireSignedIntents: false, SandboxStrictness: "soft", AllowManualOverride: true},
	Production:  {SSAIThreshold: 0.6, QuorumRatio: 0.67, ConsensusTimeoutMs: 3000, MaxFuelPerIntent: 500_000, P2PRateLimit: 100, RequireSignedIntents: true, SandboxStrictness: "hard", AllowManualOverride: true},
	Paranoid:    {SSAIThreshold: 0.85, QuorumRatio: 0.90, ConsensusTimeoutMs: 2000, MaxFuelPerIntent: 50_000, P2PRateLimit: 10, RequireSignedIntents: true, SandboxStrictness: "vm", AllowManualOverride: true},
	Forensic:    {SSAIThreshold: 0.95, QuorumRatio: 1.0, ConsensusTimeoutMs: 10000, MaxFuelPerIntent: 0, P2PRateLimit: 5, RequireSignedIntents: true, SandboxStrictness: "vm", AllowManualOverride: false},
}

func modePresetFor(m OperationalMode) modePreset {
	if preset, ok := modePresets[m]; ok {
		return preset
	}
	return modePresets[Production]
}

// RiskLevel bands the [0,1] risk_score range for human-readable labelling.
// DecisionTrace.Explain() labels risk_score with the same bands through
// its own helper in the trace package rather than this type.
// Supplemental to spec.md; grounded on
// original_source/src/core/governance/modes.py's RiskLevel enum. It does
// not feed into any decision logic.
type RiskLevel int

const (
	Negligible RiskLevel = iota
	Low
	Medium
	High
	Critical
)

// RiskLevelFor bands a risk score into its label.
func RiskLevelFor(score float64) RiskLevel {
	switch {
	case score >= 0.875:
		return Critical
	case score >= 0.625:
		return High
	case score >= 0.375:
		return Medium
	case score >= 0.125:
		return Low
	default:
		return Negligible
	}
}

func (r RiskLevel) String() string {
	switch r {
	case Negligible:
		return "negligible"
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}
