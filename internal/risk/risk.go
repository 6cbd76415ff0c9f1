// Package risk implements the semantic and behavioral risk heuristics
// used as the SSAI fallback scorer (spec §4.1 steps 7-8), ported from
// original_source/src/core/governance/engine.py's
// _assess_semantic_risk/_assess_behavioral_risk.
package risk

import "strings"

// Intent is the governed unit of input (spec §6, GLOSSARY).
type Intent struct {
	ID             string
	HasSignature   bool
	Action         string
	RequiresAdmin  bool
	Scope          string
	Priority       string
	FuelEstimate   int64
	BurstCount     int
	OffHours       bool
}

var highRiskActions = map[string]struct{}{
	"delete":   {},
	"drop":     {},
	"kill":     {},
	"override": {},
	"bypass":   {},
}

// Scorer assesses semantic and behavioral risk for an intent. The
// heuristic below is the default implementation; an SSAI-backed scorer
// can satisfy this interface without the engine changing.
type Scorer interface {
	SemanticRisk(i Intent) float64
	BehavioralRisk(i Intent) float64
}

// HeuristicScorer is the built-in scorer used when no SSAI module is
// wired in (SPEC_FULL's scope decision: no external model SDK).
type HeuristicScorer struct{}

// NewHeuristicScorer returns the default risk scorer.
func NewHeuristicScorer() HeuristicScorer {
	return HeuristicScorer{}
}

// SemanticRisk scores the intent's declared action/scope/privilege shape.
func (HeuristicScorer) SemanticRisk(i Intent) float64 {
	r := 0.0

	if _, dangerous := highRiskActions[strings.ToLower(i.Action)]; dangerous {
		r += 0.5
	}
	if i.RequiresAdmin {
		r += 0.2
	}
	if strings.TrimSpace(i.Scope) == "" {
		r += 0.1
	}

	if r > 1.0 {
		r = 1.0
	}
	return r
}

// BehavioralRisk scores the intent's burst/off-hours pattern signals.
func (HeuristicScorer) BehavioralRisk(i Intent) float64 {
	r := 0.0

	if i.BurstCount > 10 {
		r += 0.4
	}
	if i.OffHours {
		r += 0.2
	}

	if r > 1.0 {
		r = 1.0
	}
	return r
}
