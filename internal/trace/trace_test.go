package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeConfidence_HappyPathScenario(t *testing.T) {
	// Scenario 2 from spec §8: semantic=0, behavioral=0, reputation=0.9,
	// weights 0.5/0.3/0.2 -> risk_score=0.02, confidence=0.98, safe_execution.
	tr := New("i2", "production", "open", "balanced")
	tr.SemanticRisk = 0.0
	tr.BehavioralRisk = 0.0
	tr.ActorReputation = 0.9

	tr.ComputeConfidence(0.5, 0.3, 0.2, 1.0)

	assert.InDelta(t, 0.02, tr.RiskScore, 1e-9)
	assert.InDelta(t, 0.98, tr.ConfidenceScore, 1e-9)
	assert.Equal(t, "safe_execution", tr.RecommendedAction)
}

func TestComputeConfidence_Thresholds(t *testing.T) {
	cases := []struct {
		confidence float64
		want       string
	}{
		{0.85, "safe_execution"},
		{0.8, "safe_execution"},
		{0.7, "monitor"},
		{0.6, "monitor"},
		{0.5, "manual_review"},
		{0.4, "manual_review"},
		{0.1, "block"},
	}
	for _, c := range cases {
		// ComputeConfidence derives RecommendedAction via recommendedActionFor.
		got := recommendedActionFor(c.confidence)
		assert.Equal(t, c.want, got, "confidence=%v", c.confidence)
	}
}

func TestFinalize_SingleTerminalTransition(t *testing.T) {
	tr := New("i1", "production", "guarded", "balanced")
	tr.Finalize(Rejected, "missing signature")
	require.Equal(t, Rejected, tr.Decision)

	// A second Finalize call must not change the decision (spec §3: single
	// terminal transition).
	tr.Finalize(Approved, "should not apply")
	assert.Equal(t, Rejected, tr.Decision)
	assert.Len(t, tr.Reasons, 1)
}

func TestApplyOverride_ReasonFormat(t *testing.T) {
	tr := New("i1", "production", "open", "balanced")
	tr.Finalize(Rejected, "risk too high")
	tr.ApplyOverride("alice", "false positive confirmed", Approved)

	require.Equal(t, Approved, tr.Decision)
	require.NotNil(t, tr.Override)
	assert.Equal(t, "alice", tr.Override.Operator)
	assert.Equal(t, Rejected, tr.Override.OriginalDecision)
	assert.Contains(t, tr.Reasons[len(tr.Reasons)-1], "HUMAN OVERRIDE by alice: false positive confirmed")
}

func TestExplain_IncludesOverrideBlockOnlyWhenPresent(t *testing.T) {
	tr := New("i1", "production", "open", "balanced")
	tr.ComputeConfidence(0.5, 0.3, 0.2, 1.0)
	tr.Finalize(Approved, "")

	explained := tr.Explain()
	_, present := explained["override"]
	assert.False(t, present)

	tr.ApplyOverride("bob", "manual review", Quarantined)
	explained = tr.Explain()
	_, present = explained["override"]
	assert.True(t, present)
}

func TestPopulationStddev_UniformValuesIsZero(t *testing.T) {
	assert.InDelta(t, 0.0, populationStddev([]float64{0.5, 0.5, 0.5}), 1e-9)
}
