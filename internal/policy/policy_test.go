package policy

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestBuildPolicy_ProductionDefaults(t *testing.T) {
	p := BuildPolicy(Production, Open, Balanced, Overrides{})

	if p.RequireSignedIntents != true {
		t.Errorf("expected production mode to require signed intents by default, got %v", p.RequireSignedIntents)
	}
	if p.MaxFuelPerIntent != 500_000 {
		t.Errorf("expected max_fuel_per_intent=500000 (balanced multiplier 1.0), got %d", p.MaxFuelPerIntent)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("expected valid policy, got error: %v", err)
	}
}

func TestBuildPolicy_EcoProfileScalesFuel(t *testing.T) {
	p := BuildPolicy(Production, Open, Eco, Overrides{})
	if p.MaxFuelPerIntent != 250_000 {
		t.Errorf("expected eco profile to halve max_fuel_per_intent to 250000, got %d", p.MaxFuelPerIntent)
	}
	if p.CognitiveSpeed != 0.5 {
		t.Errorf("expected eco cognitive_speed=0.5, got %v", p.CognitiveSpeed)
	}
}

func TestBuildPolicy_RiskWeightsSumToOne(t *testing.T) {
	for _, mode := range []OperationalMode{Development, Production, Paranoid, Forensic} {
		p := BuildPolicy(mode, Open, Balanced, Overrides{})
		sum := p.RiskWeightSemantic + p.RiskWeightBehavioral + p.RiskWeightReputation
		if math.Abs(sum-1.0) > weightEpsilon {
			t.Errorf("mode %s: risk weights sum to %v, want ~1.0", mode, sum)
		}
	}
}

func TestBuildPolicy_Overrides(t *testing.T) {
	w := 0.7
	p := BuildPolicy(Production, Open, Balanced, Overrides{RiskWeightSemantic: &w})
	if p.RiskWeightSemantic != 0.7 {
		t.Errorf("expected override to take effect, got %v", p.RiskWeightSemantic)
	}
}

func TestPolicy_Validate_RejectsBadWeights(t *testing.T) {
	w := 0.9
	p := BuildPolicy(Production, Open, Balanced, Overrides{RiskWeightSemantic: &w})
	if err := p.Validate(); err == nil {
		t.Fatal("expected validation error for weights not summing to 1.0")
	}
}

func TestPolicy_Validate_RejectsOutOfRangeRatio(t *testing.T) {
	q := 1.5
	p := BuildPolicy(Production, Open, Balanced, Overrides{QuorumRatio: &q})
	if err := p.Validate(); err == nil {
		t.Fatal("expected validation error for quorum_ratio > 1")
	}
}

func TestPolicy_EffectiveOverridesFollowPosture(t *testing.T) {
	p := BuildPolicy(Development, Lockdown, Balanced, Overrides{})
	if !p.EffectiveRequireSignedIntents() {
		t.Error("expected lockdown posture to require signed intents even though development mode does not")
	}
	if p.EffectiveMinReputation() != 0.6 {
		t.Errorf("expected lockdown min_reputation=0.6, got %v", p.EffectiveMinReputation())
	}
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected error loading a missing file")
	}
}

func TestLoad_UnknownEnumFallsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("mode: not-a-real-mode\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	res, fallbacks, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Policy.Mode != Production {
		t.Errorf("expected fallback to production, got %s", res.Policy.Mode)
	}
	if len(fallbacks) != 1 {
		t.Errorf("expected one fallback warning, got %d", len(fallbacks))
	}
}

func TestLoad_IdempotentHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("mode: production\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	first, _, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if first.FileHash != second.FileHash {
		t.Error("expected identical file hash on unchanged file")
	}
	if first.Policy != second.Policy {
		t.Error("expected identical policy on unchanged file")
	}
}
