package risk

import (
	"math"
	"testing"
)

func TestSemanticRisk_HighRiskAction(t *testing.T) {
	s := NewHeuristicScorer()
	got := s.SemanticRisk(Intent{Action: "DELETE", Scope: "/u/a"})
	if got != 0.5 {
		t.Errorf("expected 0.5 for a high-risk action, got %v", got)
	}
}

func TestSemanticRisk_CaseInsensitive(t *testing.T) {
	s := NewHeuristicScorer()
	got := s.SemanticRisk(Intent{Action: "Bypass", Scope: "/u/a"})
	if got != 0.5 {
		t.Errorf("expected action matching to be case-insensitive, got %v", got)
	}
}

func TestSemanticRisk_RequiresAdminAdds(t *testing.T) {
	s := NewHeuristicScorer()
	got := s.SemanticRisk(Intent{Action: "read", Scope: "/u/a", RequiresAdmin: true})
	if got != 0.2 {
		t.Errorf("expected 0.2 for requires_admin alone, got %v", got)
	}
}

func TestSemanticRisk_MissingScopeAdds(t *testing.T) {
	s := NewHeuristicScorer()
	got := s.SemanticRisk(Intent{Action: "read"})
	if got != 0.1 {
		t.Errorf("expected 0.1 for a missing scope, got %v", got)
	}
}

func TestSemanticRisk_AllSignalsSum(t *testing.T) {
	s := NewHeuristicScorer()
	got := s.SemanticRisk(Intent{Action: "delete", RequiresAdmin: true})
	if math.Abs(got-0.8) > 1e-9 {
		t.Errorf("expected dangerous action+admin+missing scope to sum to 0.8, got %v", got)
	}
}

func TestSemanticRisk_HappyPathIsZero(t *testing.T) {
	s := NewHeuristicScorer()
	got := s.SemanticRisk(Intent{Action: "read", Scope: "/u/a"})
	if got != 0.0 {
		t.Errorf("expected 0.0 for an unremarkable read, got %v", got)
	}
}

func TestBehavioralRisk_BurstAdds(t *testing.T) {
	s := NewHeuristicScorer()
	got := s.BehavioralRisk(Intent{BurstCount: 11})
	if got != 0.4 {
		t.Errorf("expected 0.4 for burst_count>10, got %v", got)
	}
}

func TestBehavioralRisk_BurstThresholdIsExclusive(t *testing.T) {
	s := NewHeuristicScorer()
	got := s.BehavioralRisk(Intent{BurstCount: 10})
	if got != 0.0 {
		t.Errorf("expected burst_count==10 to not trigger, got %v", got)
	}
}

func TestBehavioralRisk_OffHoursAdds(t *testing.T) {
	s := NewHeuristicScorer()
	got := s.BehavioralRisk(Intent{OffHours: true})
	if got != 0.2 {
		t.Errorf("expected 0.2 for off_hours, got %v", got)
	}
}

func TestBehavioralRisk_CombinedSignalsSum(t *testing.T) {
	s := NewHeuristicScorer()
	got := s.BehavioralRisk(Intent{BurstCount: 20, OffHours: true})
	if math.Abs(got-0.6) > 1e-9 {
		t.Errorf("expected burst+off_hours to sum to 0.6, got %v", got)
	}
}
