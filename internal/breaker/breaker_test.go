package breaker

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	// Scenario 3 from spec §8.
	s := NewSet(DefaultConfig(), zap.NewNop())

	for i := 0; i < 5; i++ {
		s.RecordFailure("ssai")
	}

	if s.IsHealthy("ssai") {
		t.Fatal("expected ssai breaker to be unhealthy after 5 consecutive failures")
	}
	if s.AllowRequest("ssai") {
		t.Fatal("expected allow_request to return false immediately after trip")
	}
}

func TestBreaker_SuccessResetsFailureCountWhileClosed(t *testing.T) {
	s := NewSet(DefaultConfig(), zap.NewNop())
	s.RecordFailure("ssai")
	s.RecordFailure("ssai")
	s.RecordFailure("ssai")
	s.RecordFailure("ssai")
	s.RecordSuccess("ssai")
	s.RecordFailure("ssai")

	if !s.IsHealthy("ssai") {
		t.Fatal("expected breaker to remain healthy: success should reset the consecutive failure counter")
	}
}

func TestBreaker_RecoversAfterTimeoutAndProbe(t *testing.T) {
	cfg := Config{FailureThreshold: 1, RecoveryTimeoutS: 0, HalfOpenMaxProbes: 1}
	s := NewSet(cfg, zap.NewNop())

	s.RecordFailure("ssai")
	if s.IsHealthy("ssai") {
		t.Fatal("expected OPEN after single failure at threshold 1")
	}

	// RecoveryTimeoutS=0 means the very next allow_request is the probe.
	if !s.AllowRequest("ssai") {
		t.Fatal("expected probe to be allowed once recovery timeout has elapsed")
	}
	status := s.GetStatus("ssai")
	if status.State != HalfOpen {
		t.Fatalf("expected HALF_OPEN after the probe window opens, got %s", status.State)
	}

	s.RecordSuccess("ssai")
	if !s.IsHealthy("ssai") {
		t.Fatal("expected CLOSED after a successful probe reaching the quota")
	}
	if s.GetStatus("ssai").FailureCount != 0 {
		t.Error("expected failure_count reset on recovery to CLOSED")
	}
}

func TestBreaker_FailedProbeReturnsToOpen(t *testing.T) {
	cfg := Config{FailureThreshold: 1, RecoveryTimeoutS: 0, HalfOpenMaxProbes: 1}
	s := NewSet(cfg, zap.NewNop())

	s.RecordFailure("ssai")
	s.AllowRequest("ssai") // transitions to HALF_OPEN
	before := s.GetStatus("ssai").LastStateChange

	time.Sleep(time.Millisecond)
	s.RecordFailure("ssai")

	status := s.GetStatus("ssai")
	if status.State != Open {
		t.Fatalf("expected a failed probe to return to OPEN, got %s", status.State)
	}
	if !status.LastStateChange.After(before) {
		t.Error("expected last_state_change to be updated on the HALF_OPEN -> OPEN transition")
	}
}

func TestBreaker_HalfOpenSuccessCountNeverExceedsProbeQuota(t *testing.T) {
	cfg := Config{FailureThreshold: 1, RecoveryTimeoutS: 0, HalfOpenMaxProbes: 2}
	s := NewSet(cfg, zap.NewNop())
	s.RecordFailure("ssai")
	s.AllowRequest("ssai")
	s.RecordSuccess("ssai")

	status := s.GetStatus("ssai")
	if status.State != HalfOpen {
		t.Fatalf("expected still HALF_OPEN before quota reached, got %s", status.State)
	}
	if status.SuccessCount > cfg.HalfOpenMaxProbes {
		t.Errorf("success_count %d exceeds half_open_max_probes %d", status.SuccessCount, cfg.HalfOpenMaxProbes)
	}
}

func TestBreaker_ForceOpenAndForceClose(t *testing.T) {
	s := NewSet(DefaultConfig(), zap.NewNop())
	s.ForceOpen("p2p")
	if s.IsHealthy("p2p") {
		t.Fatal("expected force_open to mark p2p unhealthy")
	}
	s.ForceClose("p2p")
	if !s.IsHealthy("p2p") {
		t.Fatal("expected force_close to mark p2p healthy")
	}
}

func TestBreaker_UnregisteredNameIsHealthy(t *testing.T) {
	s := NewSet(DefaultConfig(), zap.NewNop())
	if !s.IsHealthy("never-seen") {
		t.Fatal("expected an unregistered subsystem name to be treated as healthy")
	}
}

func TestBreaker_LateRegistrationAllowed(t *testing.T) {
	s := NewSet(DefaultConfig(), zap.NewNop())
	s.WithConfig("custom-subsystem", Config{FailureThreshold: 2, RecoveryTimeoutS: 5, HalfOpenMaxProbes: 1})
	s.RecordFailure("custom-subsystem")
	s.RecordFailure("custom-subsystem")
	if s.IsHealthy("custom-subsystem") {
		t.Fatal("expected late-registered subsystem's config to apply")
	}
}
