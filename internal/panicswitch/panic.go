// Package panicswitch implements the emergency lockdown controller
// (spec §3, §4.7). Two triggers: programmatic activation and the
// presence of a lock file at a configured path.
package panicswitch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Source identifies how a panic activation was triggered.
type Source string

const (
	SourceFile Source = "file"
	SourceAPI  Source = "api"
	SourceAuto Source = "auto"
)

// State is the current PanicState (spec §3).
type State struct {
	Active          bool
	Reason          string
	ActivatedAt     time.Time
	ActivatedBy     Source
	AutoClearAfterS float64
}

// Switch is the emergency lockdown controller.
type Switch struct {
	mu          sync.Mutex
	lockPath    string
	autoClearS  float64
	log         *zap.Logger
	state       State
}

// New creates a Switch bound to lockPath, performing an initial file
// trigger check (spec §4.7: mirrors the original's constructor calling
// _check_file_trigger() immediately).
func New(lockPath string, autoClearS float64, log *zap.Logger) *Switch {
	s := &Switch{lockPath: lockPath, autoClearS: autoClearS, log: log}
	s.checkFileTrigger()
	return s
}

// Activate activates panic mode immediately (spec §4.7).
func (s *Switch) Activate(reason string, source Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reason == "" {
		reason = "Manual activation"
	}
	s.state = State{
		Active:          true,
		Reason:          reason,
		ActivatedAt:     time.Now().UTC(),
		ActivatedBy:     source,
		AutoClearAfterS: s.autoClearS,
	}
	s.writeLockFile(reason)
	s.log.Error("PANIC ACTIVATED", zap.String("reason", reason), zap.String("source", string(source)))
}

// Deactivate deactivates panic mode (manual recovery).
func (s *Switch) Deactivate(operator string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivateLocked(operator)
}

func (s *Switch) deactivateLocked(operator string) {
	if !s.state.Active {
		return
	}
	elapsed := time.Since(s.state.ActivatedAt)
	s.state.Active = false
	s.removeLockFile()
	s.log.Info("panic deactivated", zap.String("operator", operator), zap.Duration("was_active_for", elapsed))
}

// Check refreshes and returns whether panic is active: it adopts an
// externally created lock file, then evaluates the auto-clear timeout
// (spec §4.7). This is the only I/O on the decision hot path and must
// stay cheap — a stat, not a read of the full lock file unless it was
// just newly detected (spec §5).
func (s *Switch) Check() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkFileTriggerLocked()

	if s.state.Active && s.state.AutoClearAfterS > 0 &&
		time.Since(s.state.ActivatedAt).Seconds() > s.state.AutoClearAfterS {
		s.log.Info("panic auto-cleared", zap.Float64("after_s", s.state.AutoClearAfterS))
		s.deactivateLocked("auto_clear")
	}

	return s.state.Active
}

// State returns a copy of the current state, refreshing it first.
func (s *Switch) State() State {
	s.Check()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsActive is a convenience alias for Check, matching spec §4.7's
// "Engine consults is_active before every intent".
func (s *Switch) IsActive() bool {
	return s.Check()
}

func (s *Switch) checkFileTrigger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkFileTriggerLocked()
}

func (s *Switch) checkFileTriggerLocked() {
	if s.state.Active {
		return
	}
	if _, err := os.Stat(s.lockPath); err != nil {
		return
	}

	reason := "External trigger (panic.lock detected)"
	if content, err := os.ReadFile(s.lockPath); err == nil {
		if trimmed := strings.TrimSpace(string(content)); trimmed != "" {
			reason = trimmed
		}
	}

	s.state = State{
		Active:          true,
		Reason:          reason,
		ActivatedAt:     time.Now().UTC(),
		ActivatedBy:     SourceFile,
		AutoClearAfterS: s.autoClearS,
	}
	s.log.Error("PANIC DETECTED via lock file", zap.String("reason", reason))
}

func (s *Switch) writeLockFile(reason string) {
	if err := os.MkdirAll(filepath.Dir(s.lockPath), 0o755); err != nil {
		s.log.Error("failed to create panic lock directory", zap.Error(err))
		return
	}

	body, err := json.Marshal(map[string]any{
		"reason":       reason,
		"activated_at": s.state.ActivatedAt.Format(time.RFC3339Nano),
		"source":       string(s.state.ActivatedBy),
	})
	if err != nil {
		s.log.Error("failed to marshal panic lock body", zap.Error(err))
		return
	}

	if err := os.WriteFile(s.lockPath, body, 0o600); err != nil {
		s.log.Error("failed to write panic lock file", zap.Error(err))
	}
}

func (s *Switch) removeLockFile() {
	if err := os.Remove(s.lockPath); err != nil && !os.IsNotExist(err) {
		s.log.Error("failed to remove panic lock file", zap.Error(err))
	}
}
