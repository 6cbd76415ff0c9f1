// Package breaker implements the per-subsystem circuit breaker set
// (spec §4.5). One breaker manager owns a map of named BreakerStatus
// records; registration is lazy so the registry can grow past the
// statically known names ("ssai, consensus, p2p, sandbox, audit").
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is a breaker's CLOSED/OPEN/HALF_OPEN position (spec §3, §4.5).
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config tunes a breaker (spec §4.5 defaults).
type Config struct {
	FailureThreshold  int
	RecoveryTimeoutS  float64
	HalfOpenMaxProbes int
}

// DefaultConfig returns the spec's defaults: failure_threshold=5,
// recovery_timeout_s=30, half_open_max_probes=1.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, RecoveryTimeoutS: 30, HalfOpenMaxProbes: 1}
}

// Status is the per-subsystem BreakerStatus record (spec §3).
type Status struct {
	State          State
	FailureCount   int
	SuccessCount   int
	TotalTrips     int
	LastFailureTime time.Time
	LastStateChange time.Time
}

type breakerEntry struct {
	mu     sync.Mutex
	cfg    Config
	status Status
}

// Set is the registry of named breakers (spec §9: "Breaker storage. A
// mapping from subsystem name to status ... the registry must allow late
// addition").
type Set struct {
	mu       sync.Mutex
	breakers map[string]*breakerEntry
	cfg      Config
	log      *zap.Logger
}

// NewSet creates a breaker Set. Subsystems are registered lazily on
// first use, defaulting to cfg; WithConfig can tune an individual
// subsystem before first use.
func NewSet(cfg Config, log *zap.Logger) *Set {
	return &Set{breakers: make(map[string]*breakerEntry), cfg: cfg, log: log}
}

func (s *Set) entry(name string) *breakerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.breakers[name]
	if !ok {
		e = &breakerEntry{cfg: s.cfg, status: Status{State: Closed, LastStateChange: time.Now().UTC()}}
		s.breakers[name] = e
	}
	return e
}

// WithConfig overrides the configuration for a specific subsystem,
// registering it if necessary. Must be called before first use to take
// effect on an existing entry's behaviour going forward.
func (s *Set) WithConfig(name string, cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.breakers[name]
	if !ok {
		s.breakers[name] = &breakerEntry{cfg: cfg, status: Status{State: Closed, LastStateChange: time.Now().UTC()}}
		return
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

// AllowRequest returns whether a call to the named subsystem may
// proceed, performing the OPEN -> HALF_OPEN probe-window transition as a
// side effect (spec §4.5).
func (s *Set) AllowRequest(name string) bool {
	e := s.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.status.State {
	case Closed:
		return true
	case Open:
		if time.Since(e.status.LastStateChange).Seconds() >= e.cfg.RecoveryTimeoutS {
			s.transition(e, HalfOpen)
			return true
		}
		return false
	case HalfOpen:
		return e.status.SuccessCount < e.cfg.HalfOpenMaxProbes
	default:
		return true
	}
}

// RecordSuccess records a successful call (spec §4.5).
func (s *Set) RecordSuccess(name string) {
	e := s.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.status.State {
	case Closed:
		e.status.FailureCount = 0
	case HalfOpen:
		e.status.SuccessCount++
		if e.status.SuccessCount >= e.cfg.HalfOpenMaxProbes {
			s.transition(e, Closed)
			e.status.FailureCount = 0
		}
	}
}

// RecordFailure records a failed call (spec §4.5).
func (s *Set) RecordFailure(name string) {
	e := s.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.status.LastFailureTime = time.Now().UTC()

	switch e.status.State {
	case Closed:
		e.status.FailureCount++
		if e.status.FailureCount >= e.cfg.FailureThreshold {
			e.status.TotalTrips++
			s.transition(e, Open)
		}
	case HalfOpen:
		s.transition(e, Open)
	}
}

// ForceOpen is an operator override that bypasses counters.
func (s *Set) ForceOpen(name string) {
	e := s.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.TotalTrips++
	s.transition(e, Open)
}

// ForceClose is an operator override that bypasses counters.
func (s *Set) ForceClose(name string) {
	e := s.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	s.transition(e, Closed)
	e.status.FailureCount = 0
}

// transition performs the bookkeeping common to every state change:
// stamp last_state_change, zero success_count (spec §4.5). Caller must
// hold e.mu.
func (s *Set) transition(e *breakerEntry, to State) {
	from := e.status.State
	if from == to {
		return
	}
	e.status.State = to
	e.status.LastStateChange = time.Now().UTC()
	e.status.SuccessCount = 0
	if s.log != nil {
		s.log.Info("circuit breaker state changed", zap.String("from", from.String()), zap.String("to", to.String()))
	}
}

// IsHealthy is true iff the named breaker's state is not OPEN;
// unregistered names are treated as healthy (spec §4.5).
func (s *Set) IsHealthy(name string) bool {
	s.mu.Lock()
	e, ok := s.breakers[name]
	s.mu.Unlock()
	if !ok {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status.State != Open
}

// GetStatus returns a copy of the named breaker's status. Unregistered
// names return a zero-value CLOSED status.
func (s *Set) GetStatus(name string) Status {
	s.mu.Lock()
	e, ok := s.breakers[name]
	s.mu.Unlock()
	if !ok {
		return Status{State: Closed}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// GetAllStatus returns a snapshot of every registered breaker's status,
// keyed by subsystem name.
func (s *Set) GetAllStatus() map[string]Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Status, len(s.breakers))
	for name, e := range s.breakers {
		e.mu.Lock()
		out[name] = e.status
		e.mu.Unlock()
	}
	return out
}
