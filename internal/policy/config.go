// Package policy — config.go
//
// Configuration file loading, validation, and hot-reload for the
// Governance Engine's Policy.
//
// Configuration file: /etc/governor/policy.yaml (default)
//
// Hot-reload:
//   - File watched via fsnotify; on write, re-read and re-validate.
//   - Engine.ReloadPolicy() is also callable directly (e.g. via the
//     /v1/admin/reload endpoint).
//   - If the new file is invalid or missing, the old Policy remains active
//     and an error is logged — reload never crashes the engine.

package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the build via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// FileConfig is the raw shape of the policy config file (spec §6).
// Pointer fields distinguish "absent" from "explicitly zero".
type FileConfig struct {
	Mode             string `yaml:"mode"`
	SecurityPosture  string `yaml:"security_posture"`
	PerformanceProfile string `yaml:"performance_profile"`

	CognitiveSpeed             *float64 `yaml:"cognitive_speed"`
	SSAIThreshold              *float64 `yaml:"ssai_threshold"`
	QuorumRatio                *float64 `yaml:"quorum_ratio"`
	ConsensusTimeoutMs         *int     `yaml:"consensus_timeout_ms"`
	MaxFuelPerIntent           *int     `yaml:"max_fuel_per_intent"`
	P2PRateLimit               *int     `yaml:"p2p_rate_limit"`
	MinReputation              *float64 `yaml:"min_reputation"`
	MaxParallelIntents         *int     `yaml:"max_parallel_intents"`
	QueueBackpressureThreshold *int     `yaml:"queue_backpressure_threshold"`
	RiskWeightSemantic         *float64 `yaml:"risk_weight_semantic"`
	RiskWeightBehavioral       *float64 `yaml:"risk_weight_behavioral"`
	RiskWeightReputation       *float64 `yaml:"risk_weight_reputation"`

	SSAIDepth         *string `yaml:"ssai_depth"`
	SandboxStrictness *string `yaml:"sandbox_strictness"`

	RequireSignedIntents *bool `yaml:"require_signed_intents"`
	AdaptiveThrottling   *bool `yaml:"adaptive_throttling"`
	AllowManualOverride  *bool `yaml:"allow_manual_override"`
}

// LoadResult bundles the built Policy with the metadata ReloadPolicy needs
// to decide whether anything changed (spec §4.1).
type LoadResult struct {
	Policy   Policy
	FileHash string // sha256 hex of the raw file contents
}

// Load reads path, applies the mode/profile presets plus file overrides,
// and validates the result. Unknown enum values fall back to their
// default and the caller is expected to log that fact (spec §6).
func Load(path string) (LoadResult, []string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return LoadResult{}, nil, errors.Wrap(err, "read policy file")
	}

	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])

	var fc FileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return LoadResult{}, nil, errors.Wrap(err, "parse policy file")
	}

	var fallbacks []string

	mode, ok := ParseOperationalMode(fc.Mode)
	if fc.Mode != "" && !ok {
		fallbacks = append(fallbacks, fmt.Sprintf("mode: unrecognised value %q, falling back to production", fc.Mode))
	}

	posture, ok := ParseSecurityPosture(fc.SecurityPosture)
	if fc.SecurityPosture != "" && !ok {
		fallbacks = append(fallbacks, fmt.Sprintf("security_posture: unrecognised value %q, falling back to open", fc.SecurityPosture))
	}

	profile, ok := ParsePerformanceProfile(fc.PerformanceProfile)
	if fc.PerformanceProfile != "" && !ok {
		fallbacks = append(fallbacks, fmt.Sprintf("performance_profile: unrecognised value %q, falling back to balanced", fc.PerformanceProfile))
	}

	p := BuildPolicy(mode, posture, profile, Overrides{
		CognitiveSpeed:             fc.CognitiveSpeed,
		SSAIThreshold:              fc.SSAIThreshold,
		QuorumRatio:                fc.QuorumRatio,
		ConsensusTimeoutMs:         fc.ConsensusTimeoutMs,
		MaxFuelPerIntent:           fc.MaxFuelPerIntent,
		P2PRateLimit:               fc.P2PRateLimit,
		MinReputation:              fc.MinReputation,
		MaxParallelIntents:         fc.MaxParallelIntents,
		QueueBackpressureThreshold: fc.QueueBackpressureThreshold,
		RiskWeightSemantic:         fc.RiskWeightSemantic,
		RiskWeightBehavioral:       fc.RiskWeightBehavioral,
		RiskWeightReputation:       fc.RiskWeightReputation,
		SSAIDepth:                  fc.SSAIDepth,
		SandboxStrictness:          fc.SandboxStrictness,
		RequireSignedIntents:       fc.RequireSignedIntents,
		AdaptiveThrottling:         fc.AdaptiveThrottling,
		AllowManualOverride:        fc.AllowManualOverride,
	})

	if err := p.Validate(); err != nil {
		return LoadResult{}, fallbacks, err
	}

	return LoadResult{Policy: p, FileHash: hash}, fallbacks, nil
}

// HashFile computes the sha256 hex digest of path's contents, the same
// digest Load records as LoadResult.FileHash (supplemented from
// original_source's compute_file_hash). Engine.Status() does not call it;
// it reports the hash recorded at the last ReloadPolicy.
func HashFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
