package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is an operator-tunable governance profile. Every field has a
// default; a missing or partial YAML file leaves the defaults in place.
type Profile struct {
	Name        string            `yaml:"name" json:"name"`
	Ladder      LadderConfig      `yaml:"ladder" json:"ladder"`
	Maintenance MaintenanceConfig `yaml:"maintenance" json:"maintenance"`
	QuietMode   QuietModeConfig   `yaml:"quiet_mode" json:"quiet_mode"`
	Surfacing   SurfacingConfig   `yaml:"surfacing" json:"surfacing"`
}

// LadderConfig holds autonomy ladder thresholds and reward timing.
type LadderConfig struct {
	TrustedThreshold  float64 `yaml:"trusted_threshold" json:"trusted_threshold"`
	RiskExecThreshold float64 `yaml:"risk_exec_threshold" json:"risk_exec_threshold"`
	SafeExecThreshold float64 `yaml:"safe_exec_threshold" json:"safe_exec_threshold"`
	ProposeThreshold  float64 `yaml:"propose_threshold" json:"propose_threshold"`
	MaturationDays    int     `yaml:"maturation_days" json:"maturation_days"`
}

// MaintenanceConfig holds per-task intervals in hours.
type MaintenanceConfig struct {
	DecayHours          int `yaml:"decay_hours" json:"decay_hours"`
	DecisionReviewHours int `yaml:"decision_review_hours" json:"decision_review_hours"`
	HealthCheckHours    int `yaml:"health_check_hours" json:"health_check_hours"`
	OrphanCleanupHours  int `yaml:"orphan_cleanup_hours" json:"orphan_cleanup_hours"`
}

// QuietModeConfig holds the weighted quiet-score terms.
type QuietModeConfig struct {
	ReputationWeight float64  `yaml:"reputation_weight" json:"reputation_weight"`
	FrequencyWeight  float64  `yaml:"frequency_weight" json:"frequency_weight"`
	FeedbackWeight   float64  `yaml:"feedback_weight" json:"feedback_weight"`
	BusynessWeight   float64  `yaml:"busyness_weight" json:"busyness_weight"`
	BusyKeywords     []string `yaml:"busy_keywords,omitempty" json:"busy_keywords,omitempty"`
}

// SurfacingConfig bounds the result buffer.
type SurfacingConfig struct {
	MaxBuffered int `yaml:"max_buffered" json:"max_buffered"`
}

// DefaultProfile returns the shipped governance profile.
func DefaultProfile() *Profile {
	return &Profile{
		Name: "default",
		Ladder: LadderConfig{
			TrustedThreshold:  0.75,
			RiskExecThreshold: 0.50,
			SafeExecThreshold: 0.30,
			ProposeThreshold:  0.10,
			MaturationDays:    7,
		},
		Maintenance: MaintenanceConfig{
			DecayHours:          24,
			DecisionReviewHours: 24 * 7,
			HealthCheckHours:    6,
			OrphanCleanupHours:  24 * 3,
		},
		QuietMode: QuietModeConfig{
			ReputationWeight: 0.30,
			FrequencyWeight:  0.25,
			FeedbackWeight:   0.25,
			BusynessWeight:   0.20,
		},
		Surfacing: SurfacingConfig{MaxBuffered: 200},
	}
}

// LoadProfile loads a governance profile YAML, layering it over the defaults.
func LoadProfile(path string) (*Profile, error) {
	profile := DefaultProfile()
	if path == "" {
		return profile, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}

	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	return profile, nil
}

// Validate checks threshold ordering and weight sanity.
func (p *Profile) Validate() error {
	l := p.Ladder
	if !(l.TrustedThreshold >= l.RiskExecThreshold &&
		l.RiskExecThreshold >= l.SafeExecThreshold &&
		l.SafeExecThreshold >= l.ProposeThreshold &&
		l.ProposeThreshold >= 0) {
		return fmt.Errorf("ladder thresholds must be non-increasing from trusted to propose")
	}
	if l.MaturationDays <= 0 {
		return fmt.Errorf("maturation_days must be positive, got %d", l.MaturationDays)
	}

	q := p.QuietMode
	total := q.ReputationWeight + q.FrequencyWeight + q.FeedbackWeight + q.BusynessWeight
	if total <= 0 {
		return fmt.Errorf("quiet mode weights must sum to a positive value")
	}

	if p.Surfacing.MaxBuffered <= 0 {
		return fmt.Errorf("max_buffered must be positive, got %d", p.Surfacing.MaxBuffered)
	}
	return nil
}
