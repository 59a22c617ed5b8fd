package reputation

import "github.com/steward-sh/steward/pkg/config"

// AutonomyLevel is the ordered capability tier an agent holds for a domain.
// Higher levels are strict supersets of lower ones.
type AutonomyLevel int

const (
	LevelObserve AutonomyLevel = iota // L0: read-only observation
	LevelPropose                      // L1: may plan and propose
	LevelSafeExec                     // L2: may perform reversible writes
	LevelRiskExec                     // L3: may perform destructive actions
	LevelTrusted                      // L4: full capability, including critical actions
)

func (l AutonomyLevel) String() string {
	switch l {
	case LevelObserve:
		return "L0_OBSERVE"
	case LevelPropose:
		return "L1_PROPOSE"
	case LevelSafeExec:
		return "L2_SAFE_EXEC"
	case LevelRiskExec:
		return "L3_RISK_EXEC"
	case LevelTrusted:
		return "L4_TRUSTED"
	}
	return "UNKNOWN"
}

// Permits reports whether the level's capability set includes the risk class.
func (l AutonomyLevel) Permits(risk ActionRisk) bool {
	switch risk {
	case RiskRead:
		return l >= LevelObserve
	case RiskPlan:
		return l >= LevelPropose
	case RiskSafeWrite:
		return l >= LevelSafeExec
	case RiskDestructive:
		return l >= LevelRiskExec
	case RiskCritical:
		return l >= LevelTrusted
	}
	return false
}

// Ladder maps domain scores to autonomy levels using profile thresholds.
type Ladder struct {
	cfg config.LadderConfig
}

// NewLadder creates a ladder from profile thresholds.
func NewLadder(cfg config.LadderConfig) *Ladder {
	return &Ladder{cfg: cfg}
}

// LevelFor returns the highest level whose threshold is at or below the
// score. L0 is always reachable.
func (d *Ladder) LevelFor(score float64) AutonomyLevel {
	switch {
	case score >= d.cfg.TrustedThreshold:
		return LevelTrusted
	case score >= d.cfg.RiskExecThreshold:
		return LevelRiskExec
	case score >= d.cfg.SafeExecThreshold:
		return LevelSafeExec
	case score >= d.cfg.ProposeThreshold:
		return LevelPropose
	}
	return LevelObserve
}
