// Package enforcer is the permission gate: it composes risk classification,
// per-domain trust lookup, level gating, and single-use approval grants into
// one CheckAction decision, and records outcomes back into the ledger.
package enforcer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/steward-sh/steward/pkg/approval"
	"github.com/steward-sh/steward/pkg/reputation"
)

// Decision is the result of a permission check.
type Decision struct {
	Allowed            bool                     `json:"allowed"`
	AllowedViaToken    bool                     `json:"allowed_via_token"`
	DowngradeToPropose bool                     `json:"downgrade_to_propose"`
	Risk               reputation.ActionRisk    `json:"risk"`
	Domain             string                   `json:"domain"`
	Level              reputation.AutonomyLevel `json:"level"`
	Reason             string                   `json:"reason,omitempty"`
}

// Enforcer gates actions against the autonomy ladder.
type Enforcer struct {
	ledger  *reputation.Ledger
	grants  *approval.Grants
	ceiling reputation.AutonomyLevel
	logger  *slog.Logger
}

// New creates an enforcer. The operator ceiling defaults to L4; the ladder
// alone gates unless WithLevelCeiling pins something lower.
func New(ledger *reputation.Ledger, grants *approval.Grants) *Enforcer {
	return &Enforcer{
		ledger:  ledger,
		grants:  grants,
		ceiling: reputation.LevelTrusted,
		logger:  slog.Default().With("component", "enforcer"),
	}
}

// WithLevelCeiling pins an operator-configured maximum level.
func (e *Enforcer) WithLevelCeiling(level reputation.AutonomyLevel) *Enforcer {
	e.ceiling = level
	return e
}

// CheckAction decides whether the action may proceed right now.
//
// Classification failure is returned as an error: an unclassifiable action
// cannot be proven safe, so the caller must treat it as fatal and blocked.
// If the ladder blocks the action but a live approval grant exists for
// actionID, the action is allowed "via token"; the grant is consumed only
// when consumeToken is set, and consumption is a single-winner race.
func (e *Enforcer) CheckAction(ctx context.Context, action string, actx reputation.ActionContext, actionID string, consumeToken bool) (Decision, error) {
	risk, err := reputation.ClassifyRisk(action, actx)
	if err != nil {
		return Decision{}, fmt.Errorf("risk classification failed for %q: %w", action, err)
	}
	domain := reputation.ClassifyDomain(action, actx)

	level := e.ledger.AllowedLevel(ctx, domain)
	if level > e.ceiling {
		level = e.ceiling
	}

	d := Decision{Risk: risk, Domain: domain, Level: level}

	if level.Permits(risk) {
		d.Allowed = true
		return d, nil
	}

	// Ladder says no; a single-use grant may still open the door.
	if actionID != "" && e.grants != nil {
		if consumeToken {
			won, err := e.grants.Consume(ctx, actionID)
			if err != nil {
				return d, fmt.Errorf("grant consumption failed for %q: %w", actionID, err)
			}
			if won {
				d.Allowed = true
				d.AllowedViaToken = true
				return d, nil
			}
		} else if e.grants.Active(ctx, actionID) {
			d.Allowed = true
			d.AllowedViaToken = true
			return d, nil
		}
	}

	d.Reason = fmt.Sprintf("%s requires more trust than %s permits in domain %q", risk, level, domain)
	if (risk == reputation.RiskPlan || risk == reputation.RiskSafeWrite) && level >= reputation.LevelPropose {
		d.DowngradeToPropose = true
	}
	e.logger.InfoContext(ctx, "action blocked",
		"action", action, "domain", domain, "risk", string(risk),
		"level", level.String(), "downgrade", d.DowngradeToPropose)
	return d, nil
}

// RecordOutcome feeds a terminal run outcome into the ledger. Successes are
// provisional and only count after maturation; failures land immediately.
func (e *Enforcer) RecordOutcome(ctx context.Context, actionID, domain string, success bool, confidence float64) error {
	if success {
		_, err := e.ledger.RecordProvisionalSuccess(ctx, actionID, domain, confidence)
		return err
	}
	_, err := e.ledger.UpdateScore(ctx, domain, reputation.EventValidationFailure, confidence)
	return err
}

// Ledger exposes the underlying reputation ledger for composition.
func (e *Enforcer) Ledger() *reputation.Ledger { return e.ledger }

// Grants exposes the grant manager for composition.
func (e *Enforcer) Grants() *approval.Grants { return e.grants }
