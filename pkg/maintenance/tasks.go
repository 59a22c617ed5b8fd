package maintenance

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/steward-sh/steward/pkg/approval"
	"github.com/steward-sh/steward/pkg/config"
	"github.com/steward-sh/steward/pkg/coordinator"
	"github.com/steward-sh/steward/pkg/reputation"
	"github.com/steward-sh/steward/pkg/state"
)

const (
	decayBaseline = 0.5
	decayFactor   = 0.01
)

// RegisterDefaultTasks wires the standard housekeeping set with intervals
// from the governance profile. source may be nil; the decision review task
// then reports nothing.
func RegisterDefaultTasks(
	s *Scheduler,
	cfg config.MaintenanceConfig,
	store state.Store,
	ledger *reputation.Ledger,
	grants *approval.Grants,
	source coordinator.ReviewSource,
) error {
	tasks := []Task{
		{
			Name:     "score_decay",
			Interval: time.Duration(cfg.DecayHours) * time.Hour,
			Run:      decayTask(ledger),
		},
		{
			Name:     "decision_review",
			Interval: time.Duration(cfg.DecisionReviewHours) * time.Hour,
			Run:      decisionReviewTask(source),
			Notable:  true,
		},
		{
			Name:     "health_check",
			Interval: time.Duration(cfg.HealthCheckHours) * time.Hour,
			Run:      healthCheckTask(store, ledger),
		},
		{
			Name:     "orphan_cleanup",
			Interval: time.Duration(cfg.OrphanCleanupHours) * time.Hour,
			Run:      orphanCleanupTask(store, grants, s.clock),
		},
	}
	for _, task := range tasks {
		if err := s.Register(task); err != nil {
			return err
		}
	}
	return nil
}

// decayTask drifts every domain score one percent toward the neutral
// baseline, so trust earned long ago fades without fresh outcomes.
func decayTask(ledger *reputation.Ledger) TaskFunc {
	return func(ctx context.Context) (string, error) {
		domains, err := ledger.Domains(ctx)
		if err != nil {
			return "", fmt.Errorf("list domains: %w", err)
		}
		decayed := 0
		for _, d := range domains {
			next := d.Score + (decayBaseline-d.Score)*decayFactor
			if math.Abs(next-d.Score) < 1e-9 {
				continue
			}
			if err := ledger.SetScore(ctx, d.Domain, next); err != nil {
				return "", fmt.Errorf("decay %s: %w", d.Domain, err)
			}
			decayed++
		}
		return fmt.Sprintf("decayed %d of %d domains", decayed, len(domains)), nil
	}
}

// decisionReviewTask surfaces decisions that have sat unreviewed.
func decisionReviewTask(source coordinator.ReviewSource) TaskFunc {
	return func(ctx context.Context) (string, error) {
		if source == nil {
			return "", nil
		}
		items, err := source.PendingDecisions(ctx, 10)
		if err != nil {
			return "", fmt.Errorf("pending decisions: %w", err)
		}
		if len(items) == 0 {
			return "", nil
		}
		return fmt.Sprintf("%d decisions awaiting review", len(items)), nil
	}
}

// healthCheckTask verifies the state store round-trips and reports reward
// backlog size.
func healthCheckTask(store state.Store, ledger *reputation.Ledger) TaskFunc {
	return func(ctx context.Context) (string, error) {
		probe := map[string]any{"at": time.Now().UTC().Format(time.RFC3339)}
		if err := store.Set(ctx, "maintenance/health", probe); err != nil {
			return "", fmt.Errorf("state store write: %w", err)
		}
		var back map[string]any
		if !store.Get(ctx, "maintenance/health", &back) {
			return "", fmt.Errorf("state store read-back failed")
		}

		pending, err := ledger.PendingRewards(ctx)
		if err != nil {
			return "", fmt.Errorf("pending rewards: %w", err)
		}
		unsettled := 0
		for _, r := range pending {
			if !r.Matured && !r.Cancelled {
				unsettled++
			}
		}
		return fmt.Sprintf("store ok, %d unsettled rewards", unsettled), nil
	}
}

// orphanCleanupTask drops expired approval grants and reinforcement
// cooldown entries past their window.
func orphanCleanupTask(store state.Store, grants *approval.Grants, clock func() time.Time) TaskFunc {
	return func(ctx context.Context) (string, error) {
		purged, err := grants.PurgeExpired(ctx)
		if err != nil {
			return "", fmt.Errorf("purge grants: %w", err)
		}

		cooldowns, err := store.GetPrefix(ctx, coordinator.ReinforceCooldownPrefix)
		if err != nil {
			return "", fmt.Errorf("list cooldowns: %w", err)
		}
		now := clock()
		stale := 0
		for key, raw := range cooldowns {
			var at time.Time
			if err := json.Unmarshal(raw, &at); err != nil || now.Sub(at) > coordinator.ReinforceCooldown {
				if _, err := store.Delete(ctx, key); err == nil {
					stale++
				}
			}
		}
		return fmt.Sprintf("purged %d grants, %d stale cooldowns", purged, stale), nil
	}
}
