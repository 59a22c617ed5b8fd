package reputation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/steward-sh/steward/pkg/config"
	"github.com/steward-sh/steward/pkg/state"
)

// State store key prefixes.
const (
	scoreKeyPrefix  = "reputation/scores/"
	rewardKeyPrefix = "reputation/rewards/"
)

// OutcomeEvent is a trust-affecting outcome kind.
type OutcomeEvent string

const (
	EventSuccessfulClosure OutcomeEvent = "successful_closure"
	EventReopen            OutcomeEvent = "reopen"
	EventConfidentRevert   OutcomeEvent = "confident_revert"
	EventValidationSuccess OutcomeEvent = "validation_success"
	EventValidationFailure OutcomeEvent = "validation_failure"
)

// Fixed per-event score deltas, scaled by confidence before application.
var eventDeltas = map[OutcomeEvent]float64{
	EventSuccessfulClosure: +0.02,
	EventReopen:            -0.08,
	EventConfidentRevert:   -0.12,
	EventValidationSuccess: +0.01,
	EventValidationFailure: -0.05,
}

// DomainScore is the trust record for one domain. Created lazily at the
// 0.5 baseline on first reference.
type DomainScore struct {
	Domain           string    `json:"domain"`
	Score            float64   `json:"score"`
	TotalClosures    int       `json:"total_closures"`
	TotalReopens     int       `json:"total_reopens"`
	ConfidentActions int       `json:"confident_actions"`
	ConfidentReverts int       `json:"confident_reverts"`
	LastUpdated      time.Time `json:"last_updated"`
}

// PendingReward is a provisional success awaiting maturation. It transitions
// exactly once, to cancelled or matured, and is immutable afterward.
type PendingReward struct {
	RewardID   string    `json:"reward_id"`
	ActionID   string    `json:"action_id"`
	Domain     string    `json:"domain"`
	Confidence float64   `json:"confidence"`
	RecordedAt time.Time `json:"recorded_at"`
	MatureAt   time.Time `json:"mature_at"`
	Cancelled  bool      `json:"cancelled"`
	Matured    bool      `json:"matured"`
}

// Ledger maintains per-domain trust scores and the pending-reward state
// machine, persisting through the state store so a restart resumes where
// the process left off.
type Ledger struct {
	mu     sync.Mutex
	store  state.Store
	ladder *Ladder
	window time.Duration // maturation window
	logger *slog.Logger
	clock  func() time.Time
}

// NewLedger creates a ledger over the given store using profile thresholds.
func NewLedger(store state.Store, cfg config.LadderConfig) *Ledger {
	window := time.Duration(cfg.MaturationDays) * 24 * time.Hour
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	return &Ledger{
		store:  store,
		ladder: NewLadder(cfg),
		window: window,
		logger: slog.Default().With("component", "reputation"),
		clock:  time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// DomainScore returns the trust record for the domain, lazily creating the
// 0.5 baseline. Malformed persisted state resets to the default; this path
// never fails.
func (l *Ledger) DomainScore(ctx context.Context, domain string) DomainScore {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadScore(ctx, domain)
}

func (l *Ledger) loadScore(ctx context.Context, domain string) DomainScore {
	ds := DomainScore{Domain: domain, Score: 0.5}
	l.store.Get(ctx, scoreKeyPrefix+domain, &ds)
	if ds.Score < 0 || ds.Score > 1 {
		l.logger.WarnContext(ctx, "persisted score out of range, resetting", "domain", domain, "score", ds.Score)
		ds = DomainScore{Domain: domain, Score: 0.5}
	}
	ds.Domain = domain
	return ds
}

// AllowedLevel returns the highest autonomy level the domain's current
// score supports. Never below L0.
func (l *Ledger) AllowedLevel(ctx context.Context, domain string) AutonomyLevel {
	return l.ladder.LevelFor(l.DomainScore(ctx, domain).Score)
}

// UpdateScore applies an outcome event to the domain. The fixed event delta
// is scaled by 0.5 + confidence*0.5 and the result clamped to [0,1].
func (l *Ledger) UpdateScore(ctx context.Context, domain string, event OutcomeEvent, confidence float64) (DomainScore, error) {
	delta, ok := eventDeltas[event]
	if !ok {
		return DomainScore{}, fmt.Errorf("unknown outcome event %q", event)
	}
	confidence = clamp01(confidence)

	l.mu.Lock()
	defer l.mu.Unlock()

	ds := l.loadScore(ctx, domain)
	ds.Score = clamp01(ds.Score + delta*(0.5+confidence*0.5))
	ds.LastUpdated = l.clock()

	switch event {
	case EventSuccessfulClosure:
		ds.TotalClosures++
	case EventReopen:
		ds.TotalReopens++
	case EventConfidentRevert:
		ds.ConfidentReverts++
	}
	if confidence >= 0.8 {
		ds.ConfidentActions++
	}

	if err := l.store.Set(ctx, scoreKeyPrefix+domain, ds); err != nil {
		return DomainScore{}, fmt.Errorf("failed to persist score for %q: %w", domain, err)
	}
	return ds, nil
}

// SetScore pins a domain score directly. Used by maintenance decay; the
// clamp still applies.
func (l *Ledger) SetScore(ctx context.Context, domain string, score float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ds := l.loadScore(ctx, domain)
	ds.Score = clamp01(score)
	ds.LastUpdated = l.clock()
	return l.store.Set(ctx, scoreKeyPrefix+domain, ds)
}

// Domains lists every domain with a persisted score.
func (l *Ledger) Domains(ctx context.Context) ([]DomainScore, error) {
	raw, err := l.store.GetPrefix(ctx, scoreKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}
	out := make([]DomainScore, 0, len(raw))
	for key := range raw {
		domain := key[len(scoreKeyPrefix):]
		out = append(out, l.DomainScore(ctx, domain))
	}
	return out, nil
}

// GlobalScore is the activity-weighted average across domains, where a
// domain's weight is max(1, total_closures). An empty ledger reports the
// 0.5 baseline.
func (l *Ledger) GlobalScore(ctx context.Context) float64 {
	domains, err := l.Domains(ctx)
	if err != nil || len(domains) == 0 {
		return 0.5
	}
	var weighted, total float64
	for _, ds := range domains {
		w := float64(ds.TotalClosures)
		if w < 1 {
			w = 1
		}
		weighted += ds.Score * w
		total += w
	}
	return weighted / total
}

// RecordProvisionalSuccess creates a pending reward that matures after the
// maturation window unless cancelled first. Re-recording the same action_id
// returns the existing reward unchanged.
func (l *Ledger) RecordProvisionalSuccess(ctx context.Context, actionID, domain string, confidence float64) (PendingReward, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := rewardKeyPrefix + actionID
	var existing PendingReward
	if l.store.Get(ctx, key, &existing) && existing.ActionID == actionID {
		return existing, nil
	}

	now := l.clock()
	reward := PendingReward{
		RewardID:   uuid.New().String(),
		ActionID:   actionID,
		Domain:     domain,
		Confidence: clamp01(confidence),
		RecordedAt: now,
		MatureAt:   now.Add(l.window),
	}
	if err := l.store.Set(ctx, key, reward); err != nil {
		return PendingReward{}, fmt.Errorf("failed to record provisional success for %q: %w", actionID, err)
	}
	return reward, nil
}

// CancelPendingReward marks the reward cancelled. When applyReopen is set,
// the reopen penalty lands immediately. Cancelling an already-settled
// reward is a no-op.
func (l *Ledger) CancelPendingReward(ctx context.Context, actionID string, applyReopen bool) (bool, error) {
	l.mu.Lock()

	key := rewardKeyPrefix + actionID
	var reward PendingReward
	if !l.store.Get(ctx, key, &reward) {
		l.mu.Unlock()
		return false, nil
	}
	if reward.Cancelled || reward.Matured {
		l.mu.Unlock()
		return false, nil
	}

	reward.Cancelled = true
	if err := l.store.Set(ctx, key, reward); err != nil {
		l.mu.Unlock()
		return false, fmt.Errorf("failed to cancel reward for %q: %w", actionID, err)
	}
	l.mu.Unlock()

	if applyReopen {
		if _, err := l.UpdateScore(ctx, reward.Domain, EventReopen, reward.Confidence); err != nil {
			return true, err
		}
	}
	return true, nil
}

// ReopenAction cancels the action's pending reward and applies the reopen
// penalty, or the steeper confident-revert penalty when the caller asserts
// the outcome was wrong. Reopening an unknown or already-settled action is a
// no-op, so repeated reopen calls cannot stack penalties.
func (l *Ledger) ReopenAction(ctx context.Context, actionID string, confident bool) (bool, error) {
	if !confident {
		return l.CancelPendingReward(ctx, actionID, true)
	}
	cancelled, err := l.CancelPendingReward(ctx, actionID, false)
	if err != nil || !cancelled {
		return cancelled, err
	}
	var reward PendingReward
	if !l.store.Get(ctx, rewardKeyPrefix+actionID, &reward) {
		return true, nil
	}
	if _, err := l.UpdateScore(ctx, reward.Domain, EventConfidentRevert, reward.Confidence); err != nil {
		return true, err
	}
	return true, nil
}

// MaturePendingRewards applies the closure adjustment to every uncancelled,
// unmatured reward past its mature_at. Idempotent: settled rewards are
// skipped. Returns the number matured. Intended to run at startup and
// periodically.
func (l *Ledger) MaturePendingRewards(ctx context.Context) (int, error) {
	rewards, err := l.PendingRewards(ctx)
	if err != nil {
		return 0, err
	}

	now := l.clock()
	matured := 0
	for _, reward := range rewards {
		if reward.Cancelled || reward.Matured || now.Before(reward.MatureAt) {
			continue
		}

		l.mu.Lock()
		// Re-read under the lock; a concurrent cancel may have won.
		key := rewardKeyPrefix + reward.ActionID
		var current PendingReward
		if !l.store.Get(ctx, key, &current) || current.Cancelled || current.Matured {
			l.mu.Unlock()
			continue
		}
		current.Matured = true
		if err := l.store.Set(ctx, key, current); err != nil {
			l.mu.Unlock()
			return matured, fmt.Errorf("failed to mature reward for %q: %w", reward.ActionID, err)
		}
		l.mu.Unlock()

		if _, err := l.UpdateScore(ctx, current.Domain, EventSuccessfulClosure, current.Confidence); err != nil {
			return matured, err
		}
		matured++
	}
	if matured > 0 {
		l.logger.InfoContext(ctx, "matured pending rewards", "count", matured)
	}
	return matured, nil
}

// PendingRewards lists every recorded reward, settled or not.
func (l *Ledger) PendingRewards(ctx context.Context) ([]PendingReward, error) {
	raw, err := l.store.GetPrefix(ctx, rewardKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}
	out := make([]PendingReward, 0, len(raw))
	for key := range raw {
		actionID := key[len(rewardKeyPrefix):]
		var reward PendingReward
		if l.store.Get(ctx, rewardKeyPrefix+actionID, &reward) {
			out = append(out, reward)
		}
	}
	return out, nil
}

// HasUnsettledRewards reports whether any reward is still awaiting
// maturation or cancellation.
func (l *Ledger) HasUnsettledRewards(ctx context.Context) bool {
	rewards, err := l.PendingRewards(ctx)
	if err != nil {
		return false
	}
	for _, r := range rewards {
		if !r.Cancelled && !r.Matured {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
