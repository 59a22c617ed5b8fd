package reputation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-sh/steward/pkg/config"
	"github.com/steward-sh/steward/pkg/state"
)

func newTestLedger(t *testing.T) (*Ledger, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLedger(state.NewMemoryStore(), config.DefaultProfile().Ladder)
	l.WithClock(func() time.Time { return now })
	return l, &now
}

func TestDomainScoreLazyDefault(t *testing.T) {
	l, _ := newTestLedger(t)
	ds := l.DomainScore(context.Background(), "incident_rca")
	assert.Equal(t, 0.5, ds.Score)
	assert.Equal(t, "incident_rca", ds.Domain)
}

func TestUpdateScoreDeltas(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	// Full confidence scales the delta by 1.0.
	ds, err := l.UpdateScore(ctx, "d", EventSuccessfulClosure, 1.0)
	require.NoError(t, err)
	assert.InDelta(t, 0.52, ds.Score, 1e-9)
	assert.Equal(t, 1, ds.TotalClosures)
	assert.Equal(t, 1, ds.ConfidentActions)

	// Zero confidence scales by 0.5.
	ds, err = l.UpdateScore(ctx, "d", EventReopen, 0.0)
	require.NoError(t, err)
	assert.InDelta(t, 0.48, ds.Score, 1e-9)
	assert.Equal(t, 1, ds.TotalReopens)
}

func TestUpdateScoreClamped(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := l.UpdateScore(ctx, "d", EventConfidentRevert, 1.0)
		require.NoError(t, err)
	}
	ds := l.DomainScore(ctx, "d")
	assert.Equal(t, 0.0, ds.Score)

	for i := 0; i < 100; i++ {
		_, err := l.UpdateScore(ctx, "d", EventSuccessfulClosure, 1.0)
		require.NoError(t, err)
	}
	ds = l.DomainScore(ctx, "d")
	assert.Equal(t, 1.0, ds.Score)
}

func TestUpdateScoreUnknownEvent(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.UpdateScore(context.Background(), "d", OutcomeEvent("bogus"), 0.5)
	require.Error(t, err)
}

func TestAllowedLevelMonotonic(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	prev := l.AllowedLevel(ctx, "d")
	for i := 0; i < 60; i++ {
		_, err := l.UpdateScore(ctx, "d", EventSuccessfulClosure, 1.0)
		require.NoError(t, err)
		cur := l.AllowedLevel(ctx, "d")
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
	assert.Equal(t, LevelTrusted, prev)
}

func TestGlobalScoreActivityWeighted(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	// Busy domain with 4 closures at a high score, idle domain at baseline.
	for i := 0; i < 4; i++ {
		_, err := l.UpdateScore(ctx, "busy", EventSuccessfulClosure, 1.0)
		require.NoError(t, err)
	}
	_, err := l.UpdateScore(ctx, "idle", EventValidationFailure, 0.0)
	require.NoError(t, err)

	busy := l.DomainScore(ctx, "busy").Score
	idle := l.DomainScore(ctx, "idle").Score
	want := (busy*4 + idle*1) / 5
	assert.InDelta(t, want, l.GlobalScore(ctx), 1e-9)
}

func TestRewardMaturesOnce(t *testing.T) {
	l, now := newTestLedger(t)
	ctx := context.Background()

	_, err := l.RecordProvisionalSuccess(ctx, "act-1", "d", 1.0)
	require.NoError(t, err)

	// Too early: nothing matures.
	n, err := l.MaturePendingRewards(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	*now = now.Add(8 * 24 * time.Hour)
	n, err = l.MaturePendingRewards(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.InDelta(t, 0.52, l.DomainScore(ctx, "d").Score, 1e-9)

	// Idempotent: a second sweep is a no-op.
	n, err = l.MaturePendingRewards(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.InDelta(t, 0.52, l.DomainScore(ctx, "d").Score, 1e-9)
}

func TestCancelThenMatureIsNoop(t *testing.T) {
	l, now := newTestLedger(t)
	ctx := context.Background()

	_, err := l.RecordProvisionalSuccess(ctx, "act-1", "d", 1.0)
	require.NoError(t, err)

	cancelled, err := l.CancelPendingReward(ctx, "act-1", true)
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.InDelta(t, 0.42, l.DomainScore(ctx, "d").Score, 1e-9)

	*now = now.Add(8 * 24 * time.Hour)
	n, err := l.MaturePendingRewards(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Cancelling again is also a no-op.
	cancelled, err = l.CancelPendingReward(ctx, "act-1", true)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestMatureThenCancelIsNoop(t *testing.T) {
	l, now := newTestLedger(t)
	ctx := context.Background()

	_, err := l.RecordProvisionalSuccess(ctx, "act-1", "d", 1.0)
	require.NoError(t, err)

	*now = now.Add(8 * 24 * time.Hour)
	_, err = l.MaturePendingRewards(ctx)
	require.NoError(t, err)
	score := l.DomainScore(ctx, "d").Score

	cancelled, err := l.CancelPendingReward(ctx, "act-1", true)
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, score, l.DomainScore(ctx, "d").Score)
}

func TestReopenActionAppliesPenalty(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.RecordProvisionalSuccess(ctx, "act-1", "d", 1.0)
	require.NoError(t, err)

	cancelled, err := l.ReopenAction(ctx, "act-1", false)
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.InDelta(t, 0.42, l.DomainScore(ctx, "d").Score, 1e-9)

	// Reopening again changes nothing.
	cancelled, err = l.ReopenAction(ctx, "act-1", false)
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.InDelta(t, 0.42, l.DomainScore(ctx, "d").Score, 1e-9)
}

func TestReopenActionConfidentRevert(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.RecordProvisionalSuccess(ctx, "act-1", "d", 1.0)
	require.NoError(t, err)

	cancelled, err := l.ReopenAction(ctx, "act-1", true)
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.InDelta(t, 0.38, l.DomainScore(ctx, "d").Score, 1e-9)
}

func TestReopenActionUnknownIsNoop(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	cancelled, err := l.ReopenAction(ctx, "nope", true)
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, 0.5, l.DomainScore(ctx, "d").Score)
}

func TestRecordProvisionalSuccessIdempotent(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	first, err := l.RecordProvisionalSuccess(ctx, "act-1", "d", 0.9)
	require.NoError(t, err)
	second, err := l.RecordProvisionalSuccess(ctx, "act-1", "d", 0.1)
	require.NoError(t, err)
	assert.Equal(t, first.RewardID, second.RewardID)
	assert.Equal(t, first.Confidence, second.Confidence)
}

func TestHasUnsettledRewards(t *testing.T) {
	l, now := newTestLedger(t)
	ctx := context.Background()

	assert.False(t, l.HasUnsettledRewards(ctx))
	_, err := l.RecordProvisionalSuccess(ctx, "act-1", "d", 1.0)
	require.NoError(t, err)
	assert.True(t, l.HasUnsettledRewards(ctx))

	*now = now.Add(8 * 24 * time.Hour)
	_, err = l.MaturePendingRewards(ctx)
	require.NoError(t, err)
	assert.False(t, l.HasUnsettledRewards(ctx))
}
