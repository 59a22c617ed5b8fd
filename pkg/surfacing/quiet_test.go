package surfacing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-sh/steward/pkg/config"
	"github.com/steward-sh/steward/pkg/state"
)

func quietConfig() config.QuietModeConfig {
	return config.DefaultProfile().QuietMode
}

func TestMemoryWindowCounts(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	w := NewMemoryWindow(time.Hour).WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, w.Record(ctx))
	now = now.Add(10 * time.Minute)
	require.NoError(t, w.Record(ctx))

	count, err := w.CountLast(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	now = now.Add(2 * time.Hour)
	count, err = w.CountLast(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestFeedbackNegativeRate(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	f := NewFeedbackTracker(store)

	assert.Zero(t, f.NegativeRate(ctx))

	require.NoError(t, f.Record(ctx, "e1", TagHelpful))
	require.NoError(t, f.Record(ctx, "e2", TagDistracting))
	require.NoError(t, f.Record(ctx, "e3", TagWrong))
	require.NoError(t, f.Record(ctx, "e4", TagNeutral))

	assert.InDelta(t, 0.5, f.NegativeRate(ctx), 1e-9)

	// A fresh tracker over the same store sees the persisted tail.
	again := NewFeedbackTracker(store)
	assert.InDelta(t, 0.5, again.NegativeRate(ctx), 1e-9)
}

func TestFeedbackWindowKeepsRecentTail(t *testing.T) {
	ctx := context.Background()
	f := NewFeedbackTracker(state.NewMemoryStore())

	for i := 0; i < feedbackWindow; i++ {
		require.NoError(t, f.Record(ctx, "old", TagWrong))
	}
	for i := 0; i < feedbackWindow; i++ {
		require.NoError(t, f.Record(ctx, "new", TagHelpful))
	}
	assert.Zero(t, f.NegativeRate(ctx))
}

func TestQuietScoreIdleTrustedAgent(t *testing.T) {
	ctx := context.Background()
	c := NewCalculator(quietConfig(), NewMemoryWindow(time.Hour), NewFeedbackTracker(state.NewMemoryStore()))

	score := c.Score(ctx, 1.0, "")
	assert.InDelta(t, 0, score, 1e-9)
	assert.Equal(t, ModeNormal, c.Decide(ctx, 1.0, ""))
}

func TestQuietScoreBusyDistrustedAgent(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWindow(time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, w.Record(ctx))
	}
	f := NewFeedbackTracker(state.NewMemoryStore())
	require.NoError(t, f.Record(ctx, "e1", TagWrong))

	c := NewCalculator(quietConfig(), w, f)
	score := c.Score(ctx, 0.0, "prod incident, all hands")

	// 0.30*1 + 0.25*1 + 0.25*1 + 0.20*1
	assert.InDelta(t, 1.0, score, 1e-9)
	assert.Equal(t, ModeCriticalOnly, c.Decide(ctx, 0.0, "prod incident, all hands"))
}

func TestQuietThresholds(t *testing.T) {
	ctx := context.Background()
	c := NewCalculator(quietConfig(), NewMemoryWindow(time.Hour), NewFeedbackTracker(state.NewMemoryStore()))

	// reputation term only: 0.30*(1-rep)
	assert.Equal(t, ModeNormal, c.Decide(ctx, 0.0, ""))

	// busyness pushes past the quiet line: 0.30 + 0.20 = 0.50 still normal,
	// add frequency to cross it.
	w := NewMemoryWindow(time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Record(ctx))
	}
	c2 := NewCalculator(quietConfig(), w, NewFeedbackTracker(state.NewMemoryStore()))
	assert.Equal(t, ModeQuiet, c2.Decide(ctx, 0.0, "oncall this week"))
}

func TestQuietOverrideWinsAndExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewCalculator(quietConfig(), NewMemoryWindow(time.Hour), NewFeedbackTracker(state.NewMemoryStore())).
		WithClock(func() time.Time { return now })

	c.SetOverride(ModeCriticalOnly, time.Hour)
	assert.Equal(t, ModeCriticalOnly, c.Decide(ctx, 1.0, ""))

	now = now.Add(2 * time.Hour)
	assert.Equal(t, ModeNormal, c.Decide(ctx, 1.0, ""))
}

func TestAllows(t *testing.T) {
	assert.True(t, Allows(ModeNormal, 0))
	assert.False(t, Allows(ModeQuiet, 100))
	assert.False(t, Allows(ModeCriticalOnly, 89))
	assert.True(t, Allows(ModeCriticalOnly, 90))
}
