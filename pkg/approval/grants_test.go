package approval

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-sh/steward/pkg/state"
)

func newTestGrants(t *testing.T) (*Grants, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g, err := NewGrants(state.NewMemoryStore(), []byte("test-signing-key"))
	require.NoError(t, err)
	g.WithClock(func() time.Time { return now })
	return g, &now
}

func TestIssueAndConsume(t *testing.T) {
	g, _ := newTestGrants(t)
	ctx := context.Background()

	_, err := g.Issue(ctx, "act-1", "operator", time.Hour)
	require.NoError(t, err)
	assert.True(t, g.Active(ctx, "act-1"))

	ok, err := g.Consume(ctx, "act-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Single use: a second consume loses.
	ok, err = g.Consume(ctx, "act-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, g.Active(ctx, "act-1"))
}

func TestExpiredGrantNotActive(t *testing.T) {
	g, now := newTestGrants(t)
	ctx := context.Background()

	_, err := g.Issue(ctx, "act-1", "operator", time.Minute)
	require.NoError(t, err)

	*now = now.Add(2 * time.Minute)
	assert.False(t, g.Active(ctx, "act-1"))

	ok, err := g.Consume(ctx, "act-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConsumeRaceSingleWinner(t *testing.T) {
	g, _ := newTestGrants(t)
	ctx := context.Background()

	_, err := g.Issue(ctx, "act-1", "operator", time.Hour)
	require.NoError(t, err)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := g.Consume(ctx, "act-1")
			require.NoError(t, err)
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestForgedTokenRejected(t *testing.T) {
	store := state.NewMemoryStore()
	g, err := NewGrants(store, []byte("real-key"))
	require.NoError(t, err)
	ctx := context.Background()

	// A grant signed under a different key, planted directly in the store.
	forger, err := NewGrants(state.NewMemoryStore(), []byte("attacker-key"))
	require.NoError(t, err)
	forged, err := forger.Issue(ctx, "act-1", "attacker", time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "approval/grants/act-1", forged))

	assert.False(t, g.Active(ctx, "act-1"))
}

func TestPurgeExpired(t *testing.T) {
	g, now := newTestGrants(t)
	ctx := context.Background()

	_, err := g.Issue(ctx, "old", "operator", time.Minute)
	require.NoError(t, err)
	_, err = g.Issue(ctx, "fresh", "operator", time.Hour)
	require.NoError(t, err)

	*now = now.Add(10 * time.Minute)
	removed, err := g.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.True(t, g.Active(ctx, "fresh"))
}
