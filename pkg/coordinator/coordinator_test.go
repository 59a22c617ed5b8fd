package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-sh/steward/pkg/skill"
	"github.com/steward-sh/steward/pkg/state"
	"github.com/steward-sh/steward/pkg/surfacing"
)

type fakeSource struct {
	mu        sync.Mutex
	calls     int
	decisions []ReviewItem
	stale     []ReviewItem
	err       error
	delay     time.Duration
}

func (f *fakeSource) PendingDecisions(ctx context.Context, limit int) ([]ReviewItem, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(f.decisions) > limit {
		return f.decisions[:limit], nil
	}
	return f.decisions, nil
}

func (f *fakeSource) StaleFacts(ctx context.Context, olderThan time.Duration, limit int) ([]ReviewItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.stale) > limit {
		return f.stale[:limit], nil
	}
	return f.stale, nil
}

type fakeArtifacts struct {
	mu         sync.Mutex
	reinforced []string
	err        error
}

func (f *fakeArtifacts) StoreFact(ctx context.Context, fact skill.Fact) (skill.StoreResult, error) {
	return skill.StoreResult{Success: true}, nil
}

func (f *fakeArtifacts) StoreDecision(ctx context.Context, d skill.Decision) (skill.StoreResult, error) {
	return skill.StoreResult{Success: true}, nil
}

func (f *fakeArtifacts) DeleteArtifact(ctx context.Context, id, reason string, force bool) (skill.StoreResult, error) {
	return skill.StoreResult{Success: true}, nil
}

func (f *fakeArtifacts) GetArtifact(ctx context.Context, id string) (map[string]any, bool, error) {
	return nil, false, nil
}

func (f *fakeArtifacts) IncrementReinforcement(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.reinforced = append(f.reinforced, id)
	return nil
}

func TestSessionBriefingCachesWithinTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	src := &fakeSource{decisions: []ReviewItem{{ID: "d1", Kind: "decision"}}}
	c := New(state.NewMemoryStore(), src, nil).WithClock(func() time.Time { return now })

	first, err := c.EnsureSessionStarted(ctx)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	require.Len(t, first.PendingDecisions, 1)

	second, err := c.EnsureSessionStarted(ctx)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, src.calls)

	// TTL expiry forces a rebuild.
	now = now.Add(4 * time.Minute)
	third, err := c.EnsureSessionStarted(ctx)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, 2, src.calls)
}

func TestSessionBriefingDegradesOnProbeFailure(t *testing.T) {
	src := &fakeSource{err: errors.New("index offline")}
	c := New(state.NewMemoryStore(), src, nil)

	b, err := c.EnsureSessionStarted(context.Background())
	require.NoError(t, err)
	assert.Empty(t, b.PendingDecisions)
	assert.Empty(t, b.StaleFacts)
	require.Len(t, b.Notes, 2)
	assert.Contains(t, b.Notes[0], "pending decisions unavailable")
}

func TestSessionBriefingProbeTimeout(t *testing.T) {
	src := &fakeSource{delay: 5 * time.Second}
	c := New(state.NewMemoryStore(), src, nil)

	start := time.Now()
	b, err := c.EnsureSessionStarted(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Empty(t, b.PendingDecisions)
	assert.NotEmpty(t, b.Notes)
}

func TestSessionStartSingleFlight(t *testing.T) {
	src := &fakeSource{}
	c := New(state.NewMemoryStore(), src, nil)

	var wg sync.WaitGroup
	var cachedCount atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := c.EnsureSessionStarted(context.Background())
			assert.NoError(t, err)
			if b.Cached {
				cachedCount.Add(1)
			}
		}()
	}
	wg.Wait()

	// Exactly one caller built the briefing; everyone else hit the cache.
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, int32(7), cachedCount.Load())
}

func TestBlockingVariantSharesCache(t *testing.T) {
	src := &fakeSource{}
	c := New(state.NewMemoryStore(), src, nil)

	first := c.EnsureSessionStartedBlocking()
	assert.False(t, first.Cached)

	second, err := c.EnsureSessionStarted(context.Background())
	require.NoError(t, err)
	assert.True(t, second.Cached)
}

func TestBriefingEnqueuesReviewItems(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	src := &fakeSource{
		decisions: []ReviewItem{{ID: "d1", Kind: "decision", Summary: "rollout plan"}},
		stale:     []ReviewItem{{ID: "f1", Kind: "fact", Summary: "old deploy window"}},
	}
	buffer := surfacing.NewBuffer(0)
	c := New(state.NewMemoryStore(), src, nil).
		WithBuffer(buffer).
		WithClock(func() time.Time { return now })

	_, err := c.EnsureSessionStarted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, buffer.Len())

	// A cached call enqueues nothing new.
	_, err = c.EnsureSessionStarted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, buffer.Len())

	// A rebuild refreshes the dedupe-keyed events instead of stacking them.
	now = now.Add(4 * time.Minute)
	_, err = c.EnsureSessionStarted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, buffer.Len())

	events := buffer.Peek()
	assert.Equal(t, "decision_review", events[0].Type)
	assert.Equal(t, "d1", events[0].Payload["artifact_id"])
	assert.Equal(t, "stale_fact", events[1].Type)
}

func TestTrackRetrievalReinforces(t *testing.T) {
	ctx := context.Background()
	arts := &fakeArtifacts{}
	c := New(state.NewMemoryStore(), nil, arts)

	results := []skill.SearchResult{
		{ID: "f1", Type: "fact"},
		{ID: "d1", Type: "decision"},
		{ID: "f2", Type: "fact"},
	}
	n := c.TrackRetrieval(ctx, results, "search")
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"f1", "f2"}, arts.reinforced)
}

func TestTrackRetrievalSkipsProactiveRecall(t *testing.T) {
	arts := &fakeArtifacts{}
	c := New(state.NewMemoryStore(), nil, arts)

	n := c.TrackRetrieval(context.Background(), []skill.SearchResult{{ID: "f1", Type: "fact"}}, "proactive_recall")
	assert.Zero(t, n)
	assert.Empty(t, arts.reinforced)
}

func TestTrackRetrievalPerCallCap(t *testing.T) {
	arts := &fakeArtifacts{}
	c := New(state.NewMemoryStore(), nil, arts)

	var results []skill.SearchResult
	for _, id := range []string{"f1", "f2", "f3", "f4", "f5"} {
		results = append(results, skill.SearchResult{ID: id, Type: "fact"})
	}
	n := c.TrackRetrieval(context.Background(), results, "search")
	assert.Equal(t, 3, n)
}

func TestTrackRetrievalCooldown(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	arts := &fakeArtifacts{}
	c := New(state.NewMemoryStore(), nil, arts).WithClock(func() time.Time { return now })

	results := []skill.SearchResult{{ID: "f1", Type: "fact"}}
	assert.Equal(t, 1, c.TrackRetrieval(ctx, results, "search"))
	assert.Equal(t, 0, c.TrackRetrieval(ctx, results, "search"))

	now = now.Add(ReinforceCooldown + time.Minute)
	assert.Equal(t, 1, c.TrackRetrieval(ctx, results, "search"))
}
