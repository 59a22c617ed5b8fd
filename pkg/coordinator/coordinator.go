// Package coordinator runs the session-start briefing and tracks retrieval
// reinforcement. Both entry points funnel through one cached core so
// concurrent callers never duplicate the startup probes.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/steward-sh/steward/pkg/skill"
	"github.com/steward-sh/steward/pkg/state"
	"github.com/steward-sh/steward/pkg/surfacing"
)

const (
	briefingTTL  = 180 * time.Second
	probeTimeout = 2 * time.Second
	maxDecisions = 5
	maxStale     = 5

	// ReinforceCooldownPrefix namespaces per-artifact reinforcement
	// cooldown timestamps in the state store.
	ReinforceCooldownPrefix = "coordinator/reinforce/"

	// ReinforceCooldown is the per-artifact minimum gap between
	// reinforcement bumps.
	ReinforceCooldown = 60 * time.Minute

	maxReinforcePerCall = 3
	staleFactAge        = 30 * 24 * time.Hour

	decisionReviewPriority = 60
	staleFactPriority      = 40
)

// ReviewItem is one artifact the briefing flags for human attention.
type ReviewItem struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Summary   string    `json:"summary"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReviewSource supplies artifacts needing review. Probes run under a short
// deadline; a slow or failing source degrades the briefing, never blocks it.
type ReviewSource interface {
	PendingDecisions(ctx context.Context, limit int) ([]ReviewItem, error)
	StaleFacts(ctx context.Context, olderThan time.Duration, limit int) ([]ReviewItem, error)
}

// Briefing is the session-start summary.
type Briefing struct {
	StartedAt        time.Time    `json:"started_at"`
	Cached           bool         `json:"cached"`
	PendingDecisions []ReviewItem `json:"pending_decisions,omitempty"`
	StaleFacts       []ReviewItem `json:"stale_facts,omitempty"`
	Notes            []string     `json:"notes,omitempty"`
}

// Coordinator serializes session startup and throttles reinforcement.
type Coordinator struct {
	store     state.Store
	source    ReviewSource
	artifacts skill.ArtifactStore
	buffer    *surfacing.Buffer
	sem       *semaphore.Weighted
	limiter   *rate.Limiter
	logger    *slog.Logger
	clock     func() time.Time

	cacheMu  sync.Mutex
	cached   *Briefing
	cachedAt time.Time
}

// New creates a coordinator. source and artifacts may be nil when the
// consuming runtime does not wire them; the affected features degrade.
func New(store state.Store, source ReviewSource, artifacts skill.ArtifactStore) *Coordinator {
	return &Coordinator{
		store:     store,
		source:    source,
		artifacts: artifacts,
		sem:       semaphore.NewWeighted(1),
		limiter:   rate.NewLimiter(rate.Every(10*time.Second), 5),
		logger:    slog.Default().With("component", "coordinator"),
		clock:     time.Now,
	}
}

// WithBuffer routes briefing review items into the surfacing buffer so they
// reach the user through the normal surfacing path.
func (c *Coordinator) WithBuffer(buffer *surfacing.Buffer) *Coordinator {
	c.buffer = buffer
	return c
}

// WithClock overrides the clock for deterministic testing.
func (c *Coordinator) WithClock(clock func() time.Time) *Coordinator {
	c.clock = clock
	return c
}

// EnsureSessionStarted runs (or returns the cached) session briefing. It
// respects ctx cancellation while waiting its turn.
func (c *Coordinator) EnsureSessionStarted(ctx context.Context) (Briefing, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return Briefing{}, fmt.Errorf("session start wait: %w", err)
	}
	defer c.sem.Release(1)
	return c.ensure(ctx), nil
}

// EnsureSessionStartedBlocking is the uncancellable variant for callers
// without a context. It shares the same gate and cache.
func (c *Coordinator) EnsureSessionStartedBlocking() Briefing {
	// Acquire with Background never fails.
	_ = c.sem.Acquire(context.Background(), 1)
	defer c.sem.Release(1)
	return c.ensure(context.Background())
}

func (c *Coordinator) ensure(ctx context.Context) Briefing {
	now := c.clock()

	c.cacheMu.Lock()
	if c.cached != nil && now.Sub(c.cachedAt) < briefingTTL {
		b := *c.cached
		b.Cached = true
		c.cacheMu.Unlock()
		return b
	}
	c.cacheMu.Unlock()

	b := Briefing{StartedAt: now}
	if c.source == nil {
		b.Notes = append(b.Notes, "no review source configured")
	} else {
		b.PendingDecisions, b.Notes = c.probe(ctx, b.Notes, "pending decisions",
			func(pctx context.Context) ([]ReviewItem, error) {
				return c.source.PendingDecisions(pctx, maxDecisions)
			})
		b.StaleFacts, b.Notes = c.probe(ctx, b.Notes, "stale facts",
			func(pctx context.Context) ([]ReviewItem, error) {
				return c.source.StaleFacts(pctx, staleFactAge, maxStale)
			})
	}

	c.surface(b)

	c.cacheMu.Lock()
	c.cached = &b
	c.cachedAt = now
	c.cacheMu.Unlock()

	c.logger.Info("session briefing built",
		"pending_decisions", len(b.PendingDecisions),
		"stale_facts", len(b.StaleFacts),
		"degraded", len(b.Notes) > 0)
	return b
}

// surface enqueues the briefing's review items. Dedupe keys are per
// artifact, so a rebuilt briefing refreshes events instead of stacking
// duplicates. A coordinator without a buffer skips this quietly.
func (c *Coordinator) surface(b Briefing) {
	if c.buffer == nil {
		return
	}
	for _, item := range b.PendingDecisions {
		c.buffer.Enqueue("decision_review", map[string]any{
			"artifact_id": item.ID,
			"summary":     item.Summary,
		}, decisionReviewPriority, "briefing:decision:"+item.ID)
	}
	for _, item := range b.StaleFacts {
		c.buffer.Enqueue("stale_fact", map[string]any{
			"artifact_id": item.ID,
			"summary":     item.Summary,
		}, staleFactPriority, "briefing:stale:"+item.ID)
	}
}

// probe runs one briefing lookup under the short deadline. Failure degrades
// to no data plus a note.
func (c *Coordinator) probe(ctx context.Context, notes []string, what string, fn func(context.Context) ([]ReviewItem, error)) ([]ReviewItem, []string) {
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	items, err := fn(pctx)
	if err != nil {
		c.logger.Warn("briefing probe degraded", "probe", what, "error", err)
		return nil, append(notes, fmt.Sprintf("%s unavailable: %v", what, err))
	}
	return items, notes
}

// InvalidateBriefing drops the cached briefing so the next call rebuilds it.
func (c *Coordinator) InvalidateBriefing() {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cached = nil
}

// TrackRetrieval bumps reinforcement counters for retrieved facts. At most
// three artifacts are reinforced per call, each at most once per cooldown
// window, under a global rate limit. Retrievals attributed to proactive
// recall never reinforce. Returns how many artifacts were bumped.
func (c *Coordinator) TrackRetrieval(ctx context.Context, results []skill.SearchResult, source string) int {
	if source == "proactive_recall" || c.artifacts == nil {
		return 0
	}

	reinforced := 0
	for _, result := range results {
		if reinforced >= maxReinforcePerCall {
			break
		}
		if result.Type != "fact" || result.ID == "" {
			continue
		}
		if c.onCooldown(ctx, result.ID) {
			continue
		}
		if !c.limiter.Allow() {
			c.logger.Debug("reinforcement rate limited", "artifact", result.ID)
			break
		}
		if err := c.artifacts.IncrementReinforcement(ctx, result.ID); err != nil {
			c.logger.Warn("reinforcement failed", "artifact", result.ID, "error", err)
			continue
		}
		if err := c.store.Set(ctx, ReinforceCooldownPrefix+result.ID, c.clock()); err != nil {
			c.logger.Warn("cooldown record failed", "artifact", result.ID, "error", err)
		}
		reinforced++
	}
	return reinforced
}

func (c *Coordinator) onCooldown(ctx context.Context, artifactID string) bool {
	var last time.Time
	if !c.store.Get(ctx, ReinforceCooldownPrefix+artifactID, &last) {
		return false
	}
	return c.clock().Sub(last) < ReinforceCooldown
}
