package surfacing

import (
	"context"
	"sync"
	"time"

	"github.com/steward-sh/steward/pkg/state"
)

// Tag is an explicit human reaction to a surfaced event.
type Tag string

const (
	TagHelpful     Tag = "helpful"
	TagNeutral     Tag = "neutral"
	TagDistracting Tag = "distracting"
	TagWrong       Tag = "wrong"
)

const (
	feedbackKey    = "surfacing/feedback"
	feedbackWindow = 50
)

type feedbackEntry struct {
	EventID string    `json:"event_id"`
	Tag     Tag       `json:"tag"`
	At      time.Time `json:"at"`
}

// FeedbackTracker keeps the rolling tail of explicit feedback and derives
// the negative-feedback rate used by the quiet-mode calculator. The tail is
// persisted so the rate survives restarts.
type FeedbackTracker struct {
	mu      sync.Mutex
	store   state.Store
	entries []feedbackEntry
	loaded  bool
	clock   func() time.Time
}

// NewFeedbackTracker creates a tracker backed by the given store.
func NewFeedbackTracker(store state.Store) *FeedbackTracker {
	return &FeedbackTracker{store: store, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (f *FeedbackTracker) WithClock(clock func() time.Time) *FeedbackTracker {
	f.clock = clock
	return f
}

// Record stores one feedback tag, keeping only the most recent entries.
func (f *FeedbackTracker) Record(ctx context.Context, eventID string, tag Tag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.load(ctx)

	f.entries = append(f.entries, feedbackEntry{EventID: eventID, Tag: tag, At: f.clock()})
	if len(f.entries) > feedbackWindow {
		f.entries = f.entries[len(f.entries)-feedbackWindow:]
	}
	return f.store.Set(ctx, feedbackKey, f.entries)
}

// NegativeRate returns the fraction of recent feedback tagged distracting or
// wrong. With no feedback on record the rate is zero.
func (f *FeedbackTracker) NegativeRate(ctx context.Context) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.load(ctx)

	if len(f.entries) == 0 {
		return 0
	}
	negative := 0
	for _, e := range f.entries {
		if e.Tag == TagDistracting || e.Tag == TagWrong {
			negative++
		}
	}
	return float64(negative) / float64(len(f.entries))
}

// load hydrates the tail from the store once; callers hold the lock.
func (f *FeedbackTracker) load(ctx context.Context) {
	if f.loaded {
		return
	}
	f.loaded = true
	var entries []feedbackEntry
	if f.store.Get(ctx, feedbackKey, &entries) {
		f.entries = entries
	}
}
