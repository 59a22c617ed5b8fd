// Package surfacing buffers, deduplicates, and rate-limits what gets shown
// to a human. Events wait in a priority buffer until the quiet-mode decision
// lets them surface.
package surfacing

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one buffered insight awaiting surfacing.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Priority  int            `json:"priority"` // 0-100
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DedupeKey string         `json:"dedupe_key,omitempty"`
}

// Buffer keeps events sorted by (priority desc, updated_at desc), capped at
// a fixed size. At most one live event exists per non-empty dedupe key.
type Buffer struct {
	mu     sync.Mutex
	events []Event
	max    int
	clock  func() time.Time
}

// NewBuffer creates a buffer with the given cap.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = 200
	}
	return &Buffer{max: max, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (b *Buffer) WithClock(clock func() time.Time) *Buffer {
	b.clock = clock
	return b
}

// Enqueue adds an event or, when an event with the same dedupe key is live,
// refreshes it in place (payload, priority, timestamp) instead of
// duplicating. The buffer is re-sorted and trimmed to its cap.
func (b *Buffer) Enqueue(eventType string, payload map[string]any, priority int, dedupeKey string) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	if dedupeKey != "" {
		for i := range b.events {
			if b.events[i].DedupeKey == dedupeKey {
				b.events[i].Type = eventType
				b.events[i].Payload = payload
				b.events[i].Priority = priority
				b.events[i].UpdatedAt = now
				// Copy before trimming: at cap the refreshed event can
				// itself be evicted.
				updated := b.events[i]
				b.sortAndTrim()
				return updated
			}
		}
	}

	event := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Priority:  priority,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
		DedupeKey: dedupeKey,
	}
	b.events = append(b.events, event)
	b.sortAndTrim()
	return event
}

// Pop atomically removes and returns up to maxItems events matching the
// filters, highest priority first. An empty typeFilter matches everything.
func (b *Buffer) Pop(maxItems int, typeFilter string, minPriority int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var picked []Event
	var rest []Event
	for _, event := range b.events {
		matches := len(picked) < maxItems &&
			(typeFilter == "" || event.Type == typeFilter) &&
			event.Priority >= minPriority
		if matches {
			picked = append(picked, event)
		} else {
			rest = append(rest, event)
		}
	}
	b.events = rest
	return picked
}

// Len reports the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Peek returns a copy of the buffered events without removing them.
func (b *Buffer) Peek() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// sortAndTrim re-establishes ordering and the cap; callers hold the lock.
func (b *Buffer) sortAndTrim() {
	sort.SliceStable(b.events, func(i, j int) bool {
		if b.events[i].Priority != b.events[j].Priority {
			return b.events[i].Priority > b.events[j].Priority
		}
		return b.events[i].UpdatedAt.After(b.events[j].UpdatedAt)
	})
	if len(b.events) > b.max {
		b.events = b.events[:b.max]
	}
}
