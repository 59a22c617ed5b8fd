package surfacing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Window counts recent surfacing events so the quiet-mode calculator can
// back off when the human has been interrupted a lot lately.
type Window interface {
	// Record notes one surfaced event at the current time.
	Record(ctx context.Context) error
	// CountLast returns how many events were recorded within the last d.
	CountLast(ctx context.Context, d time.Duration) (int, error)
}

// MemoryWindow is a process-local Window.
type MemoryWindow struct {
	mu      sync.Mutex
	times   []time.Time
	horizon time.Duration
	clock   func() time.Time
}

// NewMemoryWindow creates a window that forgets events older than horizon.
func NewMemoryWindow(horizon time.Duration) *MemoryWindow {
	if horizon <= 0 {
		horizon = time.Hour
	}
	return &MemoryWindow{horizon: horizon, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (w *MemoryWindow) WithClock(clock func() time.Time) *MemoryWindow {
	w.clock = clock
	return w
}

func (w *MemoryWindow) Record(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.times = append(w.times, w.clock())
	w.prune()
	return nil
}

func (w *MemoryWindow) CountLast(_ context.Context, d time.Duration) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune()
	cutoff := w.clock().Add(-d)
	count := 0
	for _, t := range w.times {
		if !t.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

// prune drops expired entries; callers hold the lock.
func (w *MemoryWindow) prune() {
	cutoff := w.clock().Add(-w.horizon)
	kept := w.times[:0]
	for _, t := range w.times {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	w.times = kept
}

// windowScript records (optionally), expires old members, and counts in one
// round trip so concurrent processes see a consistent window.
var windowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local member = ARGV[2]
local horizon = tonumber(ARGV[3])
local since = tonumber(ARGV[4])
if member ~= "" then
  redis.call("ZADD", key, now, member)
  redis.call("PEXPIRE", key, horizon)
end
redis.call("ZREMRANGEBYSCORE", key, 0, now - horizon)
return redis.call("ZCOUNT", key, since, "+inf")
`)

// RedisWindow is a Window shared across processes via a Redis sorted set.
type RedisWindow struct {
	client  redis.UniversalClient
	key     string
	horizon time.Duration
	clock   func() time.Time
}

// NewRedisWindow creates a shared window under the given key.
func NewRedisWindow(client redis.UniversalClient, key string, horizon time.Duration) *RedisWindow {
	if horizon <= 0 {
		horizon = time.Hour
	}
	if key == "" {
		key = "steward:surfacing:window"
	}
	return &RedisWindow{client: client, key: key, horizon: horizon, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (w *RedisWindow) WithClock(clock func() time.Time) *RedisWindow {
	w.clock = clock
	return w
}

func (w *RedisWindow) Record(ctx context.Context) error {
	now := w.clock().UnixMilli()
	_, err := windowScript.Run(ctx, w.client, []string{w.key},
		now, uuid.New().String(), w.horizon.Milliseconds(), now).Result()
	if err != nil {
		return fmt.Errorf("record surfacing event: %w", err)
	}
	return nil
}

func (w *RedisWindow) CountLast(ctx context.Context, d time.Duration) (int, error) {
	now := w.clock().UnixMilli()
	n, err := windowScript.Run(ctx, w.client, []string{w.key},
		now, "", w.horizon.Milliseconds(), now-d.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("count surfacing events: %w", err)
	}
	return n, nil
}
