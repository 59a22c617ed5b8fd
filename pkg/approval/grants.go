// Package approval manages single-use approval grants: an operator issues a
// grant scoped to one action_id, and exactly one caller may consume it to
// perform an otherwise-blocked action. Grants are HMAC-signed tokens so a
// tampered state row cannot mint permission.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/steward-sh/steward/pkg/state"
)

const grantKeyPrefix = "approval/grants/"

// DefaultTTL bounds how long an unconsumed grant stays valid.
const DefaultTTL = 30 * time.Minute

// Grant is a persisted single-use approval.
type Grant struct {
	ActionID   string     `json:"action_id"`
	Token      string     `json:"token"`
	IssuedBy   string     `json:"issued_by"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Consumed   bool       `json:"consumed"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// Grants issues, verifies, and consumes approval grants.
type Grants struct {
	mu         sync.Mutex
	store      state.Store
	signingKey []byte
	logger     *slog.Logger
	clock      func() time.Time
}

// NewGrants creates a grant manager. The signing key must be non-empty.
func NewGrants(store state.Store, signingKey []byte) (*Grants, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("approval signing key must not be empty")
	}
	return &Grants{
		store:      store,
		signingKey: signingKey,
		logger:     slog.Default().With("component", "approval"),
		clock:      time.Now,
	}, nil
}

// WithClock overrides the clock for deterministic testing.
func (g *Grants) WithClock(clock func() time.Time) *Grants {
	g.clock = clock
	return g
}

// Issue creates and persists a grant for the action. Re-issuing replaces
// any previous grant for the same action_id.
func (g *Grants) Issue(ctx context.Context, actionID, issuedBy string, ttl time.Duration) (Grant, error) {
	if actionID == "" {
		return Grant{}, fmt.Errorf("action_id must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := g.clock()
	claims := jwt.RegisteredClaims{
		ID:        actionID,
		Issuer:    "steward",
		Subject:   issuedBy,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.signingKey)
	if err != nil {
		return Grant{}, fmt.Errorf("failed to sign grant for %q: %w", actionID, err)
	}

	grant := Grant{
		ActionID:  actionID,
		Token:     token,
		IssuedBy:  issuedBy,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.store.Set(ctx, grantKeyPrefix+actionID, grant); err != nil {
		return Grant{}, fmt.Errorf("failed to persist grant for %q: %w", actionID, err)
	}
	g.logger.InfoContext(ctx, "approval grant issued",
		"action_id", actionID, "issued_by", issuedBy, "expires_at", grant.ExpiresAt)
	return grant, nil
}

// Active reports whether a live (unconsumed, unexpired, validly signed)
// grant exists for the action.
func (g *Grants) Active(ctx context.Context, actionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.liveGrant(ctx, actionID)
	return ok
}

// Consume atomically claims the grant for the action. Exactly one caller
// wins; everyone else sees false. Consumption of a missing, expired, or
// already-consumed grant returns false without error.
func (g *Grants) Consume(ctx context.Context, actionID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	grant, ok := g.liveGrant(ctx, actionID)
	if !ok {
		return false, nil
	}

	now := g.clock()
	grant.Consumed = true
	grant.ConsumedAt = &now
	if err := g.store.Set(ctx, grantKeyPrefix+actionID, grant); err != nil {
		return false, fmt.Errorf("failed to consume grant for %q: %w", actionID, err)
	}
	g.logger.InfoContext(ctx, "approval grant consumed", "action_id", actionID)
	return true, nil
}

// PurgeExpired removes expired or consumed grants. Returns the count removed.
func (g *Grants) PurgeExpired(ctx context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	keys, err := g.store.Keys(ctx, grantKeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list grants: %w", err)
	}

	now := g.clock()
	removed := 0
	for _, key := range keys {
		var grant Grant
		if !g.store.Get(ctx, key, &grant) {
			continue
		}
		if grant.Consumed || now.After(grant.ExpiresAt) {
			if _, err := g.store.Delete(ctx, key); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// liveGrant loads and validates the grant under the lock.
func (g *Grants) liveGrant(ctx context.Context, actionID string) (Grant, bool) {
	var grant Grant
	if !g.store.Get(ctx, grantKeyPrefix+actionID, &grant) {
		return Grant{}, false
	}
	if grant.Consumed || g.clock().After(grant.ExpiresAt) {
		return Grant{}, false
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(grant.Token, claims, func(*jwt.Token) (any, error) {
		return g.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(g.clock))
	if err != nil || !parsed.Valid || claims.ID != actionID {
		g.logger.WarnContext(ctx, "rejecting grant with invalid token", "action_id", actionID, "error", err)
		return Grant{}, false
	}
	return grant, true
}
