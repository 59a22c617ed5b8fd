// Package artifacts is a state-store backed knowledge base of facts and
// decisions. It implements the persistence, search, and review contracts the
// governance pipeline consumes.
package artifacts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/steward-sh/steward/pkg/coordinator"
	"github.com/steward-sh/steward/pkg/skill"
	"github.com/steward-sh/steward/pkg/state"
)

const keyPrefix = "artifacts/"

// Artifact is one stored fact or decision.
type Artifact struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"` // "fact" or "decision"
	Content       string    `json:"content"`
	Confidence    float64   `json:"confidence,omitempty"`
	SourceURLs    []string  `json:"source_urls,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	Rationale     string    `json:"rationale,omitempty"`
	Alternatives  []string  `json:"alternatives,omitempty"`
	Reinforcement int       `json:"reinforcement"`
	Reviewed      bool      `json:"reviewed,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store persists artifacts through the state store.
type Store struct {
	store  state.Store
	logger *slog.Logger
	clock  func() time.Time
}

// NewStore creates an artifact store.
func NewStore(store state.Store) *Store {
	return &Store{
		store:  store,
		logger: slog.Default().With("component", "artifacts"),
		clock:  time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// StoreFact persists a fact artifact.
func (s *Store) StoreFact(ctx context.Context, fact skill.Fact) (skill.StoreResult, error) {
	if strings.TrimSpace(fact.Content) == "" {
		return skill.StoreResult{Success: false, Message: "fact content must not be empty"}, nil
	}
	now := s.clock()
	a := Artifact{
		ID:         uuid.New().String(),
		Type:       "fact",
		Content:    fact.Content,
		Confidence: fact.Confidence,
		SourceURLs: fact.SourceURLs,
		Tags:       fact.Tags,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Set(ctx, keyPrefix+a.ID, a); err != nil {
		return skill.StoreResult{}, fmt.Errorf("persist fact: %w", err)
	}
	return skill.StoreResult{Success: true, ID: a.ID, Path: keyPrefix + a.ID}, nil
}

// StoreDecision persists a decision artifact.
func (s *Store) StoreDecision(ctx context.Context, d skill.Decision) (skill.StoreResult, error) {
	if strings.TrimSpace(d.Decision) == "" {
		return skill.StoreResult{Success: false, Message: "decision text must not be empty"}, nil
	}
	now := s.clock()
	a := Artifact{
		ID:           uuid.New().String(),
		Type:         "decision",
		Content:      d.Decision,
		Rationale:    d.Rationale,
		Alternatives: d.Alternatives,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Set(ctx, keyPrefix+a.ID, a); err != nil {
		return skill.StoreResult{}, fmt.Errorf("persist decision: %w", err)
	}
	return skill.StoreResult{Success: true, ID: a.ID, Path: keyPrefix + a.ID}, nil
}

// DeleteArtifact removes an artifact. Deletion needs a reason unless forced;
// a forced delete without a reason is expected to be denied upstream.
func (s *Store) DeleteArtifact(ctx context.Context, id, reason string, force bool) (skill.StoreResult, error) {
	if id == "" {
		return skill.StoreResult{Success: false, Message: "artifact id required"}, nil
	}
	if reason == "" && !force {
		return skill.StoreResult{Success: false, Message: "deletion requires a reason"}, nil
	}
	existed, err := s.store.Delete(ctx, keyPrefix+id)
	if err != nil {
		return skill.StoreResult{}, fmt.Errorf("delete artifact: %w", err)
	}
	if !existed {
		return skill.StoreResult{Success: false, Message: "artifact not found"}, nil
	}
	s.logger.InfoContext(ctx, "artifact deleted", "id", id, "reason", reason, "force", force)
	return skill.StoreResult{Success: true, ID: id}, nil
}

// GetArtifact fetches an artifact as a generic document.
func (s *Store) GetArtifact(ctx context.Context, id string) (map[string]any, bool, error) {
	var doc map[string]any
	if !s.store.Get(ctx, keyPrefix+id, &doc) {
		return nil, false, nil
	}
	return doc, true, nil
}

// IncrementReinforcement bumps the retrieval counter of an artifact.
func (s *Store) IncrementReinforcement(ctx context.Context, id string) error {
	var a Artifact
	if !s.store.Get(ctx, keyPrefix+id, &a) {
		return fmt.Errorf("artifact %s not found", id)
	}
	a.Reinforcement++
	a.UpdatedAt = s.clock()
	return s.store.Set(ctx, keyPrefix+id, a)
}

// MarkReviewed flags a decision as reviewed.
func (s *Store) MarkReviewed(ctx context.Context, id string) error {
	var a Artifact
	if !s.store.Get(ctx, keyPrefix+id, &a) {
		return fmt.Errorf("artifact %s not found", id)
	}
	a.Reviewed = true
	a.UpdatedAt = s.clock()
	return s.store.Set(ctx, keyPrefix+id, a)
}

// Search is a substring match over artifact content, most reinforced first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]skill.SearchResult, error) {
	all, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, nil
	}

	var hits []skill.SearchResult
	for _, a := range all {
		if strings.Contains(strings.ToLower(a.Content), needle) {
			hits = append(hits, skill.SearchResult{
				ID:      a.ID,
				Type:    a.Type,
				Content: a.Content,
				Score:   float64(a.Reinforcement),
			})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// PendingDecisions lists unreviewed decisions, oldest first.
func (s *Store) PendingDecisions(ctx context.Context, limit int) ([]coordinator.ReviewItem, error) {
	all, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	var items []coordinator.ReviewItem
	for _, a := range all {
		if a.Type == "decision" && !a.Reviewed {
			items = append(items, reviewItem(a))
		}
	}
	return oldestFirst(items, limit), nil
}

// StaleFacts lists facts untouched for longer than olderThan, oldest first.
func (s *Store) StaleFacts(ctx context.Context, olderThan time.Duration, limit int) ([]coordinator.ReviewItem, error) {
	all, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := s.clock().Add(-olderThan)
	var items []coordinator.ReviewItem
	for _, a := range all {
		if a.Type == "fact" && a.UpdatedAt.Before(cutoff) {
			items = append(items, reviewItem(a))
		}
	}
	return oldestFirst(items, limit), nil
}

func (s *Store) list(ctx context.Context) ([]Artifact, error) {
	raw, err := s.store.GetPrefix(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	out := make([]Artifact, 0, len(raw))
	for key, value := range raw {
		var a Artifact
		if !s.store.Get(ctx, key, &a) {
			s.logger.Warn("skipping undecodable artifact", "key", key, "bytes", len(value))
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func reviewItem(a Artifact) coordinator.ReviewItem {
	summary := a.Content
	if len(summary) > 120 {
		summary = summary[:120]
	}
	return coordinator.ReviewItem{ID: a.ID, Kind: a.Type, Summary: summary, UpdatedAt: a.UpdatedAt}
}

func oldestFirst(items []coordinator.ReviewItem, limit int) []coordinator.ReviewItem {
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.Before(items[j].UpdatedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
