// Package skill defines the contracts steward consumes but does not
// implement: skill execution, the artifact store, and the search index.
// Skills are opaque business-logic units; steward only routes work to them
// and gates the tools they touch.
package skill

import (
	"context"
	"errors"
)

// ErrTimeout is returned by executors when a skill exceeds its deadline.
var ErrTimeout = errors.New("skill execution timed out")

// Result is the outcome of one skill execution.
type Result struct {
	Success bool           `json:"success"`
	Output  map[string]any `json:"output,omitempty"`
}

// Executor runs a named skill with tool capabilities and request context.
type Executor interface {
	// Execute runs the skill. Timeouts surface as ErrTimeout; the
	// orchestrator decides whether a timeout is recoverable.
	Execute(ctx context.Context, name string, args map[string]any, tools *Registry, runCtx map[string]any) (Result, error)

	// TimeoutSeconds is the advisory per-skill deadline.
	TimeoutSeconds() int
}

// StoreResult is the artifact store's answer to a write.
type StoreResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message,omitempty"`
}

// Fact is a store_fact payload.
type Fact struct {
	Content    string   `json:"content"`
	Confidence float64  `json:"confidence"`
	SourceURLs []string `json:"source_urls,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// Decision is a store_decision payload.
type Decision struct {
	Decision     string   `json:"decision"`
	Rationale    string   `json:"rationale,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// ArtifactStore is the consumed persistence contract for facts, decisions,
// and artifact lifecycle.
type ArtifactStore interface {
	StoreFact(ctx context.Context, fact Fact) (StoreResult, error)
	StoreDecision(ctx context.Context, decision Decision) (StoreResult, error)
	DeleteArtifact(ctx context.Context, id, reason string, force bool) (StoreResult, error)
	GetArtifact(ctx context.Context, id string) (map[string]any, bool, error)
	IncrementReinforcement(ctx context.Context, id string) error
}

// SearchResult is one hit from the consumed index.
type SearchResult struct {
	ID      string  `json:"id"`
	Type    string  `json:"type"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
	Source  string  `json:"source,omitempty"`
}

// Index is the consumed search contract.
type Index interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}
