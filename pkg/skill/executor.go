package skill

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Func is the body of one registered skill.
type Func func(ctx context.Context, args map[string]any, tools *Registry, runCtx map[string]any) (Result, error)

// Runner executes registered skills under a per-skill deadline. A skill
// that outlives its deadline is abandoned and reported as ErrTimeout; its
// goroutine sees the cancelled context and is expected to stop.
type Runner struct {
	mu      sync.RWMutex
	skills  map[string]Func
	timeout time.Duration
	logger  *slog.Logger
}

// NewRunner creates a runner with the given per-skill timeout.
func NewRunner(timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Runner{
		skills:  make(map[string]Func),
		timeout: timeout,
		logger:  slog.Default().With("component", "skill_runner"),
	}
}

// Register adds or replaces a skill.
func (r *Runner) Register(name string, fn Func) {
	r.mu.Lock()
	r.skills[name] = fn
	r.mu.Unlock()
}

// TimeoutSeconds reports the advisory per-skill deadline.
func (r *Runner) TimeoutSeconds() int { return int(r.timeout / time.Second) }

// Execute runs the named skill to completion or deadline.
func (r *Runner) Execute(ctx context.Context, name string, args map[string]any, tools *Registry, runCtx map[string]any) (Result, error) {
	r.mu.RLock()
	fn, ok := r.skills[name]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("unknown skill %q", name)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := fn(ctx, args, tools, runCtx)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			r.logger.WarnContext(ctx, "skill timed out", "skill", name, "timeout", r.timeout)
			return Result{}, fmt.Errorf("skill %s: %w", name, ErrTimeout)
		}
		return Result{}, ctx.Err()
	}
}

// VerifyAndStore builds the verification skill: it searches for supporting
// evidence through the gated tool registry, then stores the fact with the
// evidence attached. Registered under the name "verify_and_store".
func VerifyAndStore(artifacts ArtifactStore) Func {
	return func(ctx context.Context, args map[string]any, tools *Registry, runCtx map[string]any) (Result, error) {
		content, _ := args["content"].(string)
		if content == "" {
			return Result{Success: false, Output: map[string]any{"error": "nothing to verify"}}, nil
		}
		confidence, _ := args["confidence"].(float64)

		search, ok := tools.Get("evidence_search")
		if !ok {
			return Result{}, fmt.Errorf("verification requires the evidence_search capability")
		}

		raw, err := search.Invoke(ctx, map[string]any{"query": content, "limit": 3})
		if err != nil {
			return Result{}, fmt.Errorf("evidence search failed: %w", err)
		}

		sources := sourcesFrom(raw)
		fact := Fact{Content: content, Confidence: confidence, SourceURLs: sources}
		if len(sources) == 0 {
			// No corroboration found; keep the claim but mark it.
			fact.Confidence = min(confidence, 0.5)
			fact.Tags = append(fact.Tags, "unverified")
		} else {
			fact.Tags = append(fact.Tags, "verified")
		}

		stored, err := artifacts.StoreFact(ctx, fact)
		if err != nil {
			return Result{}, fmt.Errorf("store after verification failed: %w", err)
		}
		return Result{
			Success: stored.Success,
			Output: map[string]any{
				"id":       stored.ID,
				"verified": len(sources) > 0,
				"sources":  sources,
			},
		}, nil
	}
}

func sourcesFrom(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if url, ok := m["url"].(string); ok && url != "" {
			out = append(out, url)
		}
	}
	return out
}
