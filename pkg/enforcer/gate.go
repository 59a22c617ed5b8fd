package enforcer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/steward-sh/steward/pkg/reputation"
)

// BlockEvent is one gate decision that blocked a tool call. A single run can
// accumulate several of these before reaching its terminal outcome.
type BlockEvent struct {
	Tool      string                `json:"tool"`
	Domain    string                `json:"domain"`
	Risk      reputation.ActionRisk `json:"risk"`
	Reason    string                `json:"reason"`
	Timestamp time.Time             `json:"timestamp"`
}

// CheckFunc is the permission check a Gate consults per tool call.
type CheckFunc func(ctx context.Context, tool string, actx reputation.ActionContext, actionID string, consumeToken bool) (Decision, error)

// Gate wraps every exposed tool capability with a per-call autonomy check.
// One Gate is created per orchestrated run; its block events are append-only
// and copied into the run log at finalization.
type Gate struct {
	mu     sync.Mutex
	check  CheckFunc
	blocks []BlockEvent
	notes  []string
	logger *slog.Logger
	clock  func() time.Time
}

// NewGate creates a per-run gate backed by the enforcer.
func NewGate(e *Enforcer) *Gate {
	return &Gate{
		check:  e.CheckAction,
		logger: slog.Default().With("component", "tool_gate"),
		clock:  time.Now,
	}
}

// WithCheck overrides the permission check (used to inject failures in tests).
func (g *Gate) WithCheck(check CheckFunc) *Gate {
	g.check = check
	return g
}

// WithClock overrides the clock for deterministic testing.
func (g *Gate) WithClock(clock func() time.Time) *Gate {
	g.clock = clock
	return g
}

// Allow decides whether one tool call may proceed.
//
// Failure semantics differ by what failed:
//   - classification failure: fail closed, always — an unclassifiable call
//     cannot be proven safe;
//   - check failure with known risk: fail closed for DESTRUCTIVE/CRITICAL,
//     fail open (proceed, note) for READ/PLAN/SAFE_WRITE;
//   - clean denial: blocked, with a recorded block event.
func (g *Gate) Allow(ctx context.Context, tool string, actx reputation.ActionContext, actionID string) bool {
	risk, err := reputation.ClassifyRisk(tool, actx)
	if err != nil {
		g.block(tool, "", "", "classification failed: "+err.Error())
		g.logger.ErrorContext(ctx, "tool blocked: unclassifiable", "tool", tool, "error", err)
		return false
	}
	domain := reputation.ClassifyDomain(tool, actx)

	decision, err := g.check(ctx, tool, actx, actionID, false)
	if err != nil {
		if risk == reputation.RiskDestructive || risk == reputation.RiskCritical {
			g.block(tool, domain, risk, "gate error on high-risk call: "+err.Error())
			g.logger.ErrorContext(ctx, "tool blocked: gate failed closed", "tool", tool, "risk", string(risk), "error", err)
			return false
		}
		g.note("gate error on " + tool + ", proceeding (low risk): " + err.Error())
		g.logger.WarnContext(ctx, "tool gate failed open", "tool", tool, "risk", string(risk), "error", err)
		return true
	}

	if !decision.Allowed {
		g.block(tool, decision.Domain, decision.Risk, decision.Reason)
		return false
	}
	return true
}

// BlockEvents returns a copy of the append-only block list.
func (g *Gate) BlockEvents() []BlockEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]BlockEvent, len(g.blocks))
	copy(out, g.blocks)
	return out
}

// Notes returns the fail-open trace notes recorded so far.
func (g *Gate) Notes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.notes))
	copy(out, g.notes)
	return out
}

func (g *Gate) block(tool, domain string, risk reputation.ActionRisk, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocks = append(g.blocks, BlockEvent{
		Tool:      tool,
		Domain:    domain,
		Risk:      risk,
		Reason:    reason,
		Timestamp: g.clock(),
	})
}

func (g *Gate) note(msg string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notes = append(g.notes, msg)
}
