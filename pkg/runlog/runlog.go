// Package runlog defines the immutable audit record of one orchestrated
// call and its file persistence. A run log is created at call start, mutated
// throughout the call, persisted exactly once at call end, and never touched
// again.
package runlog

import (
	"time"

	"github.com/steward-sh/steward/pkg/enforcer"
	"github.com/steward-sh/steward/pkg/intent"
	"github.com/steward-sh/steward/pkg/rules"
)

// Outcome is the terminal state of an orchestrated call.
type Outcome string

const (
	OutcomePending         Outcome = "pending"
	OutcomeDenied          Outcome = "denied"
	OutcomeFailed          Outcome = "failed"
	OutcomeDryRun          Outcome = "dry_run"
	OutcomeAutonomyBlocked Outcome = "autonomy_blocked"
	OutcomeSuccess         Outcome = "success"
	OutcomeDegraded        Outcome = "degraded_success"
)

// Terminal reports whether the outcome ends the run.
func (o Outcome) Terminal() bool { return o != OutcomePending }

// ToolCall records one tool invocation inside a run, in call order.
type ToolCall struct {
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args,omitempty"`
	Allowed    bool           `json:"allowed"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// RunLog is the audit record of one orchestrated call. The outcome and
// notes fields are the sole operator-visible error surface: nothing is
// swallowed without a trace entry here.
type RunLog struct {
	RunID         string                `json:"run_id"`
	StartedAt     time.Time             `json:"started_at"`
	FinishedAt    time.Time             `json:"finished_at"`
	RawAction     string                `json:"raw_action"`
	Intent        intent.Kind           `json:"intent"`
	Sensitivity   string                `json:"sensitivity"`
	Plan          string                `json:"plan,omitempty"`
	RuleDecisions []rules.Decision      `json:"rule_decisions,omitempty"`
	Autonomy      *enforcer.Decision    `json:"autonomy,omitempty"`
	ToolCalls     []ToolCall            `json:"tool_calls,omitempty"`
	BlockEvents   []enforcer.BlockEvent `json:"autonomy_block_events,omitempty"`
	Outcome       Outcome               `json:"outcome"`
	Notes         []string              `json:"notes,omitempty"`
	ContentHash   string                `json:"content_hash,omitempty"`
}

// Note appends a free-text trace entry.
func (r *RunLog) Note(msg string) {
	r.Notes = append(r.Notes, msg)
}

// RecordToolCall appends a tool-call record in order.
func (r *RunLog) RecordToolCall(call ToolCall) {
	r.ToolCalls = append(r.ToolCalls, call)
}
