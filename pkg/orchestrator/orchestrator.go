// Package orchestrator drives one governed call from raw request to
// terminal outcome: intent normalization, rule evaluation, plan selection,
// autonomy gating, execution, and run log persistence.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/steward-sh/steward/pkg/enforcer"
	"github.com/steward-sh/steward/pkg/intent"
	"github.com/steward-sh/steward/pkg/observability"
	"github.com/steward-sh/steward/pkg/reputation"
	"github.com/steward-sh/steward/pkg/rules"
	"github.com/steward-sh/steward/pkg/runlog"
	"github.com/steward-sh/steward/pkg/skill"
)

// Plan names selected by the routing table.
const (
	PlanVerifyAndStore = "verify_and_store"
	PlanDirectStore    = "direct_store"
	PlanDirectDelete   = "direct_delete"
)

const (
	verifyConfidenceFloor = 0.8
	degradedConfidenceCap = 0.5
	recallTimeout         = 2 * time.Second
)

// Request is one raw governed call. ActionID is the caller-chosen identity
// used to match approval grants and to deduplicate provisional rewards; it
// defaults to the generated run ID when empty.
type Request struct {
	ActionID    string         `json:"action_id,omitempty"`
	Action      string         `json:"action"`
	Args        map[string]any `json:"args,omitempty"`
	Sensitivity string         `json:"sensitivity,omitempty"`
	DryRun      bool           `json:"dry_run,omitempty"`
}

// Result is the caller-facing outcome of a governed call.
type Result struct {
	RunID   string         `json:"run_id"`
	Outcome runlog.Outcome `json:"outcome"`
	Plan    string         `json:"plan,omitempty"`
	Output  map[string]any `json:"output,omitempty"`
	Notes   []string       `json:"notes,omitempty"`
}

// Orchestrator wires the governance pipeline together. All collaborators
// are injected; index and telemetry may be nil.
type Orchestrator struct {
	enforcer  *enforcer.Enforcer
	rules     *rules.Engine
	tools     *skill.Registry
	executor  skill.Executor
	artifacts skill.ArtifactStore
	index     skill.Index
	runlogs   *runlog.FileStore
	telemetry *observability.Provider
	logger    *slog.Logger
	clock     func() time.Time
}

// New creates an orchestrator.
func New(
	enf *enforcer.Enforcer,
	engine *rules.Engine,
	tools *skill.Registry,
	executor skill.Executor,
	artifacts skill.ArtifactStore,
	runlogs *runlog.FileStore,
) *Orchestrator {
	return &Orchestrator{
		enforcer:  enf,
		rules:     engine,
		tools:     tools,
		executor:  executor,
		artifacts: artifacts,
		runlogs:   runlogs,
		logger:    slog.Default().With("component", "orchestrator"),
		clock:     time.Now,
	}
}

// WithIndex wires the search index used for best-effort proactive recall.
func (o *Orchestrator) WithIndex(index skill.Index) *Orchestrator {
	o.index = index
	return o
}

// WithTelemetry wires the observability provider.
func (o *Orchestrator) WithTelemetry(p *observability.Provider) *Orchestrator {
	o.telemetry = p
	return o
}

// WithClock overrides the clock for deterministic testing.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

// Handle runs one governed call to a terminal outcome. The returned error
// is non-nil only for infrastructure failures after the outcome was decided
// (run log persistence); governance denials are outcomes, not errors.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Result, error) {
	log := &runlog.RunLog{
		RunID:     uuid.New().String(),
		StartedAt: o.clock(),
		RawAction: req.Action,
		Outcome:   runlog.OutcomePending,
	}

	var done func(error)
	if o.telemetry != nil {
		ctx, done = o.telemetry.TrackOperation(ctx, "orchestrate",
			attribute.String("action", req.Action))
	}

	result := o.run(ctx, req, log)

	log.FinishedAt = o.clock()
	result.Notes = log.Notes
	o.logger.InfoContext(ctx, "run finished",
		"run_id", log.RunID, "action", req.Action,
		"intent", string(log.Intent), "outcome", string(log.Outcome))

	var persistErr error
	if o.runlogs != nil {
		if persistErr = o.runlogs.Persist(log); persistErr != nil {
			persistErr = fmt.Errorf("run %s finished as %s but its log was not persisted: %w",
				log.RunID, log.Outcome, persistErr)
		}
	}
	if done != nil {
		done(persistErr)
	}
	return result, persistErr
}

// run executes the pipeline and returns the caller-facing result. It always
// leaves log.Outcome terminal.
func (o *Orchestrator) run(ctx context.Context, req Request, log *runlog.RunLog) Result {
	result := Result{RunID: log.RunID}
	actionID := req.ActionID
	if actionID == "" {
		actionID = log.RunID
	}
	fail := func(note string) Result {
		log.Outcome = runlog.OutcomeFailed
		log.Note(note)
		result.Outcome = runlog.OutcomeFailed
		return result
	}

	// Normalize and validate.
	log.Intent = intent.Normalize(req.Action)
	log.Sensitivity = intent.DetectSensitivity(req.Sensitivity, req.Args)
	if err := intent.ValidateArgs(log.Intent, req.Args); err != nil {
		return fail("argument validation failed: " + err.Error())
	}

	confidence := floatArg(req.Args, "confidence", 1.0)

	// Proactive recall is best effort: hits enrich the result, failures
	// leave a note and nothing else.
	o.recall(ctx, req, log, &result)

	// Rules.
	decisions, err := o.rules.Evaluate(ctx, rules.Input{
		Intent:      string(log.Intent),
		Sensitivity: log.Sensitivity,
		Confidence:  confidence,
		Args:        req.Args,
	})
	if err != nil {
		return fail("rule evaluation failed: " + err.Error())
	}
	log.RuleDecisions = decisions
	if denial, denied := rules.Denied(decisions); denied {
		log.Outcome = runlog.OutcomeDenied
		log.Note("denied by rule " + denial.Rule)
		result.Outcome = runlog.OutcomeDenied
		return result
	}

	// Plan.
	plan, ok := o.selectPlan(log.Intent, req.Args, confidence)
	if !ok {
		return fail("no plan for intent " + string(log.Intent))
	}
	log.Plan = plan
	result.Plan = plan

	// Autonomy precheck never consumes an approval grant; the grant must
	// still be live when execution actually starts.
	actx := actionContext(log.Intent, req.Args)
	decision, err := o.enforcer.CheckAction(ctx, req.Action, actx, actionID, false)
	if err != nil {
		return fail("autonomy check failed: " + err.Error())
	}
	log.Autonomy = &decision

	if !decision.Allowed {
		if decision.DowngradeToPropose {
			log.Outcome = runlog.OutcomeDryRun
			log.Note("downgraded to proposal: " + decision.Reason)
			result.Outcome = runlog.OutcomeDryRun
			result.Output = map[string]any{"proposed_plan": plan, "args": req.Args}
			return result
		}
		log.Outcome = runlog.OutcomeAutonomyBlocked
		log.Note(decision.Reason)
		result.Outcome = runlog.OutcomeAutonomyBlocked
		return result
	}

	if req.DryRun {
		log.Outcome = runlog.OutcomeDryRun
		log.Note("dry run requested by caller")
		result.Outcome = runlog.OutcomeDryRun
		result.Output = map[string]any{"proposed_plan": plan, "args": req.Args}
		return result
	}

	// A precheck that passed via token must win the consumption race at
	// execution time. Losing it means the approval expired or was spent
	// between precheck and execution: a failure, not a block.
	if decision.AllowedViaToken {
		execDecision, err := o.enforcer.CheckAction(ctx, req.Action, actx, actionID, true)
		if err != nil {
			return fail("token consumption failed: " + err.Error())
		}
		if !execDecision.Allowed {
			return fail("approval expired between precheck and execution")
		}
		log.Autonomy = &execDecision
	}

	// Execute under a per-run gate.
	gate := enforcer.NewGate(o.enforcer)
	outcome, output := o.execute(ctx, req, log, actionID, gate, plan, confidence)
	log.Outcome = outcome
	result.Outcome = outcome
	if output != nil {
		if result.Output == nil {
			result.Output = output
		} else {
			for k, v := range output {
				result.Output[k] = v
			}
		}
	}

	log.BlockEvents = gate.BlockEvents()
	for _, note := range gate.Notes() {
		log.Note(note)
	}

	o.finalize(ctx, log, actionID, confidence)
	return result
}

// recall searches the index for related artifacts before execution.
func (o *Orchestrator) recall(ctx context.Context, req Request, log *runlog.RunLog, result *Result) {
	if o.index == nil {
		return
	}
	query, _ := req.Args["content"].(string)
	if query == "" {
		query, _ = req.Args["decision"].(string)
	}
	if query == "" {
		return
	}

	rctx, cancel := context.WithTimeout(ctx, recallTimeout)
	defer cancel()
	hits, err := o.index.Search(rctx, query, 3)
	if err != nil {
		log.Note("proactive recall unavailable: " + err.Error())
		return
	}
	if len(hits) > 0 {
		result.Output = map[string]any{"related": hits}
	}
}

// selectPlan is the intent routing table.
func (o *Orchestrator) selectPlan(kind intent.Kind, args map[string]any, confidence float64) (string, bool) {
	switch kind {
	case intent.KindStoreFact:
		// High-confidence claims without sources get verified before
		// they are stored.
		if confidence >= verifyConfidenceFloor && len(stringSlice(args["source_urls"])) == 0 {
			return PlanVerifyAndStore, true
		}
		return PlanDirectStore, true
	case intent.KindStoreDecision:
		return PlanDirectStore, true
	case intent.KindDeleteArtifact:
		return PlanDirectDelete, true
	default:
		return "", false
	}
}

// execute runs the selected plan and returns the terminal outcome.
func (o *Orchestrator) execute(ctx context.Context, req Request, log *runlog.RunLog, actionID string, gate *enforcer.Gate, plan string, confidence float64) (runlog.Outcome, map[string]any) {
	switch plan {
	case PlanVerifyAndStore:
		return o.runVerifySkill(ctx, req, log, actionID, gate, confidence)

	case PlanDirectStore:
		if log.Intent == intent.KindStoreDecision {
			res, err := o.artifacts.StoreDecision(ctx, skill.Decision{
				Decision:     stringArg(req.Args, "decision"),
				Rationale:    stringArg(req.Args, "rationale"),
				Alternatives: stringSlice(req.Args["alternatives"]),
			})
			return storeOutcome(log, res, err)
		}
		res, err := o.artifacts.StoreFact(ctx, factFromArgs(req.Args, confidence))
		return storeOutcome(log, res, err)

	case PlanDirectDelete:
		res, err := o.artifacts.DeleteArtifact(ctx,
			stringArg(req.Args, "artifact_id"),
			stringArg(req.Args, "reason"),
			boolArg(req.Args, "force"))
		return storeOutcome(log, res, err)
	}
	log.Note("unknown plan " + plan)
	return runlog.OutcomeFailed, nil
}

// runVerifySkill executes the verification skill, falling back to a
// degraded direct store on timeout: the fact is kept but its confidence is
// capped, its sources are dropped, and it is tagged for later verification.
func (o *Orchestrator) runVerifySkill(ctx context.Context, req Request, log *runlog.RunLog, actionID string, gate *enforcer.Gate, confidence float64) (runlog.Outcome, map[string]any) {
	gated := o.gatedTools(log, actionID, gate)

	started := o.clock()
	skillResult, err := o.executor.Execute(ctx, PlanVerifyAndStore, req.Args, gated, map[string]any{
		"run_id": log.RunID,
	})
	log.RecordToolCall(runlog.ToolCall{
		Tool:       PlanVerifyAndStore,
		Args:       req.Args,
		Allowed:    true,
		Error:      errString(err),
		StartedAt:  started,
		FinishedAt: o.clock(),
	})

	switch {
	case err == nil && skillResult.Success:
		return runlog.OutcomeSuccess, skillResult.Output

	case errors.Is(err, skill.ErrTimeout):
		fact := factFromArgs(req.Args, min(confidence, degradedConfidenceCap))
		fact.SourceURLs = nil
		fact.Tags = append(fact.Tags, "needs_verification")
		res, storeErr := o.artifacts.StoreFact(ctx, fact)
		if storeErr != nil || !res.Success {
			log.Note("degraded store after verification timeout failed: " + errString(storeErr))
			return runlog.OutcomeFailed, nil
		}
		log.Note("verification timed out, stored unverified with capped confidence")
		return runlog.OutcomeDegraded, map[string]any{"id": res.ID, "verified": false}

	case err != nil:
		log.Note("verification skill failed: " + err.Error())
		return runlog.OutcomeFailed, nil

	default:
		log.Note("verification skill reported failure")
		return runlog.OutcomeFailed, skillResult.Output
	}
}

// gatedTools wraps every registered capability with the per-run gate and
// tool-call recording. Blocked calls return an error to the skill and leave
// both a block event and a tool-call record behind.
func (o *Orchestrator) gatedTools(log *runlog.RunLog, actionID string, gate *enforcer.Gate) *skill.Registry {
	return o.tools.Wrap(func(c skill.Capability) skill.Capability {
		return skill.NewCapability(c.Name(), func(callCtx context.Context, args map[string]any) (any, error) {
			started := o.clock()
			allowed := gate.Allow(callCtx, c.Name(), toolContext(args), actionID)

			var out any
			var err error
			if allowed {
				out, err = c.Invoke(callCtx, args)
			} else {
				err = fmt.Errorf("tool %s blocked by autonomy gate", c.Name())
			}

			log.RecordToolCall(runlog.ToolCall{
				Tool:       c.Name(),
				Args:       args,
				Allowed:    allowed,
				Error:      errString(err),
				StartedAt:  started,
				FinishedAt: o.clock(),
			})
			return out, err
		})
	})
}

// finalize feeds the terminal outcome back into the ledger and sweeps any
// rewards whose window has passed.
func (o *Orchestrator) finalize(ctx context.Context, log *runlog.RunLog, actionID string, confidence float64) {
	if log.Autonomy == nil {
		return
	}
	domain := log.Autonomy.Domain

	switch log.Outcome {
	case runlog.OutcomeSuccess:
		if err := o.enforcer.RecordOutcome(ctx, actionID, domain, true, confidence); err != nil {
			log.Note("outcome recording failed: " + err.Error())
		}
	case runlog.OutcomeDegraded:
		if err := o.enforcer.RecordOutcome(ctx, actionID, domain, true, min(confidence, degradedConfidenceCap)); err != nil {
			log.Note("outcome recording failed: " + err.Error())
		}
	case runlog.OutcomeFailed:
		if err := o.enforcer.RecordOutcome(ctx, actionID, domain, false, confidence); err != nil {
			log.Note("outcome recording failed: " + err.Error())
		}
	}

	ledger := o.enforcer.Ledger()
	if ledger.HasUnsettledRewards(ctx) {
		if n, err := ledger.MaturePendingRewards(ctx); err != nil {
			log.Note("reward maturation sweep failed: " + err.Error())
		} else if n > 0 {
			o.logger.InfoContext(ctx, "matured pending rewards", "count", n)
		}
	}
}

func storeOutcome(log *runlog.RunLog, res skill.StoreResult, err error) (runlog.Outcome, map[string]any) {
	if err != nil {
		log.Note("store operation failed: " + err.Error())
		return runlog.OutcomeFailed, nil
	}
	if !res.Success {
		log.Note("store operation rejected: " + res.Message)
		return runlog.OutcomeFailed, nil
	}
	return runlog.OutcomeSuccess, map[string]any{"id": res.ID, "path": res.Path}
}

func actionContext(kind intent.Kind, args map[string]any) reputation.ActionContext {
	return reputation.ActionContext{
		IsDestructive:     kind == intent.KindDeleteArtifact || boolArg(args, "force"),
		AffectsProduction: boolArg(args, "affects_production"),
		IsReversible:      boolPtrArg(args, "reversible"),
		Topic:             stringArg(args, "topic"),
	}
}

func toolContext(args map[string]any) reputation.ActionContext {
	return reputation.ActionContext{
		IsDestructive:     boolArg(args, "force"),
		AffectsProduction: boolArg(args, "affects_production"),
		IsReversible:      boolPtrArg(args, "reversible"),
		Topic:             stringArg(args, "topic"),
	}
}

func factFromArgs(args map[string]any, confidence float64) skill.Fact {
	return skill.Fact{
		Content:    stringArg(args, "content"),
		Confidence: confidence,
		SourceURLs: stringSlice(args["source_urls"]),
		Tags:       stringSlice(args["tags"]),
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

// boolPtrArg distinguishes an absent key from a declared false.
func boolPtrArg(args map[string]any, key string) *bool {
	if b, ok := args[key].(bool); ok {
		return &b
	}
	return nil
}

func floatArg(args map[string]any, key string, fallback float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
