// Package reputation implements the autonomy ladder: per-domain trust
// scores, action risk classification, level gating, and time-delayed reward
// maturation. A success is only rewarded after a waiting window with no
// cancellation, so trust reflects outcomes that stuck.
package reputation

import (
	"fmt"
	"strings"
)

// ActionRisk classifies how dangerous an action is, independent of who
// requests it.
type ActionRisk string

const (
	RiskRead        ActionRisk = "READ"
	RiskPlan        ActionRisk = "PLAN"
	RiskSafeWrite   ActionRisk = "SAFE_WRITE"
	RiskDestructive ActionRisk = "DESTRUCTIVE"
	RiskCritical    ActionRisk = "CRITICAL"
)

// ActionContext carries caller-declared hints about an action.
// IsReversible is tri-state: nil means the caller made no claim, which is
// weaker than declaring the action irreversible.
type ActionContext struct {
	IsDestructive     bool   `json:"is_destructive,omitempty"`
	AffectsProduction bool   `json:"affects_production,omitempty"`
	IsReversible      *bool  `json:"is_reversible,omitempty"`
	Topic             string `json:"topic,omitempty"`
}

// Keyword sets checked for exact matches, in priority order. An action name
// that appears in more than one set takes the riskier classification.
var (
	destructiveActions = map[string]bool{
		"delete": true, "remove": true, "drop": true, "destroy": true,
		"purge": true, "terminate": true, "revoke": true, "wipe": true,
		"truncate": true, "delete_artifact": true, "force_push": true,
	}
	safeWriteActions = map[string]bool{
		"write": true, "store": true, "create": true, "update": true,
		"save": true, "append": true, "record": true, "tag": true,
		"store_fact": true, "store_decision": true, "write_file": true,
		"increment_reinforcement": true,
	}
	planActions = map[string]bool{
		"plan": true, "propose": true, "draft": true, "outline": true,
		"estimate": true, "schedule": true, "simulate": true,
	}
	readActions = map[string]bool{
		"read": true, "get": true, "list": true, "search": true,
		"fetch": true, "view": true, "query": true, "stat": true,
		"read_file": true, "glob_files": true, "get_artifact": true,
	}
)

// Prefix/suffix patterns checked after exact matches, in the same category
// order.
var (
	destructivePrefixes = []string{"delete_", "remove_", "drop_", "destroy_", "purge_", "revoke_", "wipe_"}
	destructiveSuffixes = []string{"_destroy", "_delete", "_remove", "_purge"}
	safeWritePrefixes   = []string{"write_", "store_", "create_", "update_", "set_", "save_", "append_"}
	safeWriteSuffixes   = []string{"_write", "_store", "_update", "_create"}
	planPrefixes        = []string{"plan_", "propose_", "draft_", "estimate_"}
	planSuffixes        = []string{"_plan", "_proposal"}
	readPrefixes        = []string{"read_", "get_", "list_", "search_", "find_", "glob_", "fetch_", "query_"}
	readSuffixes        = []string{"_read", "_info", "_status"}
)

// ClassifyRisk determines the risk class of an action. It is deterministic
// and total over non-empty action names: keyword sets first, then
// prefix/suffix patterns, then context hints, then the conservative
// SAFE_WRITE default. Unknown actions are treated as writes, never reads.
func ClassifyRisk(action string, actx ActionContext) (ActionRisk, error) {
	name := strings.ToLower(strings.TrimSpace(action))
	if name == "" {
		return "", fmt.Errorf("cannot classify empty action name")
	}

	switch {
	case destructiveActions[name]:
		return riskWithHints(RiskDestructive, actx), nil
	case safeWriteActions[name]:
		return riskWithHints(RiskSafeWrite, actx), nil
	case planActions[name]:
		return riskWithHints(RiskPlan, actx), nil
	case readActions[name]:
		return riskWithHints(RiskRead, actx), nil
	}

	switch {
	case matchesAny(name, destructivePrefixes, destructiveSuffixes):
		return riskWithHints(RiskDestructive, actx), nil
	case matchesAny(name, safeWritePrefixes, safeWriteSuffixes):
		return riskWithHints(RiskSafeWrite, actx), nil
	case matchesAny(name, planPrefixes, planSuffixes):
		return riskWithHints(RiskPlan, actx), nil
	case matchesAny(name, readPrefixes, readSuffixes):
		return riskWithHints(RiskRead, actx), nil
	}

	if r, ok := hintedRisk(actx); ok {
		return r, nil
	}
	return RiskSafeWrite, nil
}

// riskWithHints upgrades a lexical classification when context hints
// indicate more danger. Hints only ever raise risk.
func riskWithHints(base ActionRisk, actx ActionContext) ActionRisk {
	if hinted, ok := hintedRisk(actx); ok && riskRank(hinted) > riskRank(base) {
		return hinted
	}
	return base
}

func hintedRisk(actx ActionContext) (ActionRisk, bool) {
	switch {
	case actx.AffectsProduction && actx.IsReversible != nil && !*actx.IsReversible:
		// Only a declared-irreversible production action escalates to
		// CRITICAL; production impact alone stays DESTRUCTIVE.
		return RiskCritical, true
	case actx.IsDestructive, actx.AffectsProduction:
		return RiskDestructive, true
	}
	return "", false
}

func riskRank(r ActionRisk) int {
	switch r {
	case RiskRead:
		return 0
	case RiskPlan:
		return 1
	case RiskSafeWrite:
		return 2
	case RiskDestructive:
		return 3
	case RiskCritical:
		return 4
	}
	return -1
}

func matchesAny(name string, prefixes, suffixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// Domain topic keywords, checked in order against the action name and the
// declared topic.
var domainKeywords = []struct {
	domain   string
	keywords []string
}{
	{"incident_rca", []string{"incident", "rca", "postmortem", "outage"}},
	{"code_changes", []string{"code", "review", "diff", "commit", "merge", "pr"}},
	{"knowledge_ops", []string{"fact", "decision", "artifact", "memory", "recall"}},
	{"cost_ops", []string{"cost", "budget", "spend", "billing"}},
	{"media_production", []string{"media", "image", "audio", "video", "render"}},
}

// ClassifyDomain maps an action to the trust domain it is scored under.
// The declared topic wins when present; otherwise the action name is
// scanned for topic keywords. Unmatched actions land in "general".
func ClassifyDomain(action string, actx ActionContext) string {
	haystacks := []string{strings.ToLower(actx.Topic), strings.ToLower(action)}
	for _, candidate := range domainKeywords {
		for _, hay := range haystacks {
			if hay == "" {
				continue
			}
			for _, kw := range candidate.keywords {
				if strings.Contains(hay, kw) {
					return candidate.domain
				}
			}
		}
	}
	return "general"
}
