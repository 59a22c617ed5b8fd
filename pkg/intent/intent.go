// Package intent normalizes raw requested actions to a closed set of
// canonical intents, detects sensitive payloads, and validates intent
// arguments against JSON schemas.
package intent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Kind is a canonical intent tag. Dispatch throughout the orchestrator is
// over this closed set, never over raw strings.
type Kind string

const (
	KindStoreFact      Kind = "store_fact"
	KindStoreDecision  Kind = "store_decision"
	KindDeleteArtifact Kind = "delete_artifact"
	KindUnknown        Kind = "unknown"
)

// normalization rules, checked in order after exact canonical tags; first
// substring match wins. Delete precedes the fact/decision rules because
// "delete_artifact" itself contains "fact".
var normalizationRules = []struct {
	substrings []string
	kind       Kind
}{
	{[]string{"delete", "forget"}, KindDeleteArtifact},
	{[]string{"decision"}, KindStoreDecision},
	{[]string{"fact", "remember"}, KindStoreFact},
}

// Normalize maps a raw action string to its canonical intent.
func Normalize(action string) Kind {
	name := strings.ToLower(strings.TrimSpace(action))
	switch Kind(name) {
	case KindStoreFact, KindStoreDecision, KindDeleteArtifact:
		return Kind(name)
	}
	for _, rule := range normalizationRules {
		for _, sub := range rule.substrings {
			if strings.Contains(name, sub) {
				return rule.kind
			}
		}
	}
	return KindUnknown
}

// Sensitivity levels for a request payload.
const (
	SensitivityNormal    = "normal"
	SensitivitySensitive = "sensitive"
)

// PII-shaped patterns scanned over serialized arguments.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), // email
	regexp.MustCompile(`\+?\d[\d\s().-]{8,}\d`),                          // phone
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),                          // SSN-shaped
	regexp.MustCompile(`(?i)\b(secret|token|password|api[_-]?key|credential)\b`),
}

// DetectSensitivity scans the serialized arguments and upgrades the declared
// sensitivity to "sensitive" on any PII-like match. It only ever upgrades.
func DetectSensitivity(declared string, args map[string]any) string {
	if declared == SensitivitySensitive {
		return SensitivitySensitive
	}
	raw, err := json.Marshal(args)
	if err != nil {
		// Unserializable arguments cannot be proven clean.
		return SensitivitySensitive
	}
	for _, pattern := range sensitivePatterns {
		if pattern.Match(raw) {
			return SensitivitySensitive
		}
	}
	if declared == "" {
		return SensitivityNormal
	}
	return declared
}

// roundTrip converts args through JSON so schema validation sees the same
// shapes it would on a decoded wire payload.
func roundTrip(args map[string]any) (any, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("arguments not serializable: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
