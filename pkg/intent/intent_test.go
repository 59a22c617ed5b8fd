package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		action string
		want   Kind
	}{
		{"store_fact", KindStoreFact},
		{"please remember this fact", KindStoreFact},
		{"store_decision", KindStoreDecision},
		{"record decision about rollout", KindStoreDecision},
		{"delete_artifact", KindDeleteArtifact},
		{"forget artifact 42", KindDeleteArtifact},
		{"delete that stale fact", KindDeleteArtifact},
		{"launch_rockets", KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.action), tt.action)
	}
}

func TestNormalizeDecisionBeatsFact(t *testing.T) {
	// "store a decision about this fact" mentions both; the decision rule
	// precedes the fact rule.
	assert.Equal(t, KindStoreDecision, Normalize("store a decision about this fact"))
}

func TestNormalizeCanonicalTagsAreExact(t *testing.T) {
	// Canonical tags resolve before any substring rule runs, so overlapping
	// substrings inside a tag cannot misroute it.
	assert.Equal(t, KindDeleteArtifact, Normalize("delete_artifact"))
	assert.Equal(t, KindStoreDecision, Normalize(" Store_Decision "))
}

func TestDetectSensitivity(t *testing.T) {
	assert.Equal(t, SensitivityNormal,
		DetectSensitivity("", map[string]any{"content": "the sky is blue"}))

	assert.Equal(t, SensitivitySensitive,
		DetectSensitivity("", map[string]any{"content": "mail me at sam@example.com"}))

	assert.Equal(t, SensitivitySensitive,
		DetectSensitivity("", map[string]any{"content": "ssn is 123-45-6789"}))

	assert.Equal(t, SensitivitySensitive,
		DetectSensitivity("", map[string]any{"content": "the api_key is set"}))

	// Declared sensitivity is never downgraded.
	assert.Equal(t, SensitivitySensitive,
		DetectSensitivity(SensitivitySensitive, map[string]any{"content": "plain"}))
}

func TestValidateArgsStoreFact(t *testing.T) {
	require.NoError(t, ValidateArgs(KindStoreFact, map[string]any{
		"content":    "the deploy window is 14:00 UTC",
		"confidence": 0.9,
	}))

	require.Error(t, ValidateArgs(KindStoreFact, map[string]any{"confidence": 0.9}),
		"content is required")

	require.Error(t, ValidateArgs(KindStoreFact, map[string]any{
		"content": "x", "confidence": 1.5,
	}), "confidence is bounded")
}

func TestValidateArgsDeleteArtifact(t *testing.T) {
	require.NoError(t, ValidateArgs(KindDeleteArtifact, map[string]any{"artifact_id": "a-1"}))
	require.Error(t, ValidateArgs(KindDeleteArtifact, map[string]any{"force": true}))
}

func TestValidateArgsUnknownAlwaysPasses(t *testing.T) {
	require.NoError(t, ValidateArgs(KindUnknown, map[string]any{"whatever": true}))
}
