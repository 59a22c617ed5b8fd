//go:build property
// +build property

// Property-based tests for ladder and score invariants.
package reputation_test

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/steward-sh/steward/pkg/config"
	"github.com/steward-sh/steward/pkg/reputation"
	"github.com/steward-sh/steward/pkg/state"
)

// Property: the allowed level is monotonically non-decreasing in the score.
func TestLevelMonotoneInScore(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	ladder := reputation.NewLadder(config.DefaultProfile().Ladder)

	properties.Property("level(a) <= level(b) when a <= b", prop.ForAll(
		func(a, b float64) bool {
			if a > b {
				a, b = b, a
			}
			return ladder.LevelFor(a) <= ladder.LevelFor(b)
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

// Property: any event sequence keeps the score inside [0,1].
func TestScoreAlwaysClamped(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	events := []reputation.OutcomeEvent{
		reputation.EventSuccessfulClosure,
		reputation.EventReopen,
		reputation.EventConfidentRevert,
		reputation.EventValidationSuccess,
		reputation.EventValidationFailure,
	}

	properties.Property("score stays in [0,1] under any event sequence", prop.ForAll(
		func(picks []int, confidences []float64) bool {
			ledger := reputation.NewLedger(state.NewMemoryStore(), config.DefaultProfile().Ladder)
			ctx := context.Background()
			for i, pick := range picks {
				conf := 0.5
				if i < len(confidences) {
					conf = confidences[i]
				}
				event := events[((pick%len(events))+len(events))%len(events)]
				ds, err := ledger.UpdateScore(ctx, "d", event, conf)
				if err != nil {
					return false
				}
				if ds.Score < 0 || ds.Score > 1 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int()),
		gen.SliceOf(gen.Float64Range(0, 1)),
	))

	properties.TestingRun(t)
}
