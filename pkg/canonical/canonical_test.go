package canonical

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeys(t *testing.T) {
	out, err := Marshal(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	require.Equal(t, `{"a":1,"b":2}`, string(out))
}

func TestMarshalRejectsNaN(t *testing.T) {
	_, err := Marshal(map[string]any{"x": math.NaN()})
	require.Error(t, err)

	_, err = Marshal([]float64{1.0, math.Inf(1)})
	require.Error(t, err)
}

func TestHashStableAcrossKeyOrder(t *testing.T) {
	h1, err := Hash(map[string]any{"run_id": "r1", "outcome": "success"})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"outcome": "success", "run_id": "r1"})
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Contains(t, h1, "sha256:")
}

func TestHashDiffersOnContent(t *testing.T) {
	h1, _ := Hash(map[string]any{"outcome": "success"})
	h2, _ := Hash(map[string]any{"outcome": "failed"})
	require.NotEqual(t, h1, h2)
}
