package reputation

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-sh/steward/pkg/config"
	"github.com/steward-sh/steward/pkg/state"
)

func TestSnapshotRoundTrip(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.UpdateScore(ctx, "code_changes", EventSuccessfulClosure, 1.0)
	require.NoError(t, err)
	_, err = l.RecordProvisionalSuccess(ctx, "act-1", "code_changes", 0.9)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "reputation.json")
	require.NoError(t, l.SaveSnapshot(ctx, path))

	restored := NewLedger(state.NewMemoryStore(), config.DefaultProfile().Ladder)
	require.NoError(t, restored.LoadSnapshot(ctx, path))

	assert.InDelta(t, 0.52, restored.DomainScore(ctx, "code_changes").Score, 1e-9)
	rewards, err := restored.PendingRewards(ctx)
	require.NoError(t, err)
	require.Len(t, rewards, 1)
	assert.Equal(t, "act-1", rewards[0].ActionID)
	assert.False(t, rewards[0].Matured)
}

func TestSnapshotMissingFileIsFine(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.LoadSnapshot(context.Background(), filepath.Join(t.TempDir(), "nope.json")))
}

func TestSnapshotRejectsIncompatibleMajor(t *testing.T) {
	snap := Snapshot{Version: "2.0.0", GeneratedAt: time.Now()}
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "reputation.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	l, _ := newTestLedger(t)
	require.Error(t, l.LoadSnapshot(context.Background(), path))
}

func TestSnapshotHashStable(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := l.UpdateScore(ctx, "d", EventValidationSuccess, 0.5)
	require.NoError(t, err)

	s1, err := l.Snapshot(ctx)
	require.NoError(t, err)
	s2, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, s1.ContentHash, s2.ContentHash)
}
