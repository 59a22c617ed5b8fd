package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STEWARD_STATE_PATH", "")
	t.Setenv("LOG_LEVEL", "")

	cfg := Load()
	require.Equal(t, "steward.db", cfg.StatePath)
	require.Equal(t, "INFO", cfg.LogLevel)
	require.False(t, cfg.TelemetryOn)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STEWARD_STATE_PATH", "/var/lib/steward/state.db")
	t.Setenv("STEWARD_REDIS_ADDR", "localhost:6379")
	t.Setenv("STEWARD_SNAPSHOT_EVERY_SECONDS", "60")

	cfg := Load()
	require.Equal(t, "/var/lib/steward/state.db", cfg.StatePath)
	require.Equal(t, "localhost:6379", cfg.RedisAddr)
	require.Equal(t, int64(60), int64(cfg.SnapshotEvery.Seconds()))
}

func TestDefaultProfileValid(t *testing.T) {
	require.NoError(t, DefaultProfile().Validate())
}

func TestLoadProfileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	body := `
name: cautious
ladder:
  trusted_threshold: 0.9
  risk_exec_threshold: 0.7
  safe_exec_threshold: 0.4
  propose_threshold: 0.2
  maturation_days: 14
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	p, err := LoadProfile(path)
	require.NoError(t, err)
	require.Equal(t, "cautious", p.Name)
	require.Equal(t, 0.9, p.Ladder.TrustedThreshold)
	require.Equal(t, 14, p.Ladder.MaturationDays)
	// Untouched sections keep defaults.
	require.Equal(t, 0.30, p.QuietMode.ReputationWeight)
	require.Equal(t, 200, p.Surfacing.MaxBuffered)
}

func TestLoadProfileRejectsBadLadder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	body := `
ladder:
  trusted_threshold: 0.1
  risk_exec_threshold: 0.7
  safe_exec_threshold: 0.4
  propose_threshold: 0.2
  maturation_days: 7
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	_, err := LoadProfile(path)
	require.Error(t, err)
}
