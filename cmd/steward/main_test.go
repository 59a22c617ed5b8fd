package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunUnknownCommand(t *testing.T) {
	var out, errBuf bytes.Buffer
	code := Run([]string{"steward", "frobnicate"}, &out, &errBuf)
	assert.Equal(t, 2, code)
	assert.Contains(t, errBuf.String(), "unknown command")
}

func TestRunVersion(t *testing.T) {
	var out, errBuf bytes.Buffer
	code := Run([]string{"steward", "version"}, &out, &errBuf)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "steward ")
}

func TestRunStatusAgainstFreshStore(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STEWARD_STATE_PATH", filepath.Join(dir, "state.db"))
	t.Setenv("STEWARD_RUNLOG_DIR", filepath.Join(dir, "runlogs"))
	t.Setenv("STEWARD_SNAPSHOT_PATH", filepath.Join(dir, "snap.json"))

	var out, errBuf bytes.Buffer
	code := Run([]string{"steward", "status"}, &out, &errBuf)
	require.Equal(t, 0, code, errBuf.String())
	assert.Contains(t, out.String(), "global_score")
}

func TestRunSnapshotWritesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STEWARD_STATE_PATH", filepath.Join(dir, "state.db"))
	snap := filepath.Join(dir, "snap.json")

	var out, errBuf bytes.Buffer
	code := Run([]string{"steward", "snapshot", "-path", snap}, &out, &errBuf)
	require.Equal(t, 0, code, errBuf.String())
	assert.Contains(t, out.String(), snap)
}
