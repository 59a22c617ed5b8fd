package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/steward-sh/steward/pkg/canonical"
)

// SnapshotVersion is the current snapshot schema version. Loads accept any
// snapshot with the same major version.
const SnapshotVersion = "1.0.0"

// Snapshot is the full reputation state: global score, every domain record,
// and the complete pending-rewards list. It enables state reload on restart.
type Snapshot struct {
	Version        string          `json:"version"`
	GeneratedAt    time.Time       `json:"generated_at"`
	GlobalScore    float64         `json:"global_score"`
	Domains        []DomainScore   `json:"domains"`
	PendingRewards []PendingReward `json:"pending_rewards"`
	ContentHash    string          `json:"content_hash,omitempty"`
}

// Snapshot captures the current ledger state.
func (l *Ledger) Snapshot(ctx context.Context) (*Snapshot, error) {
	domains, err := l.Domains(ctx)
	if err != nil {
		return nil, err
	}
	rewards, err := l.PendingRewards(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i].Domain < domains[j].Domain })
	sort.Slice(rewards, func(i, j int) bool { return rewards[i].ActionID < rewards[j].ActionID })

	snap := &Snapshot{
		Version:        SnapshotVersion,
		GeneratedAt:    l.clock(),
		GlobalScore:    l.GlobalScore(ctx),
		Domains:        domains,
		PendingRewards: rewards,
	}
	hash, err := canonical.Hash(struct {
		Domains []DomainScore   `json:"domains"`
		Rewards []PendingReward `json:"rewards"`
	}{domains, rewards})
	if err != nil {
		return nil, fmt.Errorf("failed to hash snapshot: %w", err)
	}
	snap.ContentHash = hash
	return snap, nil
}

// SaveSnapshot writes the current state to path atomically (write to temp,
// then rename).
func (l *Ledger) SaveSnapshot(ctx context.Context, path string) error {
	snap, err := l.Snapshot(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot restores ledger state from a snapshot file. A missing file
// is not an error; an incompatible schema major version is. Callers should
// run MaturePendingRewards immediately after a successful load.
func (l *Ledger) LoadSnapshot(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if err := checkSnapshotVersion(snap.Version); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ds := range snap.Domains {
		ds.Score = clamp01(ds.Score)
		if err := l.store.Set(ctx, scoreKeyPrefix+ds.Domain, ds); err != nil {
			return fmt.Errorf("failed to restore domain %q: %w", ds.Domain, err)
		}
	}
	for _, reward := range snap.PendingRewards {
		if err := l.store.Set(ctx, rewardKeyPrefix+reward.ActionID, reward); err != nil {
			return fmt.Errorf("failed to restore reward %q: %w", reward.ActionID, err)
		}
	}
	l.logger.InfoContext(ctx, "snapshot restored",
		"path", path, "domains", len(snap.Domains), "rewards", len(snap.PendingRewards))
	return nil
}

func checkSnapshotVersion(raw string) error {
	if raw == "" {
		return fmt.Errorf("snapshot missing schema version")
	}
	have, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("invalid snapshot version %q: %w", raw, err)
	}
	want := semver.MustParse(SnapshotVersion)
	if have.Major() != want.Major() {
		return fmt.Errorf("incompatible snapshot version %s (supported major: %d)", raw, want.Major())
	}
	return nil
}
