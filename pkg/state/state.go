// Package state provides the persistent key-value store everything else is
// built on. Values are opaque JSON documents addressed by string keys with
// prefix queries. Reads never fail past the store boundary: a missing key or
// an undecodable value leaves the caller's default in place.
package state

import (
	"context"
	"encoding/json"
	"strings"
)

// Store is a persisted key to JSON-value mapping. All operations are atomic
// per key and safe for concurrent callers without external locking.
type Store interface {
	// Get decodes the value at key into dest and reports whether it did.
	// A missing key or undecodable value returns false and leaves dest
	// untouched, so callers keep their supplied default.
	Get(ctx context.Context, key string, dest any) bool

	// Set upserts the value at key. Last write wins; no history is kept.
	Set(ctx context.Context, key string, value any) error

	// Delete removes the key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// GetPrefix returns every key under the prefix with its raw value.
	GetPrefix(ctx context.Context, prefix string) (map[string]json.RawMessage, error)

	// DeletePrefix removes every key under the prefix, returning the count.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Keys lists keys under the prefix ("" lists everything).
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Count counts keys under the prefix ("" counts everything).
	Count(ctx context.Context, prefix string) (int, error)

	Close() error
}

// likePrefix escapes a key prefix for use in a LIKE pattern with ESCAPE '\'.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
