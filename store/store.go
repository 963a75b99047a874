// Package store defines the byte-store substrate under every layer's table.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the same []byte that was previously passed to Set for a key (no prepended
// or appended metadata, no re-encoding, no mutation). If a store performs
// internal transforms (e.g., compression), they MUST be fully reversed so the
// bytes returned by Get are identical to the bytes provided to Set.
//
// Keyspaces of the form "layer:<name>:" are owned by the table framework.
// External code MUST NOT write values under these prefixes; foreign writes
// may be treated as corruption by strict frame validation and deleted.
package store

import "context"

// Store is a minimal byte store shared by all layers and all parallel workers
// during an update. Must be safe for concurrent use; single-key writes must be
// atomic. Nothing beyond per-key atomicity is required: the update algorithm
// guarantees the keys written within one pass are disjoint across workers.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value. May ignore cost if unsupported. Returns ok=false when
	// the store rejected the write under pressure (allowed only for stores
	// backing transient tables, which recompute on miss).
	Set(ctx context.Context, key string, value []byte, cost int64) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
