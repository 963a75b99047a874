package incrtable

import (
	"bytes"
	"context"
	"sort"

	"github.com/unkn0wn-root/incrtable/internal/util"
	"github.com/unkn0wn-root/incrtable/internal/wire"
)

// Snapshot serializes the table to a deterministic frame (entries sorted by
// rendered key, each with its content hash) for external consistency
// tooling, e.g. comparing two sessions' tables for unexpected divergence.
//
// Retained tables snapshot every computed entry. Transient tables snapshot
// what is resident in the store; entries evicted since their last
// recomputation are omitted. Keys whose last recomputation failed are always
// omitted.
func (t *Table[P, K, V, T]) Snapshot(ctx context.Context) ([]byte, error) {
	t.mu.RLock()
	epoch := t.epoch
	keys := make([]K, 0, len(t.keys))
	for k := range t.keys {
		if _, bad := t.failed[k]; bad {
			continue
		}
		keys = append(keys, k)
	}
	var resident map[K]V
	if t.retain {
		resident = make(map[K]V, len(t.values))
		for k, v := range t.values {
			resident[k] = v
		}
	}
	t.mu.RUnlock()

	items := make([]wire.SnapItem, 0, len(keys))
	for _, k := range keys {
		rk := t.spec.RenderKey(k)
		var payload []byte
		if t.retain {
			enc, err := t.codec.Encode(resident[k])
			if err != nil {
				return nil, err
			}
			payload = enc
		} else {
			raw, ok, err := t.store.Get(ctx, util.EntryKey(t.spec.Name(), rk))
			if err != nil {
				return nil, err
			}
			if !ok {
				continue // evicted
			}
			_, p, err := wire.DecodeItem(raw)
			if err != nil {
				continue // corrupt entries are not snapshot material
			}
			payload = p
		}
		items = append(items, wire.SnapItem{
			Key:     rk,
			Hash:    util.ContentHash(payload),
			Payload: payload,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return wire.EncodeSnapshot(epoch, items)
}

// SnapshotDiff is the result of comparing two table snapshots by content.
type SnapshotDiff struct {
	Added   []string // keys only in the second snapshot
	Removed []string // keys only in the first snapshot
	Changed []string // keys present in both with differing content hashes
}

func (d SnapshotDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffSnapshots compares two snapshot frames key by key. Comparison is by
// content hash, so both snapshots must come from layers using the same
// (stable) codec.
func DiffSnapshots(a, b []byte) (SnapshotDiff, error) {
	var d SnapshotDiff
	_, ia, err := wire.DecodeSnapshot(a)
	if err != nil {
		return d, err
	}
	_, ib, err := wire.DecodeSnapshot(b)
	if err != nil {
		return d, err
	}

	first := make(map[string][wire.HashLen]byte, len(ia))
	for _, it := range ia {
		first[it.Key] = it.Hash
	}
	second := make(map[string][wire.HashLen]byte, len(ib))
	for _, it := range ib {
		second[it.Key] = it.Hash
	}

	for k, ha := range first {
		hb, ok := second[k]
		if !ok {
			d.Removed = append(d.Removed, k)
			continue
		}
		if !bytes.Equal(ha[:], hb[:]) {
			d.Changed = append(d.Changed, k)
		}
	}
	for k := range second {
		if _, ok := first[k]; !ok {
			d.Added = append(d.Added, k)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d, nil
}
