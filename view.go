package incrtable

import (
	"context"

	"github.com/unkn0wn-root/incrtable/depgraph"
	"github.com/unkn0wn-root/incrtable/internal/util"
	"github.com/unkn0wn-root/incrtable/internal/wire"
)

// View is the read-only query surface of a layer after an update. It reflects
// exactly the post-update state of the pass that produced it; a view from an
// older result must not be consulted while a new pass is running.
//
// Reads tagged with dependency tokens are recorded as edges in the registry,
// so a consumer's reads become its invalidation triggers for the next pass.
type View[P any, K comparable, V any, T comparable] struct {
	t      *Table[P, K, V, T]
	prev   P
	prevOK bool
}

// Get looks up one key. Passing dependency tokens records "token read this
// key's trigger" edges. A key whose last recomputation failed returns the
// stored failure; a key the layer never computed is a plain miss.
//
// On transient tables an evicted entry is recomputed on demand against the
// predecessor view captured at update time, then written back.
func (v *View[P, K, V, T]) Get(ctx context.Context, key K, deps ...depgraph.Dep) (V, bool, error) {
	var zero V
	t := v.t

	trig := t.spec.KeyToTrigger(key)
	src := t.spec.TriggerDep(trig)
	for _, d := range deps {
		t.reg.RecordRead(src, d)
	}

	t.mu.RLock()
	ferr := t.failed[key]
	_, known := t.keys[key]
	var val V
	var have bool
	if t.retain {
		val, have = t.values[key]
	}
	t.mu.RUnlock()

	if ferr != nil {
		return zero, false, ferr
	}
	if !known {
		return zero, false, nil
	}
	if t.retain {
		if !have {
			// known but not resident cannot happen for retained tables
			return zero, false, &ContractError{Layer: t.spec.Name(), Detail: "retained value missing for known key"}
		}
		return val, true, nil
	}

	skey := util.EntryKey(t.spec.Name(), t.spec.RenderKey(key))
	if got, ok := t.current(ctx, key, skey); ok {
		return got, true, nil
	}

	// evicted from the store; recompute on demand
	if !v.prevOK {
		return zero, false, nil
	}
	got, err := t.spec.Produce(ctx, v.prev, trig, src)
	if err != nil {
		return zero, false, err
	}
	enc, err := t.codec.Encode(got)
	if err != nil {
		return zero, false, err
	}
	t.mu.RLock()
	epoch := t.epoch
	t.mu.RUnlock()
	if ok, serr := t.store.Set(ctx, skey, wire.EncodeItem(epoch, enc), int64(len(enc))); serr == nil && !ok {
		t.hooks.StoreSetRejected(skey)
	}
	return got, true, nil
}

// Hashes returns the content-hash index (hex sha256 of encoded value ->
// key). Intended for external debugging and snapshot tooling. The map is a
// copy.
func (v *View[P, K, V, T]) Hashes() map[string]K {
	t := v.t
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]K, len(t.hashes))
	for h, k := range t.hashes {
		out[h] = k
	}
	return out
}

// Equal exposes the layer's value equality for two opaque decoded values.
func (v *View[P, K, V, T]) Equal(a, b V) bool { return v.t.spec.EqualValue(a, b) }

// EncodeValue and DecodeValue expose the layer's serialization so external
// snapshot tooling can round-trip values without knowing the codec.
func (v *View[P, K, V, T]) EncodeValue(val V) ([]byte, error) { return v.t.codec.Encode(val) }

func (v *View[P, K, V, T]) DecodeValue(b []byte) (V, error) { return v.t.codec.Decode(b) }
