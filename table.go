package incrtable

import (
	"context"
	"sort"
	"sync"

	cd "github.com/unkn0wn-root/incrtable/codec"
	"github.com/unkn0wn-root/incrtable/depgraph"
	"github.com/unkn0wn-root/incrtable/internal/util"
	"github.com/unkn0wn-root/incrtable/internal/wire"
	"github.com/unkn0wn-root/incrtable/scheduler"
	st "github.com/unkn0wn-root/incrtable/store"
)

// Table is one environment layer's incremental table. Entries not covered by
// an update's trigger set are left bit-for-bit unchanged; nothing but the
// update algorithm ever mutates them. Construct with NewRetained or
// NewTransient.
type Table[P any, K comparable, V any, T comparable] struct {
	spec   Spec[P, K, V, T]
	store  st.Store
	codec  cd.Codec[V]
	reg    *depgraph.Registry
	sched  scheduler.Mapper
	log    Logger
	hooks  Hooks
	retain bool

	// guards the at-most-once-per-generation update contract
	upMu sync.Mutex

	mu     sync.RWMutex
	epoch  uint64
	keys   map[K]struct{} // every key computed at least once this session
	values map[K]V        // retained variant only
	hashes map[string]K   // content-hash (hex) -> key
	hashOf map[K]string   // key -> its current content hash
	failed map[K]error    // keys whose last recomputation failed

	// depTrig maps this layer's own tokens back to their triggers, so
	// candidates can resolve recorded read edges whose reader is one of
	// this layer's entries. Touched only under upMu.
	depTrig map[depgraph.Dep]T
}

var _ Layer = (*Table[any, string, int, string])(nil)

func (t *Table[P, K, V, T]) Name() string { return t.spec.Name() }

type workItem[K comparable, T comparable] struct {
	trig T
	key  K
	dep  depgraph.Dep
	skey string // storage key
}

type workOut[V any] struct {
	val     V
	enc     []byte
	changed bool
	err     error
}

// Update implements the shared update algorithm for both variants:
//
//  1. candidate trigger set — the predecessor's all-triggered set filtered
//     into this layer's trigger space, or the legacy blanket set when
//     fine-grained tracking is disabled for this layer (legacy strictly
//     overrides, never blended);
//  2. trigger -> key work list, bounded by distinct affected entries;
//  3. parallel recomputation against the predecessor's view, each trigger
//     carrying its registered dependency token;
//  4. early cutoff — unchanged values are written back (idempotent store)
//     but their dependency is excluded from the locally-triggered set;
//  5. result composition wrapping the predecessor's result.
//
// A Produce failure for one key never aborts the pass: the key is recorded on
// the result's failure list and conservatively marked changed so downstream
// layers re-derive rather than risk staleness.
func (t *Table[P, K, V, T]) Update(ctx context.Context, prev *Result, changedRoots []string) (*Result, error) {
	if prev == nil {
		return nil, ErrNoPredecessor
	}
	if !t.upMu.TryLock() {
		return nil, ErrUpdateInProgress
	}
	defer t.upMu.Unlock()

	prevView, ok := ViewAs[P](prev)
	if !ok {
		return nil, &ContractError{Layer: t.spec.Name(), Detail: "predecessor result carries a view of the wrong type"}
	}

	trigs := t.candidates(prev, changedRoots)
	items := t.workList(trigs)

	local, failed, err := t.recompute(ctx, prevView, items)
	if err != nil {
		return nil, err
	}

	res := &Result{
		layer:  t.spec.Name(),
		local:  local,
		all:    local.Union(prev.All()),
		prev:   prev,
		failed: failed,
	}
	res.view = &View[P, K, V, T]{t: t, prev: prevView, prevOK: true}

	t.log.Debug("update pass complete", Fields{
		"layer":     t.spec.Name(),
		"triggered": len(items),
		"changed":   local.Len(),
		"failed":    len(failed),
	})
	return res, nil
}

// Rebuild populates the table from scratch over Spec.AllKeys. Used at session
// start and after a discarded session; the resulting table is identical to
// what any sequence of updates from the same inputs would have produced.
func (t *Table[P, K, V, T]) Rebuild(ctx context.Context, prev *Result) (*Result, error) {
	if prev == nil {
		return nil, ErrNoPredecessor
	}
	if !t.upMu.TryLock() {
		return nil, ErrUpdateInProgress
	}
	defer t.upMu.Unlock()

	prevView, ok := ViewAs[P](prev)
	if !ok {
		return nil, &ContractError{Layer: t.spec.Name(), Detail: "predecessor result carries a view of the wrong type"}
	}

	keys, err := t.spec.AllKeys(ctx, prevView)
	if err != nil {
		return nil, err
	}
	trigs := make([]T, 0, len(keys))
	seen := make(map[T]struct{}, len(keys))
	for _, k := range keys {
		tr := t.spec.KeyToTrigger(k)
		if _, dup := seen[tr]; dup {
			continue
		}
		seen[tr] = struct{}{}
		trigs = append(trigs, tr)
	}
	items := t.workList(trigs)

	local, failed, err := t.recompute(ctx, prevView, items)
	if err != nil {
		return nil, err
	}

	res := &Result{
		layer:  t.spec.Name(),
		local:  local,
		all:    local.Union(prev.All()),
		prev:   prev,
		failed: failed,
	}
	res.view = &View[P, K, V, T]{t: t, prev: prevView, prevOK: true}

	t.log.Info("rebuild complete", Fields{
		"layer":  t.spec.Name(),
		"keys":   len(items),
		"failed": len(failed),
	})
	return res, nil
}

// ReadOnly extracts the layer's view from one of its results. Cheap and
// side-effect free.
func (t *Table[P, K, V, T]) ReadOnly(res *Result) (*View[P, K, V, T], error) {
	if res == nil {
		return nil, &ContractError{Layer: t.spec.Name(), Detail: "nil result"}
	}
	v, ok := res.view.(*View[P, K, V, T])
	if !ok || v.t != t {
		return nil, &ContractError{Layer: t.spec.Name(), Detail: "result does not belong to this table"}
	}
	return v, nil
}

// Close releases the underlying store. Call once per session, after every
// layer sharing the store is done.
func (t *Table[P, K, V, T]) Close(ctx context.Context) error {
	return t.store.Close(ctx)
}

// candidates computes the trigger set for one pass (§step 1). Duplicates
// collapse by set semantics.
func (t *Table[P, K, V, T]) candidates(prev *Result, changedRoots []string) []T {
	seen := make(map[T]struct{})
	var trigs []T
	add := func(tr T) {
		if _, dup := seen[tr]; dup {
			return
		}
		seen[tr] = struct{}{}
		trigs = append(trigs, tr)
	}

	if t.spec.LazyIncremental() {
		for d := range prev.All() {
			if tr, ok := t.spec.FilterUpstream(d); ok {
				add(tr)
			}
			// reads tagged through View.Get are edges too: any entry of
			// this layer recorded as a reader of d must recompute
			for _, r := range t.reg.Readers(d) {
				if tr, ok := t.depTrig[r]; ok {
					add(tr)
				}
			}
		}
		return trigs
	}

	for _, tr := range t.spec.LegacyTriggers(prev.Root(), changedRoots) {
		add(tr)
	}
	t.hooks.LegacyInvalidation(t.spec.Name(), len(trigs))
	return trigs
}

// workList converts triggers to storage-addressed work items, sorted by
// rendered key so scheduling and logs are deterministic.
func (t *Table[P, K, V, T]) workList(trigs []T) []workItem[K, T] {
	items := make([]workItem[K, T], 0, len(trigs))
	for _, tr := range trigs {
		k := t.spec.TriggerToKey(tr)
		d := t.spec.TriggerDep(tr)
		t.depTrig[d] = tr
		items = append(items, workItem[K, T]{
			trig: tr,
			key:  k,
			dep:  d,
			skey: util.EntryKey(t.spec.Name(), t.spec.RenderKey(k)),
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].skey < items[j].skey })
	return items
}

// recompute runs the work list through the scheduler and commits the results.
// Workers touch disjoint keys, write store entries directly, and publish
// their outcome through the per-index slot; the in-memory table state is
// committed in one critical section afterwards so no torn view is observable.
func (t *Table[P, K, V, T]) recompute(ctx context.Context, prevView P, items []workItem[K, T]) (depgraph.Set, map[string]error, error) {
	t.mu.RLock()
	epoch := t.epoch + 1
	t.mu.RUnlock()

	outs := make([]workOut[V], len(items))
	err := t.sched.Map(ctx, len(items), func(ctx context.Context, i int) error {
		it := items[i]
		v, perr := t.spec.Produce(ctx, prevView, it.trig, it.dep)
		if perr != nil {
			outs[i] = workOut[V]{changed: true, err: perr}
			return nil // absorbed: one key's failure never aborts the pass
		}
		enc, eerr := t.codec.Encode(v)
		if eerr != nil {
			outs[i] = workOut[V]{changed: true, err: eerr}
			return nil
		}

		old, had := t.current(ctx, it.key, it.skey)
		changed := !had || !t.spec.EqualValue(old, v)

		// the write happens even when unchanged: the store is idempotent and
		// the entry must carry the current pass's bytes
		ok, serr := t.store.Set(ctx, it.skey, wire.EncodeItem(epoch, enc), int64(len(enc)))
		if serr != nil {
			outs[i] = workOut[V]{changed: true, err: serr}
			return nil
		}
		if !ok {
			t.hooks.StoreSetRejected(it.skey)
		}
		outs[i] = workOut[V]{val: v, enc: enc, changed: changed}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	local := depgraph.NewSet()
	failed := make(map[string]error)

	t.mu.Lock()
	for i, it := range items {
		out := outs[i]
		if out.err != nil {
			// conservative over-invalidation: failed keys count as changed
			t.failed[it.key] = out.err
			t.keys[it.key] = struct{}{}
			local.Add(it.dep)
			failed[t.spec.RenderKey(it.key)] = out.err
			t.hooks.ProduceFailed(t.spec.Name(), t.spec.RenderKey(it.key), out.err)
			continue
		}

		delete(t.failed, it.key)
		t.keys[it.key] = struct{}{}
		if t.retain {
			t.values[it.key] = out.val
		}
		if prevHash, ok := t.hashOf[it.key]; ok {
			delete(t.hashes, prevHash)
		}
		h := util.HashHex(util.ContentHash(out.enc))
		t.hashes[h] = it.key
		t.hashOf[it.key] = h

		if out.changed {
			local.Add(it.dep)
		} else {
			t.hooks.EarlyCutoff(t.spec.Name(), t.spec.RenderKey(it.key))
		}
	}
	t.epoch = epoch
	t.mu.Unlock()

	if len(failed) == 0 {
		failed = nil
	}
	return local, failed, nil
}

// current returns the value presently stored for key, if any. Retained
// tables answer from memory; transient tables decode the store entry.
func (t *Table[P, K, V, T]) current(ctx context.Context, key K, skey string) (V, bool) {
	var zero V
	if t.retain {
		t.mu.RLock()
		v, ok := t.values[key]
		t.mu.RUnlock()
		return v, ok
	}

	t.mu.RLock()
	_, known := t.keys[key]
	t.mu.RUnlock()
	if !known {
		return zero, false
	}
	raw, ok, err := t.store.Get(ctx, skey)
	if err != nil || !ok {
		return zero, false
	}
	_, payload, err := wire.DecodeItem(raw)
	if err != nil {
		_ = t.store.Del(ctx, skey) // self-heal corrupt
		return zero, false
	}
	v, err := t.codec.Decode(payload)
	if err != nil {
		_ = t.store.Del(ctx, skey) // self-heal
		return zero, false
	}
	return v, true
}
