package incrtable

import (
	"context"
	"fmt"
	"runtime"

	cd "github.com/unkn0wn-root/incrtable/codec"
	"github.com/unkn0wn-root/incrtable/depgraph"
	"github.com/unkn0wn-root/incrtable/scheduler"
	st "github.com/unkn0wn-root/incrtable/store"
)

// Layer is the uniform contract every environment layer exposes so layers
// compose into a chain. A layer never inspects more than its immediate
// predecessor; transitive history is reached via the Result chain.
type Layer interface {
	Name() string

	// Update recomputes the entries invalidated by the predecessor's result
	// and wraps it in this layer's own result. changedRoots is the session
	// root change set (top-level names), consulted only by layers running in
	// legacy invalidation mode. Not reentrant: at most one pass per table at
	// a time.
	Update(ctx context.Context, prev *Result, changedRoots []string) (*Result, error)
}

// Spec fully determines a concrete layer. P is the predecessor's read-only
// view type, K the storage key, V the computed value, T the invalidation
// trigger. K and T convert one-to-one and the round trip must hold:
// TriggerToKey(KeyToTrigger(k)) == k for every key the layer can produce.
//
// Produce is the one place actual derivation logic lives. It MUST be a pure
// function of its declared inputs: it may read the predecessor only through
// the given view (tagging reads with dep so the edge is recorded) and must
// never touch this layer's own in-progress table. The framework cannot
// enforce this; it is a contractual obligation checked only by review and by
// VerifySpec-style tests.
type Spec[P any, K comparable, V any, T comparable] interface {
	// Name scopes storage keys and dependency names; unique per chain.
	Name() string

	TriggerToKey(T) K
	KeyToTrigger(K) T

	// FilterUpstream projects an upstream dependency token into this layer's
	// trigger space, or reports not-relevant. Fails soft: a non-matching
	// token is simply skipped.
	FilterUpstream(d depgraph.Dep) (T, bool)

	// TriggerDep returns the registered token identifying a trigger of this
	// layer, used both to tag reads made on behalf of the trigger and to
	// publish it in result sets.
	TriggerDep(t T) depgraph.Dep

	// Produce recomputes the value for one trigger against the predecessor's
	// view. Deterministic given its inputs.
	Produce(ctx context.Context, prev P, trig T, dep depgraph.Dep) (V, error)

	// AllKeys enumerates every key this layer could hold; used for full
	// rebuilds only.
	AllKeys(ctx context.Context, prev P) ([]K, error)

	// LegacyTriggers derives the blanket invalidation set straight from the
	// root result and the session root change set. Consulted only when
	// LazyIncremental reports false.
	LegacyTriggers(root *Result, changedRoots []string) []T

	// LazyIncremental selects fine-grained (trigger-filtered) invalidation;
	// false selects the legacy blanket path, which strictly overrides
	// fine-grained filtering for this layer.
	LazyIncremental() bool

	// EqualValue is the early-cutoff comparison.
	EqualValue(a, b V) bool

	// RenderKey is the human-readable key form used in storage keys,
	// diagnostics and snapshots. Must be injective.
	RenderKey(K) string
}

// Options tune a table. Spec, Store, Codec and Registry are required; the
// registry is process-wide and shared by every layer of the chain.
type Options[P any, K comparable, V any, T comparable] struct {
	// Required
	Spec     Spec[P, K, V, T]
	Store    st.Store
	Codec    cd.Codec[V]
	Registry *depgraph.Registry

	Scheduler   scheduler.Mapper // nil => scheduler.Parallel{Limit: Parallelism}
	Parallelism int              // <= 0 => GOMAXPROCS
	Logger      Logger           // nil => NopLogger
	Hooks       Hooks            // nil => NopHooks
}

// NewRetained builds the cache-retaining variant: every computed value stays
// resident for point lookups without recomputation.
func NewRetained[P any, K comparable, V any, T comparable](opts Options[P, K, V, T]) (*Table[P, K, V, T], error) {
	return newTable(opts, true)
}

// NewTransient builds the non-retaining variant: values live only as encoded
// bytes in the store and are decoded, or recomputed, on demand. Trades memory
// for compute; externally equivalent to the retained variant.
func NewTransient[P any, K comparable, V any, T comparable](opts Options[P, K, V, T]) (*Table[P, K, V, T], error) {
	return newTable(opts, false)
}

func newTable[P any, K comparable, V any, T comparable](opts Options[P, K, V, T], retain bool) (*Table[P, K, V, T], error) {
	if opts.Spec == nil {
		return nil, fmt.Errorf("incrtable: spec is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("incrtable: store is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("incrtable: codec is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("incrtable: registry is required")
	}

	t := &Table[P, K, V, T]{
		spec:    opts.Spec,
		store:   opts.Store,
		codec:   opts.Codec,
		reg:     opts.Registry,
		retain:  retain,
		keys:    make(map[K]struct{}),
		hashes:  make(map[string]K),
		hashOf:  make(map[K]string),
		failed:  make(map[K]error),
		depTrig: make(map[depgraph.Dep]T),
	}
	if retain {
		t.values = make(map[K]V)
	}

	t.log = coalesce[Logger](opts.Logger, NopLogger{})
	t.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	if opts.Scheduler != nil {
		t.sched = opts.Scheduler
	} else {
		limit := opts.Parallelism
		if limit <= 0 {
			limit = runtime.GOMAXPROCS(0)
		}
		t.sched = scheduler.Parallel{Limit: limit}
	}
	return t, nil
}
