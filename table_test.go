package incrtable

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	cd "github.com/unkn0wn-root/incrtable/codec"
	"github.com/unkn0wn-root/incrtable/depgraph"
	"github.com/unkn0wn-root/incrtable/scheduler"
	"github.com/unkn0wn-root/incrtable/store/memory"
)

// ==============================
// Test harness: a fake root layer plus a concrete module spec.
// The AST layer that produces the session change set lives outside the
// framework; tests stand in for it with rootView + NewRootResult.
// ==============================

type rootView struct {
	mu   sync.Mutex
	vals map[string]int
}

func newRootView(vals map[string]int) *rootView {
	m := make(map[string]int, len(vals))
	for k, v := range vals {
		m[k] = v
	}
	return &rootView{vals: m}
}

func (r *rootView) value(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vals[name]
}

func (r *rootView) set(name string, v int) {
	r.mu.Lock()
	r.vals[name] = v
	r.mu.Unlock()
}

func (r *rootView) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.vals))
	for k := range r.vals {
		out = append(out, k)
	}
	return out
}

// rootResult builds the root of a chain: the given module names count as
// changed this generation.
func rootResult(reg *depgraph.Registry, rv *rootView, changed ...string) *Result {
	s := depgraph.NewSet()
	for _, n := range changed {
		s.Add(reg.Intern("root/" + n))
	}
	return NewRootResult("root", rv, s)
}

// modSpec derives one int per module straight from the root. Key and trigger
// are both the module name.
type modSpec struct {
	reg      *depgraph.Registry
	lazy     bool
	legacy   []string // blanket set returned by LegacyTriggers
	fail     map[string]error
	produced atomic.Int64

	// when set, Produce signals started once and then blocks until unblocked
	started chan struct{}
	block   chan struct{}
}

func (s *modSpec) Name() string                  { return "mods" }
func (s *modSpec) TriggerToKey(t string) string  { return t }
func (s *modSpec) KeyToTrigger(k string) string  { return k }
func (s *modSpec) LazyIncremental() bool         { return s.lazy }
func (s *modSpec) EqualValue(a, b int) bool      { return a == b }
func (s *modSpec) RenderKey(k string) string     { return k }
func (s *modSpec) TriggerDep(t string) depgraph.Dep {
	return s.reg.Intern("mods/" + t)
}

func (s *modSpec) FilterUpstream(d depgraph.Dep) (string, bool) {
	name, ok := s.reg.Name(d)
	if !ok || !strings.HasPrefix(name, "root/") {
		return "", false
	}
	return strings.TrimPrefix(name, "root/"), true
}

func (s *modSpec) Produce(_ context.Context, prev *rootView, trig string, _ depgraph.Dep) (int, error) {
	if s.started != nil {
		s.started <- struct{}{}
		<-s.block
	}
	s.produced.Add(1)
	if err := s.fail[trig]; err != nil {
		return 0, err
	}
	return prev.value(trig), nil
}

func (s *modSpec) AllKeys(_ context.Context, prev *rootView) ([]string, error) {
	return prev.names(), nil
}

func (s *modSpec) LegacyTriggers(_ *Result, changed []string) []string {
	if len(changed) == 0 {
		return nil
	}
	return s.legacy
}

func newModTable(t *testing.T, reg *depgraph.Registry, spec *modSpec, retain bool) (*Table[*rootView, string, int, string], *memory.Store) {
	t.Helper()
	ms := memory.New()
	opts := Options[*rootView, string, int, string]{
		Spec:      spec,
		Store:     ms,
		Codec:     cd.JSON[int]{},
		Registry:  reg,
		Scheduler: scheduler.Parallel{Limit: 4},
	}
	var (
		tb  *Table[*rootView, string, int, string]
		err error
	)
	if retain {
		tb, err = NewRetained(opts)
	} else {
		tb, err = NewTransient(opts)
	}
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	return tb, ms
}

func mustView(t *testing.T, tb *Table[*rootView, string, int, string], res *Result) *View[*rootView, string, int, string] {
	t.Helper()
	v, err := tb.ReadOnly(res)
	if err != nil {
		t.Fatalf("ReadOnly: %v", err)
	}
	return v
}

func mustGet(t *testing.T, v *View[*rootView, string, int, string], key string) int {
	t.Helper()
	got, ok, err := v.Get(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("Get %q: ok=%v err=%v", key, ok, err)
	}
	return got
}

// ==============================
// Constructor validation
// ==============================

func TestNewValidatesOptions(t *testing.T) {
	reg := depgraph.NewRegistry()
	spec := &modSpec{reg: reg, lazy: true}
	base := Options[*rootView, string, int, string]{
		Spec:     spec,
		Store:    memory.New(),
		Codec:    cd.JSON[int]{},
		Registry: reg,
	}

	if _, err := NewRetained(base); err != nil {
		t.Fatalf("valid options rejected: %v", err)
	}

	cases := []struct {
		name string
		mut  func(o *Options[*rootView, string, int, string])
	}{
		{"no spec", func(o *Options[*rootView, string, int, string]) { o.Spec = nil }},
		{"no store", func(o *Options[*rootView, string, int, string]) { o.Store = nil }},
		{"no codec", func(o *Options[*rootView, string, int, string]) { o.Codec = nil }},
		{"no registry", func(o *Options[*rootView, string, int, string]) { o.Registry = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := base
			tc.mut(&o)
			if _, err := NewTransient(o); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}

// A negative Parallelism must clamp to GOMAXPROCS like zero does, never leak
// through as an uncapped scheduler limit.
func TestNegativeParallelismClamped(t *testing.T) {
	reg := depgraph.NewRegistry()
	spec := &modSpec{reg: reg, lazy: true}
	tb, err := NewTransient(Options[*rootView, string, int, string]{
		Spec:        spec,
		Store:       memory.New(),
		Codec:       cd.JSON[int]{},
		Registry:    reg,
		Parallelism: -2,
	})
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	p, ok := tb.sched.(scheduler.Parallel)
	if !ok || p.Limit <= 0 {
		t.Fatalf("default scheduler = %#v, want Parallel with a positive limit", tb.sched)
	}
}

// ==============================
// Single-layer update behavior
// ==============================

// TestUpdateConcreteScenario is the two-key scenario: {"mod.x": 1, "mod.y": 2},
// an upstream change touching only mod.x. Unchanged recomputation leaves the
// locally-triggered set empty; a real change triggers exactly mod.x.
func TestUpdateConcreteScenario(t *testing.T) {
	ctx := context.Background()
	reg := depgraph.NewRegistry()
	rv := newRootView(map[string]int{"mod.x": 1, "mod.y": 2})
	spec := &modSpec{reg: reg, lazy: true}
	tb, _ := newModTable(t, reg, spec, true)

	res0, err := tb.Rebuild(ctx, rootResult(reg, rv))
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	v0 := mustView(t, tb, res0)
	if got := mustGet(t, v0, "mod.x"); got != 1 {
		t.Fatalf("mod.x = %d, want 1", got)
	}
	if got := mustGet(t, v0, "mod.y"); got != 2 {
		t.Fatalf("mod.y = %d, want 2", got)
	}

	t.Run("unchanged_value_empty_local_set", func(t *testing.T) {
		// root churn on mod.x without a value change
		before := spec.produced.Load()
		res, err := tb.Update(ctx, rootResult(reg, rv, "mod.x"), nil)
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if spec.produced.Load() != before+1 {
			t.Fatalf("expected exactly one recomputation, got %d", spec.produced.Load()-before)
		}
		if res.Local().Len() != 0 {
			t.Fatalf("unchanged recompute must not trigger, local=%v", res.Local())
		}
	})

	t.Run("changed_value_triggers_exactly_that_key", func(t *testing.T) {
		rv.set("mod.x", 3)
		res, err := tb.Update(ctx, rootResult(reg, rv, "mod.x"), nil)
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		want := depgraph.NewSet(reg.Intern("mods/mod.x"))
		if res.Local().Len() != 1 || !res.Local().Has(reg.Intern("mods/mod.x")) {
			t.Fatalf("local = %v, want %v", res.Local(), want)
		}
		v := mustView(t, tb, res)
		if got := mustGet(t, v, "mod.x"); got != 3 {
			t.Fatalf("mod.x = %d, want 3", got)
		}
		// mod.y untouched
		if got := mustGet(t, v, "mod.y"); got != 2 {
			t.Fatalf("mod.y = %d, want 2 (must be untouched)", got)
		}
	})
}

// TestUpdateIdempotence runs the same update twice: the second pass recomputes
// but produces an empty locally-triggered set and byte-identical content.
func TestUpdateIdempotence(t *testing.T) {
	ctx := context.Background()
	reg := depgraph.NewRegistry()
	rv := newRootView(map[string]int{"a": 10, "b": 20})
	spec := &modSpec{reg: reg, lazy: true}
	tb, _ := newModTable(t, reg, spec, true)

	if _, err := tb.Rebuild(ctx, rootResult(reg, rv)); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	rv.set("a", 11)
	if _, err := tb.Update(ctx, rootResult(reg, rv, "a"), nil); err != nil {
		t.Fatalf("Update: %v", err)
	}

	snap1, err := tb.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	res, err := tb.Update(ctx, rootResult(reg, rv, "a"), nil)
	if err != nil {
		t.Fatalf("second Update: %v", err)
	}
	if res.Local().Len() != 0 {
		t.Fatalf("no-op update must have empty local set, got %v", res.Local())
	}

	snap2, err := tb.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	diff, err := DiffSnapshots(snap1, snap2)
	if err != nil {
		t.Fatalf("DiffSnapshots: %v", err)
	}
	if !diff.Empty() {
		t.Fatalf("table changed across no-op update: %+v", diff)
	}
}

// TestUpdateCompleteness: every trigger in the candidate set ends up with a
// freshly produced value, not a stale one.
func TestUpdateCompleteness(t *testing.T) {
	ctx := context.Background()
	reg := depgraph.NewRegistry()
	rv := newRootView(map[string]int{"a": 1, "b": 2, "c": 3})
	spec := &modSpec{reg: reg, lazy: true}
	tb, _ := newModTable(t, reg, spec, true)

	if _, err := tb.Rebuild(ctx, rootResult(reg, rv)); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	rv.set("a", 100)
	rv.set("c", 300)
	res, err := tb.Update(ctx, rootResult(reg, rv, "a", "c"), nil)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	v := mustView(t, tb, res)
	for key, want := range map[string]int{"a": 100, "b": 2, "c": 300} {
		if got := mustGet(t, v, key); got != want {
			t.Fatalf("%s = %d, want %d", key, got, want)
		}
	}
}

func TestUpdateRequiresPredecessor(t *testing.T) {
	reg := depgraph.NewRegistry()
	spec := &modSpec{reg: reg, lazy: true}
	tb, _ := newModTable(t, reg, spec, true)

	if _, err := tb.Update(context.Background(), nil, nil); !errors.Is(err, ErrNoPredecessor) {
		t.Fatalf("expected ErrNoPredecessor, got %v", err)
	}
}

func TestUpdateRejectsWrongPredecessorView(t *testing.T) {
	reg := depgraph.NewRegistry()
	spec := &modSpec{reg: reg, lazy: true}
	tb, _ := newModTable(t, reg, spec, true)

	// root view of the wrong type
	bad := NewRootResult("root", "not a view", depgraph.NewSet())
	_, err := tb.Update(context.Background(), bad, nil)
	var ce *ContractError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ContractError, got %v", err)
	}
}

func TestUpdateNotReentrant(t *testing.T) {
	ctx := context.Background()
	reg := depgraph.NewRegistry()
	rv := newRootView(map[string]int{"a": 1})
	spec := &modSpec{
		reg:     reg,
		lazy:    true,
		started: make(chan struct{}, 1),
		block:   make(chan struct{}),
	}
	tb, _ := newModTable(t, reg, spec, true)

	done := make(chan error, 1)
	go func() {
		_, err := tb.Update(ctx, rootResult(reg, rv, "a"), nil)
		done <- err
	}()

	<-spec.started // first pass is mid-recompute
	if _, err := tb.Update(ctx, rootResult(reg, rv, "a"), nil); !errors.Is(err, ErrUpdateInProgress) {
		t.Fatalf("expected ErrUpdateInProgress, got %v", err)
	}
	close(spec.block)
	if err := <-done; err != nil {
		t.Fatalf("first update: %v", err)
	}
}

// ==============================
// Failure semantics
// ==============================

// A single failing recomputation is absorbed: the pass completes, the key is
// on the failure list, its dependency is conservatively treated as changed,
// and reads of the key surface the error until a later pass succeeds.
func TestProduceFailureIsolated(t *testing.T) {
	ctx := context.Background()
	reg := depgraph.NewRegistry()
	rv := newRootView(map[string]int{"good": 1, "bad": 2})
	boom := errors.New("boom")
	spec := &modSpec{reg: reg, lazy: true, fail: map[string]error{"bad": boom}}
	tb, _ := newModTable(t, reg, spec, true)

	res, err := tb.Rebuild(ctx, rootResult(reg, rv))
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	if got := res.Failed(); len(got) != 1 || !errors.Is(got["bad"], boom) {
		t.Fatalf("Failed() = %v, want bad->boom", got)
	}
	var ue *UpdateError
	if !errors.As(res.Err(), &ue) || !errors.Is(res.Err(), boom) {
		t.Fatalf("Err() = %v, want UpdateError wrapping boom", res.Err())
	}
	if !res.Local().Has(reg.Intern("mods/bad")) {
		t.Fatalf("failed key must be conservatively marked changed")
	}

	v := mustView(t, tb, res)
	if got := mustGet(t, v, "good"); got != 1 {
		t.Fatalf("good = %d, want 1", got)
	}
	if _, _, err := v.Get(ctx, "bad"); !errors.Is(err, boom) {
		t.Fatalf("Get bad: err=%v, want boom", err)
	}

	// next pass succeeds and clears the failure
	spec.fail = nil
	res2, err := tb.Update(ctx, rootResult(reg, rv, "bad"), nil)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res2.Err() != nil {
		t.Fatalf("recovered pass still failing: %v", res2.Err())
	}
	v2 := mustView(t, tb, res2)
	if got := mustGet(t, v2, "bad"); got != 2 {
		t.Fatalf("bad = %d, want 2 after recovery", got)
	}
}

// ==============================
// Transient variant behavior
// ==============================

// An entry evicted from the store is recomputed on demand against the
// predecessor view captured at update time, and written back.
func TestTransientRecomputeOnMiss(t *testing.T) {
	ctx := context.Background()
	reg := depgraph.NewRegistry()
	rv := newRootView(map[string]int{"a": 7})
	spec := &modSpec{reg: reg, lazy: true}
	tb, ms := newModTable(t, reg, spec, false)

	res, err := tb.Rebuild(ctx, rootResult(reg, rv))
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	v := mustView(t, tb, res)

	// evict behind the table's back
	if err := ms.Del(ctx, "layer:mods:a"); err != nil {
		t.Fatalf("Del: %v", err)
	}

	before := spec.produced.Load()
	if got := mustGet(t, v, "a"); got != 7 {
		t.Fatalf("a = %d, want 7", got)
	}
	if spec.produced.Load() != before+1 {
		t.Fatalf("expected on-demand recompute, produced %d times", spec.produced.Load()-before)
	}

	// written back: the next read decodes from the store
	before = spec.produced.Load()
	if got := mustGet(t, v, "a"); got != 7 {
		t.Fatalf("a = %d, want 7", got)
	}
	if spec.produced.Load() != before {
		t.Fatalf("second read should hit the store, produced %d times", spec.produced.Load()-before)
	}
}

func TestViewMissForUnknownKey(t *testing.T) {
	ctx := context.Background()
	reg := depgraph.NewRegistry()
	rv := newRootView(map[string]int{"a": 1})
	spec := &modSpec{reg: reg, lazy: true}
	tb, _ := newModTable(t, reg, spec, true)

	res, err := tb.Rebuild(ctx, rootResult(reg, rv))
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	v := mustView(t, tb, res)
	if _, ok, err := v.Get(ctx, "nope"); ok || err != nil {
		t.Fatalf("unknown key: ok=%v err=%v, want plain miss", ok, err)
	}
}

// Tagged reads record edges in the registry.
func TestViewTaggedReadRecordsEdge(t *testing.T) {
	ctx := context.Background()
	reg := depgraph.NewRegistry()
	rv := newRootView(map[string]int{"a": 1})
	spec := &modSpec{reg: reg, lazy: true}
	tb, _ := newModTable(t, reg, spec, true)

	res, err := tb.Rebuild(ctx, rootResult(reg, rv))
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	v := mustView(t, tb, res)

	reader := reg.Intern("downstream/consumer")
	if _, _, err := v.Get(ctx, "a", reader); err != nil {
		t.Fatalf("Get: %v", err)
	}
	src := reg.Intern("mods/a")
	readers := reg.Readers(src)
	if len(readers) != 1 || readers[0] != reader {
		t.Fatalf("Readers(%v) = %v, want [%v]", src, readers, reader)
	}
}

// ==============================
// Contract verification
// ==============================

func TestVerifySpecPasses(t *testing.T) {
	reg := depgraph.NewRegistry()
	rv := newRootView(map[string]int{"a": 1, "b": 2})
	spec := &modSpec{reg: reg, lazy: true}
	if err := VerifySpec[*rootView, string, int, string](context.Background(), spec, rv); err != nil {
		t.Fatalf("VerifySpec: %v", err)
	}
}

// brokenSpec violates the round trip: keys gain a prefix that KeyToTrigger
// does not strip.
type brokenSpec struct{ modSpec }

func (s *brokenSpec) TriggerToKey(t string) string { return "k:" + t }

func TestVerifySpecCatchesRoundTrip(t *testing.T) {
	reg := depgraph.NewRegistry()
	rv := newRootView(map[string]int{"a": 1})
	spec := &brokenSpec{modSpec{reg: reg, lazy: true}}
	err := VerifySpec[*rootView, string, int, string](context.Background(), spec, rv)
	var ce *ContractError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ContractError, got %v", err)
	}
}
