package incrtable

import "github.com/unkn0wn-root/incrtable/depgraph"

// Result is the immutable record of one update pass: the dependencies whose
// value changed at this layer, the cumulative union of such sets from this
// layer down to the root, the owned predecessor result, and this layer's
// read-only view. The chain is walked explicitly via Prev/Root; predecessors
// never point back at successors.
type Result struct {
	layer  string
	local  depgraph.Set
	all    depgraph.Set
	prev   *Result
	view   any
	failed map[string]error
}

// NewRootResult injects the root of a chain (the layer producing the session
// change set lives outside this package). triggered becomes both the local
// and the cumulative set; view is whatever query surface downstream specs
// expect from the root.
func NewRootResult(layer string, view any, triggered depgraph.Set) *Result {
	if triggered == nil {
		triggered = depgraph.NewSet()
	}
	return &Result{
		layer: layer,
		local: triggered,
		all:   triggered,
		view:  view,
	}
}

func (r *Result) Layer() string { return r.layer }

// Local is the set of dependencies whose value changed at this layer.
// Callers must treat the set as read-only.
func (r *Result) Local() depgraph.Set { return r.local }

// All is Local unioned with the predecessor's All, down to the root.
// Callers must treat the set as read-only.
func (r *Result) All() depgraph.Set { return r.all }

// Prev returns the predecessor's result, nil at the root.
func (r *Result) Prev() *Result { return r.prev }

// Root walks the chain to the root result.
func (r *Result) Root() *Result {
	for r.prev != nil {
		r = r.prev
	}
	return r
}

// Failed lists the rendered keys whose recomputation failed during this pass,
// with the cause. Failed keys were conservatively marked changed.
func (r *Result) Failed() map[string]error { return r.failed }

// Err folds the failure list into an *UpdateError, nil when the pass was
// clean.
func (r *Result) Err() error {
	if len(r.failed) == 0 {
		return nil
	}
	return &UpdateError{Layer: r.layer, Failures: r.failed}
}

// ViewAny exposes the layer's read-only view untyped; prefer ViewAs or the
// owning table's ReadOnly.
func (r *Result) ViewAny() any { return r.view }

// ViewAs extracts the view with its concrete type, e.g. the predecessor view
// type a Spec's Produce expects.
func ViewAs[P any](r *Result) (P, bool) {
	v, ok := r.view.(P)
	return v, ok
}
