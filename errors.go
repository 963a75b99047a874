package incrtable

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUpdateInProgress is returned when Update is re-entered while a pass
	// for the same table is still running. Updates are at-most-once per
	// session generation.
	ErrUpdateInProgress = errors.New("incrtable: update already in progress")

	// ErrNoPredecessor is returned when Update is called without a
	// predecessor result. Tables always derive from a layer below; the root
	// of a chain is injected via NewRootResult.
	ErrNoPredecessor = errors.New("incrtable: predecessor result is required")
)

// ContractError reports a defect in a layer's Spec: a key/trigger conversion
// that does not round-trip, a filter matching a non-corresponding trigger, or
// a predecessor view of the wrong type. These are programming errors, meant
// to fail fast in development and tests, not runtime-recoverable conditions.
type ContractError struct {
	Layer  string
	Detail string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("incrtable: layer %q violates spec contract: %s", e.Layer, e.Detail)
}

// UpdateError aggregates per-key Produce failures from one update pass. The
// pass itself completes (failed keys are conservatively treated as changed);
// this error is how callers inspect the failures afterwards.
type UpdateError struct {
	Layer    string
	Failures map[string]error // rendered key -> cause
}

func (e *UpdateError) Error() string {
	keys := make([]string, 0, len(e.Failures))
	for k := range e.Failures {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	switch len(keys) {
	case 0:
		return fmt.Sprintf("incrtable: layer %q: unknown update error", e.Layer)
	case 1:
		return fmt.Sprintf("incrtable: layer %q: recompute %q failed: %v", e.Layer, keys[0], e.Failures[keys[0]])
	default:
		return fmt.Sprintf("incrtable: layer %q: recompute failed for %d keys (first %q: %v)",
			e.Layer, len(keys), keys[0], e.Failures[keys[0]])
	}
}

func (e *UpdateError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		errs = append(errs, err)
	}
	return errs
}
