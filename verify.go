package incrtable

import (
	"context"
	"fmt"
)

// VerifySpec checks a layer Spec's structural contract over every key the
// layer can hold: the key/trigger round trip and key rendering. Run it from
// the layer's tests — contract violations are programming defects that must
// fail fast in development, not be tolerated during production updates.
//
// FilterUpstream is deliberately not checked against the layer's own tokens:
// a layer's filter matches the token namespace of the layer below it, while
// TriggerDep mints tokens in the layer's own namespace, so the two never
// correspond for a conforming spec.
func VerifySpec[P any, K comparable, V any, T comparable](ctx context.Context, spec Spec[P, K, V, T], prev P) error {
	keys, err := spec.AllKeys(ctx, prev)
	if err != nil {
		return err
	}
	rendered := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		trig := spec.KeyToTrigger(k)
		if back := spec.TriggerToKey(trig); back != k {
			return &ContractError{
				Layer:  spec.Name(),
				Detail: fmt.Sprintf("key %q does not round-trip through its trigger", spec.RenderKey(k)),
			}
		}

		rk := spec.RenderKey(k)
		if rk == "" {
			return &ContractError{Layer: spec.Name(), Detail: "RenderKey returned empty string"}
		}
		if _, dup := rendered[rk]; dup {
			return &ContractError{
				Layer:  spec.Name(),
				Detail: fmt.Sprintf("RenderKey is not injective: %q rendered twice", rk),
			}
		}
		rendered[rk] = struct{}{}
	}
	return nil
}
