package incrtable

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The table calls them from parallel workers on hot paths.
type Hooks interface {
	// Produce failed for one key; the key's dependency is conservatively
	// treated as changed and the error is recorded on the result.
	ProduceFailed(layer, key string, err error)

	// A recomputed value compared equal to the stored one; its dependency was
	// excluded from the locally-triggered set.
	EarlyCutoff(layer, key string)

	// A layer with fine-grained tracking disabled fell back to blanket
	// invalidation. keys is the size of the work list.
	LegacyInvalidation(layer string, keys int)

	// Store returned ok=false on Set (backpressure/eviction).
	StoreSetRejected(storageKey string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) ProduceFailed(string, string, error) {}
func (NopHooks) EarlyCutoff(string, string)          {}
func (NopHooks) LegacyInvalidation(string, int)      {}
func (NopHooks) StoreSetRejected(string)             {}
