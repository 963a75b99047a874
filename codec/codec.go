package codec

// Codec encodes/decodes layer values V to []byte for the table store and for
// snapshot export. Encodings used for snapshot diffing should be stable
// (same value, same bytes); prefer the deterministic CBOR mode there.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
