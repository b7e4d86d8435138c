// Package codec provides the serializers used to turn cache envelopes into
// bytes. JSON is the default; msgpack, CBOR and protobuf trade readability
// for size or speed.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
