// Package codec converts cached values to and from bytes. Snapshot stores use
// Codec[snapshot.Snapshot]; preferences use the JSON and String codecs.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
