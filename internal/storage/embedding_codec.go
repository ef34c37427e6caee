package storage

import (
	"encoding/binary"
	"math"
)

// EmbeddingDimensions is the fixed vector width used throughout the store.
const EmbeddingDimensions = 384

// EncodeEmbedding packs a float32 vector into a little-endian BLOB, the
// on-disk representation specified in spec §3/§6. A nil or empty vector
// encodes to nil (NULL column). Exported so the search and embedding
// packages can build vec0 MATCH query parameters without depending on
// storage internals.
func EncodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeEmbedding unpacks a little-endian BLOB into a float32 vector. A nil
// or empty input decodes to nil.
func DecodeEmbedding(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := 0; i < n; i++ {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func encodeEmbedding(v []float32) []byte { return EncodeEmbedding(v) }
func decodeEmbedding(b []byte) []float32 { return DecodeEmbedding(b) }
