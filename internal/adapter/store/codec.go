package store

import (
	"encoding/binary"
	"math"
)

// float32ToBytes packs a vector into a little-endian byte blob,
// 4 bytes per component.
func float32ToBytes(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// bytesToFloat32 unpacks a blob written by float32ToBytes. Returns nil for
// empty or truncated blobs.
func bytesToFloat32(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
