package embedclient

import (
	"context"
	"hash/fnv"
	"math"
)

// Deterministic is a hash-based embedder with no network dependency, used in
// tests in place of Client. Adapted from
// internal/rag/embedder/embedder.go's deterministicEmbedder (3-gram byte
// hashing, optional L2 normalization).
type Deterministic struct {
	Dim       int
	Normalize bool
	Seed      uint64
}

func (d *Deterministic) Embed(_ context.Context, text string) ([]float32, error) {
	dim := d.Dim
	if dim <= 0 {
		dim = 64
	}
	v := make([]float32, dim)
	if text == "" {
		return v, nil
	}
	b := []byte(text)
	if len(b) < 3 {
		d.add(b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			d.add(b[i:i+3], v)
		}
	}
	if d.Normalize {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if sum > 0 {
			inv := float32(1.0 / math.Sqrt(sum))
			for i := range v {
				v[i] *= inv
			}
		}
	}
	return v, nil
}

func (d *Deterministic) add(gram []byte, v []float32) {
	h := fnv.New64a()
	if d.Seed != 0 {
		var tmp [8]byte
		for i := 0; i < 8; i++ {
			tmp[i] = byte(d.Seed >> (8 * i))
		}
		_, _ = h.Write(tmp[:])
	}
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}
