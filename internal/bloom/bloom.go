// Package bloom implements a fixed-size bloom filter with double hashing,
// used by segments to skip a key->value map lookup when a key is
// definitely absent. It never produces a false negative, only (rarely) a
// false positive, so callers must still confirm a "maybe" against the
// real map.
package bloom

import "hash/fnv"

// Filter is a fixed-size bit array tested with k independent hash probes.
type Filter struct {
	k    uint8
	bits uint32
	buf  []byte
}

// New returns an empty filter sized for at least bits bits, probed k times
// per key. k defaults to 7 and bits is rounded up to a byte boundary.
func New(bits uint32, k uint8) *Filter {
	if k == 0 {
		k = 7
	}
	if bits < 8 {
		bits = 8
	}
	byteLen := (bits + 7) / 8
	bits = byteLen * 8
	return &Filter{k: k, bits: bits, buf: make([]byte, byteLen)}
}

// NewForKeys sizes a filter for an expected population of nkeys, at
// bitsPerKey bits each (10 by default, the usual ~1% false-positive rate
// for 7 probes).
func NewForKeys(nkeys int, bitsPerKey uint32, k uint8) *Filter {
	if nkeys < 1 {
		nkeys = 1
	}
	if bitsPerKey == 0 {
		bitsPerKey = 10
	}
	return New(uint32(nkeys)*bitsPerKey, k)
}

// Add records key as present.
func (f *Filter) Add(key []byte) {
	h1, h2 := hash2(key)
	for i := uint8(0); i < f.k; i++ {
		h := h1 + uint64(i)*h2
		f.setBit(uint32(h % uint64(f.bits)))
	}
}

// MaybeContains reports whether key might be present. false is definitive;
// true must still be confirmed against the real data.
func (f *Filter) MaybeContains(key []byte) bool {
	h1, h2 := hash2(key)
	for i := uint8(0); i < f.k; i++ {
		h := h1 + uint64(i)*h2
		if !f.getBit(uint32(h % uint64(f.bits))) {
			return false
		}
	}
	return true
}

func (f *Filter) setBit(bit uint32) {
	f.buf[bit/8] |= 1 << (bit % 8)
}

func (f *Filter) getBit(bit uint32) bool {
	return f.buf[bit/8]&(1<<(bit%8)) != 0
}

func hash2(key []byte) (uint64, uint64) {
	h := fnv.New64a()
	_, _ = h.Write(key)
	h1 := h.Sum64()

	h.Reset()
	_, _ = h.Write([]byte{0x7f})
	_, _ = h.Write(key)
	h2 := h.Sum64()
	if h2 == 0 {
		h2 = 0x9e3779b97f4a7c15
	}
	return h1, h2
}
