package retention

import (
	"hash/fnv"
	"math"
)

// Bloom is a fixed-size bit-array Bloom filter using double hashing
// (Kirsch-Mitzenmacher: g_i(x) = h1(x) + i*h2(x)) to derive k independent
// hash positions from two FNV hashes, avoiding k separate hash functions.
//
// No pack example or the teacher's dependency set ships a Bloom filter
// library, so this is a small from-scratch implementation — see
// DESIGN.md. It is additive only: Add never removes a bit, so a filter
// can report false positives but never a false negative, which is the
// correctness property the dedup store's fast path depends on.
type Bloom struct {
	bits []uint64
	m    uint
	k    uint
}

// NewBloom sizes a filter for expectedItems entries at falsePositiveRate,
// using the standard m = -n*ln(p)/(ln2)^2, k = (m/n)*ln2 formulas.
func NewBloom(expectedItems int, falsePositiveRate float64) *Bloom {
	if expectedItems < 1 {
		expectedItems = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	n := float64(expectedItems)
	ln2 := math.Ln2
	m := uint(math.Ceil(-n * math.Log(falsePositiveRate) / (ln2 * ln2)))
	if m < 64 {
		m = 64
	}
	k := uint(math.Round((float64(m) / n) * ln2))
	if k < 1 {
		k = 1
	}
	words := (m + 63) / 64
	return &Bloom{bits: make([]uint64, words), m: m, k: k}
}

func (b *Bloom) hashPair(data []byte) (uint64, uint64) {
	h1 := fnv.New64a()
	h1.Write(data)
	sum1 := h1.Sum64()

	h2 := fnv.New64()
	h2.Write(data)
	sum2 := h2.Sum64()
	if sum2 == 0 {
		sum2 = 1 // a zero second hash would collapse every probe to the same bit
	}
	return sum1, sum2
}

func (b *Bloom) positions(data []byte) []uint {
	h1, h2 := b.hashPair(data)
	positions := make([]uint, b.k)
	for i := uint(0); i < b.k; i++ {
		combined := h1 + uint64(i)*h2
		positions[i] = uint(combined % uint64(b.m))
	}
	return positions
}

// Add records data as present. Never a no-op; callers must only call Add
// for content they are about to (or have just) persisted, since Add is the
// only operation that can create a false negative if skipped.
func (b *Bloom) Add(data []byte) {
	for _, pos := range b.positions(data) {
		b.bits[pos/64] |= 1 << (pos % 64)
	}
}

// Contains reports whether data might have been added. False means data
// was definitely never added; true means it probably was (or is a false
// positive).
func (b *Bloom) Contains(data []byte) bool {
	for _, pos := range b.positions(data) {
		if b.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}
