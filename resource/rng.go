// Package resource holds the per-run synthesis resources: the seeded random
// source, the target's vector geometry and the switches that shape the
// emitted checks.
package resource

import (
	"math/rand/v2"
)

// RNG is the single seeded random source of a generation run. Every draw
// advances one shared stream, so the order of calls fixes the output.
type RNG struct {
	r     *rand.Rand
	seed  uint64
	draws uint64
}

// NewRNG creates a random source from seed.
func NewRNG(seed uint64) *RNG {
	return &RNG{
		r:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		seed: seed,
	}
}

// Seed returns the seed the source was created with.
func (g *RNG) Seed() uint64 {
	return g.seed
}

// Draws returns how many values have been drawn.
func (g *RNG) Draws() uint64 {
	return g.draws
}

// Uint64 draws a uniform 64-bit value.
func (g *RNG) Uint64() uint64 {
	g.draws++
	return g.r.Uint64()
}

// IntN draws uniformly from [0, n). n must be positive.
func (g *RNG) IntN(n int) int {
	g.draws++
	return g.r.IntN(n)
}

// Range draws uniformly from [lo, hi].
func (g *RNG) Range(lo, hi int) int {
	return lo + g.IntN(hi-lo+1)
}

// Bits draws a uniform value of the given bit width (1..64).
func (g *RNG) Bits(width int) uint64 {
	v := g.Uint64()
	if width >= 64 {
		return v
	}
	return v & (1<<uint(width) - 1)
}

// Bool draws a fair coin.
func (g *RNG) Bool() bool {
	return g.IntN(2) == 1
}

// Choose draws one element of items. items must not be empty.
func Choose[T any](g *RNG, items []T) T {
	return items[g.IntN(len(items))]
}
