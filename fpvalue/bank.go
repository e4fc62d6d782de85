package fpvalue

import (
	"github.com/sarchlab/vsynth/resource"
)

// Edge returns the classic special values of f: signed zeros, infinities,
// quiet and signalling NaNs, the subnormal and normal extremes and +-1.0.
func Edge(f Format) []uint64 {
	eb, fb := f.ExpBits(), f.FracBits()
	expMax := uint64(1)<<uint(eb) - 1
	fracMax := uint64(1)<<uint(fb) - 1
	bias := expMax >> 1
	quiet := uint64(1) << uint(fb-1)

	return []uint64{
		Pack(f, 0, 0, 0),              // +0
		Pack(f, 1, 0, 0),              // -0
		Pack(f, 0, expMax, 0),         // +inf
		Pack(f, 1, expMax, 0),         // -inf
		Pack(f, 0, expMax, quiet),     // canonical qNaN
		Pack(f, 0, expMax, 1),         // sNaN
		Pack(f, 0, 0, 1),              // min subnormal
		Pack(f, 0, 0, fracMax),        // max subnormal
		Pack(f, 0, 1, 0),              // min normal
		Pack(f, 0, expMax-1, fracMax), // max normal
		Pack(f, 0, bias, 0),           // +1.0
		Pack(f, 1, bias, 0),           // -1.0
	}
}

// Builtin is a curated bank holding the edge values of every format. It
// answers any mnemonic.
type Builtin struct{}

// Lookup draws count edge values for the format named by key.
func (Builtin) Lookup(
	rng *resource.RNG,
	_ string,
	width int,
	key resource.BankKey,
	count int,
) ([]uint64, bool) {
	f, err := ParseFormat(key.Format)
	if err != nil || f.Width() != width*8 || count <= 0 {
		return nil, false
	}
	edge := Edge(f)
	out := make([]uint64, count)
	for i := range out {
		out[i] = resource.Choose(rng, edge)
	}
	return out, true
}

// Values produces count lanes of format f. A curated bank is consulted
// first unless curated is false or the format is bfloat16; on a miss each
// lane is synthesized field by field.
func Values(
	rng *resource.RNG,
	bank resource.Bank,
	curated bool,
	mnemonic string,
	f Format,
	rounding RoundingMode,
	count int,
) []uint64 {
	if curated && bank != nil && f != BFloat16 {
		key := resource.BankKey{Format: f.String(), Rounding: rounding.String()}
		if vals, ok := bank.Lookup(rng, mnemonic, f.Width()/8, key, count); ok && len(vals) == count {
			return vals
		}
	}

	out := make([]uint64, count)
	for i := range out {
		out[i] = Synthesize(rng, f)
	}
	return out
}
