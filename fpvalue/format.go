// Package fpvalue synthesizes IEEE-754 and bfloat16 bit patterns, applies
// NaN-boxing and emits the rounding-mode CSR writes that floating-point
// instructions depend on.
package fpvalue

import (
	"fmt"
	"strings"

	"github.com/sarchlab/vsynth/resource"
)

// Format is a floating-point encoding.
type Format uint8

// Supported encodings.
const (
	Double Format = iota
	Single
	Half
	BFloat16
)

type layout struct {
	name string
	exp  int
	frac int
}

var layouts = map[Format]layout{
	Double:   {"double", 11, 52},
	Single:   {"single", 8, 23},
	Half:     {"half", 5, 10},
	BFloat16: {"bfloat16", 8, 7},
}

// ExpBits returns the exponent field width.
func (f Format) ExpBits() int { return layouts[f].exp }

// FracBits returns the significand field width.
func (f Format) FracBits() int { return layouts[f].frac }

// Width returns the total width in bits.
func (f Format) Width() int { return 1 + f.ExpBits() + f.FracBits() }

func (f Format) String() string {
	if l, ok := layouts[f]; ok {
		return l.name
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

// ParseFormat accepts the names returned by String and the d/s/h/bf16
// instruction suffixes.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "double", "d", "f64", "64":
		return Double, nil
	case "single", "s", "f32", "32":
		return Single, nil
	case "half", "h", "f16", "16":
		return Half, nil
	case "bfloat16", "bf16":
		return BFloat16, nil
	}
	return 0, fmt.Errorf("unknown floating-point format %q", s)
}

// ForWidth returns the format of the given bit width; 16-bit elements are
// bfloat16 when bf16 is set.
func ForWidth(bits int, bf16 bool) (Format, error) {
	switch bits {
	case 64:
		return Double, nil
	case 32:
		return Single, nil
	case 16:
		if bf16 {
			return BFloat16, nil
		}
		return Half, nil
	}
	return 0, fmt.Errorf("no floating-point format is %d bits wide", bits)
}

// Pack assembles sign<<(exp+frac) | exp<<frac | frac.
func Pack(f Format, sign, exp, frac uint64) uint64 {
	eb, fb := f.ExpBits(), f.FracBits()
	sign &= 1
	exp &= 1<<uint(eb) - 1
	frac &= 1<<uint(fb) - 1
	return sign<<uint(eb+fb) | exp<<uint(fb) | frac
}

// Fields splits bits into its sign, exponent and significand.
func Fields(f Format, bits uint64) (sign, exp, frac uint64) {
	eb, fb := f.ExpBits(), f.FracBits()
	frac = bits & (1<<uint(fb) - 1)
	exp = (bits >> uint(fb)) & (1<<uint(eb) - 1)
	sign = (bits >> uint(eb+fb)) & 1
	return sign, exp, frac
}

// Synthesize draws a value field by field: sign, then exponent, then
// significand.
func Synthesize(rng *resource.RNG, f Format) uint64 {
	sign := rng.Bits(1)
	exp := rng.Bits(f.ExpBits())
	frac := rng.Bits(f.FracBits())
	return Pack(f, sign, exp, frac)
}

// IsNaN reports whether bits encode a NaN.
func IsNaN(f Format, bits uint64) bool {
	_, exp, frac := Fields(f, bits)
	return exp == 1<<uint(f.ExpBits())-1 && frac != 0
}

// NaNBox places a width-bit value in the low bits of a container-bit
// register and sets every higher bit.
func NaNBox(bits uint64, width, container int) uint64 {
	if width >= container {
		return bits
	}
	low := bits & (1<<uint(width) - 1)
	var high uint64
	if container >= 64 {
		high = ^uint64(0) << uint(width)
	} else {
		high = (1<<uint(container) - 1) &^ (1<<uint(width) - 1)
	}
	return high | low
}

// NaNBoxHex renders a boxed value as a container-width hex literal.
func NaNBoxHex(bits uint64, width, container int) string {
	return fmt.Sprintf("0x%0*x", container/4, NaNBox(bits, width, container))
}

// Unbox extracts the width-bit value from a container and reports whether
// every higher bit was set.
func Unbox(boxed uint64, width, container int) (uint64, bool) {
	if width >= container {
		return boxed, true
	}
	low := boxed & (1<<uint(width) - 1)
	return low, NaNBox(low, width, container) == boxed
}
