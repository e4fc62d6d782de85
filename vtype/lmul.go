// Package vtype models the RISC-V vector type state: SEW, LMUL, VL, the
// vtype CSR encoding and the vset instructions that establish it.
package vtype

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sarchlab/vsynth/diag"
)

// LMUL is a register group multiplier stored as its base-2 logarithm, so
// fractional multipliers are negative: mf8 is -3 and m8 is 3.
type LMUL int8

// Legal multipliers.
const (
	LMULF8 LMUL = -3 // 1/8
	LMULF4 LMUL = -2 // 1/4
	LMULF2 LMUL = -1 // 1/2
	LMUL1  LMUL = 0
	LMUL2  LMUL = 1
	LMUL4  LMUL = 2
	LMUL8  LMUL = 3
)

// AllLMUL lists the legal multipliers in ascending order.
var AllLMUL = []LMUL{LMULF8, LMULF4, LMULF2, LMUL1, LMUL2, LMUL4, LMUL8}

// Valid reports whether l is one of 1/8 .. 8.
func (l LMUL) Valid() bool {
	return l >= LMULF8 && l <= LMUL8
}

// Fractional reports whether l < 1.
func (l LMUL) Fractional() bool {
	return l < 0
}

// Num and Den return l as the reduced fraction Num/Den.
func (l LMUL) Num() int {
	if l < 0 {
		return 1
	}
	return 1 << l
}

// Den returns the denominator of l.
func (l LMUL) Den() int {
	if l < 0 {
		return 1 << -l
	}
	return 1
}

// Float returns l as a float64.
func (l LMUL) Float() float64 {
	return float64(l.Num()) / float64(l.Den())
}

// Registers returns max(1, l): the number of physical registers a group
// occupies and the alignment its base register must satisfy.
func (l LMUL) Registers() int {
	if l <= 0 {
		return 1
	}
	return 1 << l
}

// Half returns l/2 and false if l is already the smallest multiplier.
func (l LMUL) Half() (LMUL, bool) {
	if l <= LMULF8 {
		return l, false
	}
	return l - 1, true
}

// Double returns 2*l and false if l is already the largest multiplier.
func (l LMUL) Double() (LMUL, bool) {
	if l >= LMUL8 {
		return l, false
	}
	return l + 1, true
}

// Scale returns l multiplied by num/den where both are powers of two.
func (l LMUL) Scale(num, den int) LMUL {
	return l + LMUL(log2(num)) - LMUL(log2(den))
}

// Code returns the 3-bit vlmul field encoding.
func (l LMUL) Code() uint32 {
	if l < 0 {
		return uint32(8 + int(l))
	}
	return uint32(l)
}

// String returns the assembler spelling, e.g. "m2" or "mf4".
func (l LMUL) String() string {
	if l < 0 {
		return fmt.Sprintf("mf%d", l.Den())
	}
	return fmt.Sprintf("m%d", l.Num())
}

// MarshalText implements encoding.TextMarshaler.
func (l LMUL) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid LMUL %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *LMUL) UnmarshalText(text []byte) error {
	v, err := ParseLMUL(string(text))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// ParseLMUL accepts "m2", "mf2", "2", "1/2" and "0.5" spellings.
func ParseLMUL(s string) (LMUL, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(s, "mf"):
		return fromFraction(s, 1, s[2:])
	case strings.HasPrefix(s, "m"):
		return fromFraction(s, 0, s[1:])
	case strings.HasPrefix(s, "1/"):
		return fromFraction(s, 1, s[2:])
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		for _, l := range AllLMUL {
			if l.Float() == f {
				return l, nil
			}
		}
	}
	return 0, fmt.Errorf("invalid LMUL %q", s)
}

func fromFraction(orig string, inverse int, digits string) (LMUL, error) {
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 || n&(n-1) != 0 {
		return 0, fmt.Errorf("invalid LMUL %q", orig)
	}
	l := LMUL(log2(n))
	if inverse == 1 {
		if n == 1 {
			return 0, fmt.Errorf("invalid LMUL %q", orig)
		}
		l = -l
	}
	if !l.Valid() {
		return 0, fmt.Errorf("invalid LMUL %q", orig)
	}
	return l, nil
}

// LMULFromCode decodes a 3-bit vlmul field. Code 4 is reserved.
func LMULFromCode(code uint32) (LMUL, error) {
	switch {
	case code <= 3:
		return LMUL(code), nil
	case code >= 5 && code <= 7:
		return LMUL(int(code) - 8), nil
	default:
		return 0, fmt.Errorf("reserved vlmul encoding %d", code)
	}
}

// EMUL computes (eew/sew)*lmul and rejects results outside [1/8, 8].
func EMUL(eew, sew int, lmul LMUL) (LMUL, error) {
	if !ValidSEW(eew) || !ValidSEW(sew) {
		return 0, diag.Configf("EEW %d / SEW %d is not a legal element width", eew, sew)
	}
	e := lmul + LMUL(log2(eew)-log2(sew))
	if !e.Valid() {
		return 0, diag.Configf("EMUL (%d/%d)*%s is outside [1/8, 8]", eew, sew, lmul)
	}
	return e, nil
}

// ValidSEW reports whether sew is 8, 16, 32 or 64.
func ValidSEW(sew int) bool {
	switch sew {
	case 8, 16, 32, 64:
		return true
	}
	return false
}

func log2(n int) int {
	r := 0
	for n > 1 {
		n >>= 1
		r++
	}
	return r
}
