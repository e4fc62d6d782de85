package fpvalue

import (
	"fmt"
	"strings"
)

// RoundingMode is a floating-point rounding mode as encoded in frm and in
// the rm field of scalar instructions.
type RoundingMode uint8

// Rounding modes with their 3-bit encodings.
const (
	RNE RoundingMode = 0 // round to nearest, ties to even
	RTZ RoundingMode = 1 // round towards zero
	RDN RoundingMode = 2 // round down
	RUP RoundingMode = 3 // round up
	RMM RoundingMode = 4 // round to nearest, ties to max magnitude
	DYN RoundingMode = 7 // use frm
)

var roundingNames = map[RoundingMode]string{
	RNE: "rne", RTZ: "rtz", RDN: "rdn", RUP: "rup", RMM: "rmm", DYN: "dyn",
}

func (m RoundingMode) String() string {
	if n, ok := roundingNames[m]; ok {
		return n
	}
	return fmt.Sprintf("rm(%d)", uint8(m))
}

// Code returns the 3-bit encoding.
func (m RoundingMode) Code() uint32 { return uint32(m) }

// MarshalText implements encoding.TextMarshaler.
func (m RoundingMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *RoundingMode) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	if s == "" {
		*m = RNE
		return nil
	}
	for mode, name := range roundingNames {
		if name == s {
			*m = mode
			return nil
		}
	}
	return fmt.Errorf("unknown rounding mode %q", s)
}

// EmitFRM writes mode into the frm CSR through scratch.
func EmitFRM(mode RoundingMode, scratch string) []string {
	return []string{
		fmt.Sprintf("li %s, %d", scratch, mode.Code()),
		fmt.Sprintf("csrw frm, %s", scratch),
	}
}

// FixedRounding is a fixed-point rounding mode held in vxrm.
type FixedRounding uint8

// Fixed-point rounding modes.
const (
	RNU      FixedRounding = 0 // round to nearest up
	RNEFixed FixedRounding = 1
	RDNFixed FixedRounding = 2
	ROD      FixedRounding = 3 // round to odd
)

var fixedNames = map[FixedRounding]string{
	RNU: "rnu", RNEFixed: "rne", RDNFixed: "rdn", ROD: "rod",
}

func (m FixedRounding) String() string {
	if n, ok := fixedNames[m]; ok {
		return n
	}
	return fmt.Sprintf("vxrm(%d)", uint8(m))
}

// MarshalText implements encoding.TextMarshaler.
func (m FixedRounding) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *FixedRounding) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	if s == "" {
		*m = RNU
		return nil
	}
	for mode, name := range fixedNames {
		if name == s {
			*m = mode
			return nil
		}
	}
	return fmt.Errorf("unknown vxrm mode %q", s)
}

// EmitVXRM writes mode into vxrm.
func EmitVXRM(mode FixedRounding) []string {
	return []string{fmt.Sprintf("csrwi vxrm, %d", uint8(mode))}
}
