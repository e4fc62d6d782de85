package vtype

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sarchlab/vsynth/diag"
)

// VL is a requested vector length: a non-negative element count or one of
// the symbolic lengths below.
type VL int

// Symbolic vector lengths.
const (
	// VLZero requests zero active elements.
	VLZero VL = 0
	// VLMax requests VLMAX through the rs1=x0, rd!=x0 vsetvli form.
	VLMax VL = -1
	// VLRandom asks the generator to draw a length in [1, VLMAX].
	VLRandom VL = -2
)

func (v VL) String() string {
	switch v {
	case VLMax:
		return "vlmax"
	case VLZero:
		return "zero"
	case VLRandom:
		return "random"
	}
	return strconv.Itoa(int(v))
}

// MarshalText implements encoding.TextMarshaler.
func (v VL) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *VL) UnmarshalText(text []byte) error {
	p, err := ParseVL(string(text))
	if err != nil {
		return err
	}
	*v = p
	return nil
}

// ParseVL accepts "vlmax", "zero", "random" or a non-negative integer.
func ParseVL(s string) (VL, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vlmax", "max":
		return VLMax, nil
	case "zero":
		return VLZero, nil
	case "random", "":
		return VLRandom, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid VL %q", s)
	}
	return VL(n), nil
}

// Kind selects the vset instruction form.
type Kind uint8

// vset instruction forms. KindNone means the descriptor carries no vector
// configuration.
const (
	KindNone Kind = iota
	KindVsetvli
	KindVsetivli
	KindVsetvl
)

var kindNames = map[Kind]string{
	KindNone:     "none",
	KindVsetvli:  "vsetvli",
	KindVsetivli: "vsetivli",
	KindVsetvl:   "vsetvl",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for kind, name := range kindNames {
		if name == s {
			*k = kind
			return nil
		}
	}
	if s == "" {
		*k = KindNone
		return nil
	}
	return fmt.Errorf("unknown vset kind %q", s)
}

// VStartMode tells the generator what to write into vstart before the
// instruction under test.
type VStartMode uint8

// vstart dispositions.
const (
	VStartZero VStartMode = iota
	VStartRandom
	VStartFixed
)

// VStart is a vstart disposition. Value is meaningful for VStartFixed.
type VStart struct {
	Mode  VStartMode
	Value int
}

func (s VStart) String() string {
	switch s.Mode {
	case VStartRandom:
		return "random"
	case VStartFixed:
		return strconv.Itoa(s.Value)
	}
	return "zero"
}

// MarshalText implements encoding.TextMarshaler.
func (s VStart) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *VStart) UnmarshalText(text []byte) error {
	t := strings.ToLower(strings.TrimSpace(string(text)))
	switch t {
	case "", "zero":
		*s = VStart{Mode: VStartZero}
		return nil
	case "random":
		*s = VStart{Mode: VStartRandom}
		return nil
	}
	n, err := strconv.Atoi(t)
	if err != nil || n < 0 {
		return fmt.Errorf("invalid vstart %q", t)
	}
	*s = VStart{Mode: VStartFixed, Value: n}
	return nil
}

// EmitVStart writes value into vstart, using scratch when it does not fit
// the 5-bit CSR immediate.
func EmitVStart(value int, scratch string) []string {
	if value < 32 {
		return []string{fmt.Sprintf("csrwi vstart, %d", value)}
	}
	return []string{
		fmt.Sprintf("li %s, %d", scratch, value),
		fmt.Sprintf("csrw vstart, %s", scratch),
	}
}

// EncodeVtype packs the vtype CSR: vma<<7 | vta<<6 | vsew<<3 | vlmul.
func EncodeVtype(vma, vta bool, lmul LMUL, sew int) (uint32, error) {
	code, ok := sewCodes[sew]
	if !ok {
		return 0, diag.Configf("SEW %d has no vsew encoding", sew)
	}
	if !lmul.Valid() {
		return 0, diag.Configf("LMUL %d has no vlmul encoding", int(lmul))
	}

	var v uint32
	if vma {
		v |= 1 << 7
	}
	if vta {
		v |= 1 << 6
	}
	v |= code << 3
	v |= lmul.Code()
	return v, nil
}

// DecodeVtype unpacks a vtype value. The vill bit or a reserved field is
// reported as an error.
func DecodeVtype(v uint64) (vma, vta bool, lmul LMUL, sew int, err error) {
	if v>>63 != 0 {
		return false, false, 0, 0, fmt.Errorf("vtype 0x%x has vill set", v)
	}
	if v>>8 != 0 {
		return false, false, 0, 0, fmt.Errorf("vtype 0x%x has reserved bits set", v)
	}
	sewCode := uint32(v>>3) & 0x7
	if sewCode > 3 {
		return false, false, 0, 0, fmt.Errorf("vtype 0x%x has reserved vsew %d", v, sewCode)
	}
	lmul, err = LMULFromCode(uint32(v) & 0x7)
	if err != nil {
		return false, false, 0, 0, err
	}
	return v&(1<<7) != 0, v&(1<<6) != 0, lmul, 8 << sewCode, nil
}

var sewCodes = map[int]uint32{8: 0, 16: 1, 32: 2, 64: 3}
