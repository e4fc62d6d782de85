// Package insts describes the RISC-V vector and floating-point instructions
// the synthesizer can test.
//
// It provides:
//   - Shape: the operand layout and semantic family of a mnemonic, derived
//     by Classify from the mnemonic text alone.
//   - Descriptor: one instruction instance under test, with its operand
//     slots, configuration and register-allocation capability.
//   - Decoder: a line-oriented reader for the assembly the synthesizer emits.
//
// Usage:
//
//	d, err := insts.New("vwadd.vv", "test_1", insts.Config{
//		Vset: vtype.KindVsetvli, SEW: 32, LMUL: vtype.LMUL2, AVL: 8,
//	})
//	vd := d.Slot("vd") // 2*SEW destination group
package insts

import (
	"encoding/json"
	"fmt"
)

// Role is what an operand slot does for the instruction.
type Role uint8

// Operand roles.
const (
	RoleSource Role = iota
	RoleDest
	// RoleAccumulate is read and then overwritten (vmacc vd).
	RoleAccumulate
	RoleImm
)

// Reads reports whether the instruction reads the slot.
func (r Role) Reads() bool { return r == RoleSource || r == RoleAccumulate }

// Writes reports whether the instruction writes the slot.
func (r Role) Writes() bool { return r == RoleDest || r == RoleAccumulate }

// Class is the register file an operand lives in.
type Class uint8

// Operand classes. ClassAddr is an integer register rendered as "(reg)".
const (
	ClassVReg Class = iota
	ClassXReg
	ClassFReg
	ClassImm
	ClassAddr
)

func (c Class) String() string {
	switch c {
	case ClassVReg:
		return "vreg"
	case ClassXReg:
		return "xreg"
	case ClassFReg:
		return "freg"
	case ClassImm:
		return "imm"
	case ClassAddr:
		return "addr"
	}
	return fmt.Sprintf("Class(%d)", uint8(c))
}

// Use refines what a slot's value means.
type Use uint8

// Slot uses.
const (
	UseData Use = iota
	UseIndex
	UseBase
	UseStride
	// UseMaskData is a mask-layout source such as the vcompress selector.
	UseMaskData
)

// WidthKind says how a slot's element width follows from SEW.
type WidthKind uint8

// Width kinds.
const (
	WidthSEW WidthKind = iota
	WidthDouble
	// WidthFraction is SEW/Div, as in vzext.vf4.
	WidthFraction
	// WidthFixed is a width encoded in the mnemonic.
	WidthFixed
	// WidthMask is one register of mask bits.
	WidthMask
	// WidthXLEN is a full scalar register.
	WidthXLEN
)

// Width is the element width rule of a slot.
type Width struct {
	Kind WidthKind
	Div  int
	Bits int
}

// EEW resolves the element width in bits for the given SEW.
func (w Width) EEW(sew int) int {
	switch w.Kind {
	case WidthDouble:
		return 2 * sew
	case WidthFraction:
		return sew / w.Div
	case WidthFixed:
		return w.Bits
	case WidthMask:
		return 1
	case WidthXLEN:
		return 64
	}
	return sew
}

// Slot is one operand position of an instruction.
type Slot struct {
	Field string
	Role  Role
	Class Class
	Width Width
	Use   Use
	Float bool

	// Single marks a vector operand that is always one register, whatever
	// LMUL is (reduction scalars, vmv.s.x).
	Single bool
	// Regs fixes the group size of whole-register operands.
	Regs int
	// NF is the number of segment fields the group holds.
	NF int

	// ImmBits and Signed describe immediates.
	ImmBits int
	Signed  bool

	Operand Operand
}

// IsVector reports whether the slot names a vector register group.
func (s *Slot) IsVector() bool { return s.Class == ClassVReg }

// Fields returns max(1, NF).
func (s *Slot) Fields() int { return max(1, s.NF) }

// Operand is the assignment state of a slot: either unselected or a
// selected register/immediate name with its initial values.
type Operand struct {
	selected bool
	name     string
	values   []uint64
}

// Unselected returns an operand that has not been assigned.
func Unselected() Operand { return Operand{} }

// Selected returns an operand bound to name holding values.
func Selected(name string, values ...uint64) Operand {
	return Operand{selected: true, name: name, values: values}
}

// IsSelected reports whether a register or immediate has been chosen.
func (o Operand) IsSelected() bool { return o.selected }

// Name returns the chosen name.
func (o Operand) Name() (string, bool) { return o.name, o.selected }

// Values returns the element values (a single value for scalars).
func (o Operand) Values() []uint64 { return o.values }

// WithValues returns a copy of o holding values.
func (o Operand) WithValues(values []uint64) Operand {
	o.values = values
	return o
}

type operandJSON struct {
	Name   string   `json:"name"`
	Values []uint64 `json:"values,omitempty"`
}

// MarshalJSON encodes an unselected operand as null.
func (o Operand) MarshalJSON() ([]byte, error) {
	if !o.selected {
		return []byte("null"), nil
	}
	return json.Marshal(operandJSON{Name: o.name, Values: o.values})
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Operand) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Unselected()
		return nil
	}
	var v operandJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Selected(v.Name, v.Values...)
	return nil
}

// Family groups mnemonics that share operand rules.
type Family uint8

// Instruction families.
const (
	FamilyArith Family = iota
	FamilyWidening
	FamilyNarrowing
	FamilyExtension
	FamilyMaskCompare
	FamilyMaskLogical
	FamilyMaskUnary
	FamilyReduction
	FamilyPermute
	FamilyMove
	FamilyWholeMove
	FamilyScalarMove
	FamilyMerge
	FamilyConvert
	FamilyLoad
	FamilyStore
	FamilyScalarFP
)

var familyNames = [...]string{
	"arith", "widening", "narrowing", "extension", "mask-compare", "mask-logical",
	"mask-unary", "reduction", "permute", "move", "whole-move", "scalar-move",
	"merge", "convert", "load", "store", "scalar-fp",
}

func (f Family) String() string {
	if int(f) < len(familyNames) {
		return familyNames[f]
	}
	return fmt.Sprintf("Family(%d)", uint8(f))
}

// MemKind is a vector memory addressing mode.
type MemKind uint8

// Addressing modes.
const (
	MemUnit MemKind = iota
	MemStrided
	MemIndexed
	MemWhole
	MemMask
)

func (k MemKind) String() string {
	switch k {
	case MemUnit:
		return "unit-stride"
	case MemStrided:
		return "strided"
	case MemIndexed:
		return "indexed"
	case MemWhole:
		return "whole-register"
	case MemMask:
		return "mask"
	}
	return fmt.Sprintf("MemKind(%d)", uint8(k))
}

// MemShape describes the memory side of a vector load or store.
type MemShape struct {
	Kind MemKind
	// EEW is the data width for unit, strided, whole and mask accesses and
	// the index width for indexed accesses.
	EEW        int
	NF         int
	Regs       int
	Store      bool
	Ordered    bool
	FaultFirst bool
}

// Shape is the operand layout and semantic family of a mnemonic.
type Shape struct {
	Mnemonic string
	Family   Family
	// Slots are in assembly operand order.
	Slots []Slot

	Float      bool
	Maskable   bool
	UsesV0     bool
	FixedPoint bool
	// Rounding marks floating-point operations that honour frm.
	Rounding bool
	// StaticRM marks scalar instructions taking an rm operand.
	StaticRM bool
	// ScalarBits is the operand width of scalar floating-point shapes.
	ScalarBits int
	DestMask   bool
	NoOverlap  bool
	BF16       bool

	Mem *MemShape
}

// IsMemory reports whether the shape accesses memory.
func (s *Shape) IsMemory() bool { return s.Mem != nil }

// IsStore reports whether the shape writes memory.
func (s *Shape) IsStore() bool { return s.Mem != nil && s.Mem.Store }
