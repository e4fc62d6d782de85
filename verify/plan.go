// Package verify turns a simulator's post-execution report into code that
// checks the architectural state of the machine running the test.
package verify

import (
	"strings"

	"github.com/sarchlab/vsynth/vtype"
)

// NoUpdateSuffix marks the label of an instruction expected to leave every
// destination untouched.
const NoUpdateSuffix = "_noupdate"

// MarkLabel appends NoUpdateSuffix when noUpdate is set.
func MarkLabel(label string, noUpdate bool) string {
	if noUpdate && !strings.HasSuffix(label, NoUpdateSuffix) {
		return label + NoUpdateSuffix
	}
	return label
}

// IsNoUpdate reports whether label carries the no-update marker.
func IsNoUpdate(label string) bool {
	return strings.HasSuffix(label, NoUpdateSuffix)
}

// DestKind is what kind of state a destination is.
type DestKind uint8

// Destination kinds.
const (
	DestVector DestKind = iota
	// DestMask is a register of mask bits, one per element.
	DestMask
	DestXReg
	DestFReg
)

// Dest is one destination of the instruction under test.
type Dest struct {
	Field string   `json:"field"`
	Kind  DestKind `json:"kind"`

	// Vector destinations.
	Base int `json:"base,omitempty"`
	Regs int `json:"regs,omitempty"`
	NF   int `json:"nf,omitempty"`
	EEW  int `json:"eew,omitempty"`
	// EVL is the number of elements per field the instruction writes.
	EVL int `json:"evl"`
	// Unmasked destinations ignore v0 even when the instruction is masked.
	Unmasked bool `json:"unmasked,omitempty"`

	// Reg is the scalar register of DestXReg and DestFReg.
	Reg int `json:"reg,omitempty"`
}

// Plan is what the check code of one instruction depends on. It is built
// while generating the setup code and kept until the report arrives.
type Plan struct {
	Label  string `json:"label"`
	VLEN   int    `json:"vlen"`
	SEW    int    `json:"sew"`
	VL     int    `json:"vl"`
	VStart int    `json:"vstart"`
	TA     bool   `json:"ta"`
	MA     bool   `json:"ma"`
	Masked bool   `json:"masked"`
	// Mask holds v0 as 64-bit words when Masked is set.
	Mask []uint64 `json:"mask,omitempty"`
	// Work is the scratch vector register lanes rotate through.
	Work  int    `json:"work"`
	Dests []Dest `json:"dests"`
	// Store marks instructions whose memory writes are checked.
	Store bool `json:"store,omitempty"`
	// MemEEW is the width of the elements a store writes.
	MemEEW int `json:"mem_eew,omitempty"`
	// VXSat marks fixed-point instructions whose saturation flag is checked.
	VXSat bool `json:"vxsat,omitempty"`
}

// HasVectorDest reports whether the instruction writes a vector register
// or memory.
func (p *Plan) HasVectorDest() bool {
	if p.Store {
		return true
	}
	for _, d := range p.Dests {
		if d.Kind == DestVector || d.Kind == DestMask {
			return true
		}
	}
	return false
}

// active reports whether element i is enabled by the mask.
func (p *Plan) active(i int) bool {
	if !p.Masked {
		return true
	}
	w := i / 64
	if w >= len(p.Mask) {
		return false
	}
	return p.Mask[w]>>(uint(i)%64)&1 == 1
}

// NoUpdateExpected reports whether every vector and memory destination
// must stay unchanged: vl is zero, vstart is at or past vl, or the mask
// disables every element in [vstart, vl).
func NoUpdateExpected(p *Plan) bool {
	if !p.HasVectorDest() {
		return false
	}
	for _, d := range p.Dests {
		if d.Kind == DestXReg || d.Kind == DestFReg {
			return false
		}
		if p.writes(d.EVL, d.Unmasked) {
			return false
		}
	}
	return !p.Store || !p.writes(p.VL, false)
}

// writes reports whether any element in [vstart, evl) is written.
func (p *Plan) writes(evl int, unmasked bool) bool {
	for i := p.VStart; i < evl; i++ {
		if unmasked || p.active(i) {
			return true
		}
	}
	return false
}

// LaneClass is why a lane holds the value it does.
type LaneClass uint8

// Lane classes.
const (
	LaneActive LaneClass = iota
	LanePrestart
	LaneInactive
	LaneTail
)

// Lane is one element of a destination register.
type Lane struct {
	Reg        int
	ByteOffset int
	// Index is the element number within its field.
	Index int
	Size  int
	Class LaneClass
	// BitMask selects the bits to compare in mask destinations.
	BitMask uint8
}

// Checked reports whether a reported lane of this class is compared under
// the tail and mask policies.
func (l Lane) Checked(p *Plan) bool {
	switch l.Class {
	case LaneInactive:
		return !p.MA
	case LaneTail:
		return !p.TA
	}
	return true
}

// ExpectedOffsets lists, register by register, the lanes of d in
// ascending byte order.
func ExpectedOffsets(p *Plan, d Dest) []Lane {
	vlenB := p.VLEN / 8
	if d.Kind == DestMask {
		return maskOffsets(p, d, vlenB)
	}

	esz := d.EEW / 8
	perReg := vlenB / esz
	perField := max(1, d.Regs) * perReg

	var lanes []Lane
	for f := range max(1, d.NF) {
		for i := range perField {
			lanes = append(lanes, Lane{
				Reg:        d.Base + f*max(1, d.Regs) + i/perReg,
				ByteOffset: (i % perReg) * esz,
				Index:      i,
				Size:       esz,
				Class:      classify(p, d, i),
			})
		}
	}
	return lanes
}

func classify(p *Plan, d Dest, i int) LaneClass {
	switch {
	case i < p.VStart:
		return LanePrestart
	case i >= d.EVL:
		return LaneTail
	case !d.Unmasked && !p.active(i):
		return LaneInactive
	}
	return LaneActive
}

// maskOffsets covers the bytes of a mask destination holding bits below
// vl. Tail bits are always agnostic and never compared.
func maskOffsets(p *Plan, d Dest, vlenB int) []Lane {
	var lanes []Lane
	for b := range vlenB {
		var bits uint8
		for k := range 8 {
			i := b*8 + k
			if i >= d.EVL {
				break
			}
			c := classify(p, d, i)
			if c == LaneInactive && p.MA {
				continue
			}
			bits |= 1 << uint(k)
		}
		lanes = append(lanes, Lane{
			Reg: d.Base, ByteOffset: b, Index: b, Size: 1,
			Class: maskClass(bits), BitMask: bits,
		})
	}
	return lanes
}

func maskClass(bits uint8) LaneClass {
	if bits == 0 {
		return LaneTail
	}
	return LaneActive
}

// vsetFor renders the vset that makes eew-bit lanes addressable one
// register at a time.
func vsetFor(eew int) []string {
	return vtype.EmitVset(vtype.KindVsetvli,
		vtype.Snapshot{SEW: eew, LMUL: vtype.LMUL1, VL: vtype.VLMax, TA: true, MA: true},
		vtype.DefaultRD, vtype.DefaultAVLReg, vtype.DefaultVtypeReg)
}
