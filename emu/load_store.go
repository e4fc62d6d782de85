package emu

import "fmt"

// LoadStoreUnit implements scalar integer and floating-point loads and
// stores.
type LoadStoreUnit struct {
	regFile *RegFile
	memory  *Memory
}

// NewLoadStoreUnit creates a new LoadStoreUnit connected to the given
// register file and memory.
func NewLoadStoreUnit(regFile *RegFile, memory *Memory) *LoadStoreUnit {
	return &LoadStoreUnit{
		regFile: regFile,
		memory:  memory,
	}
}

type access struct {
	size   int
	signed bool
	float  bool
	store  bool
}

var accesses = map[string]access{
	"ld": {size: 8, signed: true}, "lw": {size: 4, signed: true},
	"lh": {size: 2, signed: true}, "lb": {size: 1, signed: true},
	"lwu": {size: 4}, "lhu": {size: 2}, "lbu": {size: 1},
	"sd": {size: 8, store: true}, "sw": {size: 4, store: true},
	"sh": {size: 2, store: true}, "sb": {size: 1, store: true},
	"fld": {size: 8, float: true}, "flw": {size: 4, float: true},
	"fsd": {size: 8, float: true, store: true}, "fsw": {size: 4, float: true, store: true},
}

// IsAccess reports whether op is a scalar load or store.
func IsAccess(op string) bool {
	_, ok := accesses[op]
	return ok
}

// Access performs op between register reg and memory at addr.
func (lsu *LoadStoreUnit) Access(op string, reg int, addr uint64) error {
	a, ok := accesses[op]
	if !ok {
		return fmt.Errorf("unsupported access %s", op)
	}

	if a.store {
		v := lsu.regFile.ReadReg(reg)
		if a.float {
			v = lsu.regFile.F[reg]
		}
		return lsu.memory.WriteUint(addr, a.size, v)
	}

	v, err := lsu.memory.ReadUint(addr, a.size)
	if err != nil {
		return err
	}
	switch {
	case a.float:
		lsu.regFile.F[reg] = box(v, a.size)
	case a.signed:
		lsu.regFile.WriteReg(reg, signExtend(v, a.size*8))
	default:
		lsu.regFile.WriteReg(reg, v)
	}
	return nil
}

// box NaN-boxes a narrower floating-point value into 64 bits.
func box(v uint64, size int) uint64 {
	if size >= 8 {
		return v
	}
	return v | ^uint64(0)<<(8*uint(size))
}

func signExtend(v uint64, bits int) uint64 {
	if bits >= 64 {
		return v
	}
	shift := 64 - uint(bits)
	return uint64(int64(v<<shift) >> shift)
}
