// Package regalloc implements the register-allocation capability of an
// instruction instance: one pool per register file, exclusive ownership,
// and alignment-aware random draws.
package regalloc

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/sarchlab/vsynth/diag"
	"github.com/sarchlab/vsynth/insts"
	"github.com/sarchlab/vsynth/resource"
)

// NumRegs is the size of every RISC-V register file.
const NumRegs = 32

// Fixed integer scratch registers used by emitted setup and check code.
const (
	ScratchVL      = 5  // t0: vset destination
	ScratchAVL     = 6  // t1: AVL and CSR values
	ScratchAddr    = 7  // t2: addresses
	ScratchLiteral = 28 // t3: expected literals
	ScratchActual  = 29 // t4: extracted lanes
	Accumulator    = 27 // s11: mismatch accumulator
)

// Reserved lists the integer registers no operand may use: zero, ra, sp,
// gp, tp, the scratch set and the accumulator.
var Reserved = []int{0, 1, 2, 3, 4,
	ScratchVL, ScratchAVL, ScratchAddr, ScratchLiteral, ScratchActual, Accumulator}

type pool struct {
	owned     [NumRegs]bool
	alignment int
}

// Pools is the per-instance allocator over the vector, integer and
// floating-point register files.
type Pools struct {
	rng   *resource.RNG
	pools map[insts.Class]*pool
}

// New creates pools with the reserved integer registers claimed.
func New(rng *resource.RNG) *Pools {
	p := &Pools{
		rng: rng,
		pools: map[insts.Class]*pool{
			insts.ClassVReg: {alignment: 1},
			insts.ClassXReg: {alignment: 1},
			insts.ClassFReg: {alignment: 1},
		},
	}
	for _, r := range Reserved {
		p.pools[insts.ClassXReg].owned[r] = true
	}
	return p
}

func (p *Pools) get(c insts.Class) *pool {
	if c == insts.ClassAddr {
		c = insts.ClassXReg
	}
	pl, ok := p.pools[c]
	if !ok {
		panic(fmt.Sprintf("regalloc: no pool for class %s", c))
	}
	return pl
}

// Realign sets the alignment subsequent draws from class c must satisfy.
func (p *Pools) Realign(c insts.Class, alignment int) {
	p.get(c).alignment = max(1, alignment)
}

// Candidates returns the aligned base registers of class c whose count
// registers are all free and none of which is in exclude.
func (p *Pools) Candidates(c insts.Class, count int, exclude ...int) []int {
	pl := p.get(c)
	count = max(1, count)

	var out []int
	for r := 0; r+count <= NumRegs; r += pl.alignment {
		free := true
		for i := r; i < r+count; i++ {
			if pl.owned[i] || lo.Contains(exclude, i) {
				free = false
				break
			}
		}
		if free {
			out = append(out, r)
		}
	}
	return out
}

// Randomize draws a base register for a group of count registers and
// claims the whole group.
func (p *Pools) Randomize(c insts.Class, count int, exclude ...int) (int, error) {
	cands := p.Candidates(c, count, exclude...)
	if len(cands) == 0 {
		return 0, diag.Configf("no free %s group of %d aligned to %d",
			c, max(1, count), p.get(c).alignment)
	}
	r := resource.Choose(p.rng, cands)
	if err := p.Reserve(c, r, count); err != nil {
		return 0, err
	}
	return r, nil
}

// Reserve claims count registers of class c starting at reg.
func (p *Pools) Reserve(c insts.Class, reg, count int) error {
	pl := p.get(c)
	count = max(1, count)
	if reg < 0 || reg+count > NumRegs {
		return diag.Configf("%s register %d (+%d) is out of range", c, reg, count)
	}
	for i := reg; i < reg+count; i++ {
		if pl.owned[i] {
			return diag.Configf("%s register %d is already owned", c, i)
		}
	}
	for i := reg; i < reg+count; i++ {
		pl.owned[i] = true
	}
	return nil
}

// Release frees count registers starting at reg.
func (p *Pools) Release(c insts.Class, reg, count int) {
	pl := p.get(c)
	for i := reg; i < reg+max(1, count) && i < NumRegs; i++ {
		pl.owned[i] = false
	}
}

// Owned reports whether reg of class c is claimed.
func (p *Pools) Owned(c insts.Class, reg int) bool {
	if reg < 0 || reg >= NumRegs {
		return false
	}
	return p.get(c).owned[reg]
}

// Free returns the unclaimed registers of class c.
func (p *Pools) Free(c insts.Class) []int {
	pl := p.get(c)
	return lo.Filter(lo.Range(NumRegs), func(r int, _ int) bool { return !pl.owned[r] })
}
