package emu

// BranchUnit implements jumps and conditional branches. Targets are
// instruction indices.
type BranchUnit struct {
	regFile *RegFile
}

// NewBranchUnit creates a new BranchUnit connected to the given register file.
func NewBranchUnit(regFile *RegFile) *BranchUnit {
	return &BranchUnit{regFile: regFile}
}

var branchConds = map[string]func(a, b uint64) bool{
	"beq":  func(a, b uint64) bool { return a == b },
	"bne":  func(a, b uint64) bool { return a != b },
	"blt":  func(a, b uint64) bool { return int64(a) < int64(b) },
	"bge":  func(a, b uint64) bool { return int64(a) >= int64(b) },
	"bltu": func(a, b uint64) bool { return a < b },
	"bgeu": func(a, b uint64) bool { return a >= b },
}

// Jump transfers control to target.
func (b *BranchUnit) Jump(target int) {
	b.regFile.PC = target
}

// Branch transfers control to target when rs1 op rs2 holds and falls
// through otherwise. It reports whether the branch was taken.
func (b *BranchUnit) Branch(op string, rs1, rs2, target int) (bool, bool) {
	cond, ok := branchConds[op]
	if !ok {
		return false, false
	}
	if cond(b.regFile.ReadReg(rs1), b.regFile.ReadReg(rs2)) {
		b.regFile.PC = target
		return true, true
	}
	b.regFile.PC++
	return false, true
}
