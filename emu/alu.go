package emu

import "fmt"

// ALU implements RV64I/M register-register and register-immediate
// arithmetic.
type ALU struct {
	regFile *RegFile
}

// NewALU creates a new ALU connected to the given register file.
func NewALU(regFile *RegFile) *ALU {
	return &ALU{regFile: regFile}
}

func sext32(v uint64) uint64 {
	return uint64(int64(int32(uint32(v))))
}

var aluOps = map[string]func(a, b uint64) uint64{
	"add":  func(a, b uint64) uint64 { return a + b },
	"sub":  func(a, b uint64) uint64 { return a - b },
	"and":  func(a, b uint64) uint64 { return a & b },
	"or":   func(a, b uint64) uint64 { return a | b },
	"xor":  func(a, b uint64) uint64 { return a ^ b },
	"sll":  func(a, b uint64) uint64 { return a << (b & 63) },
	"srl":  func(a, b uint64) uint64 { return a >> (b & 63) },
	"sra":  func(a, b uint64) uint64 { return uint64(int64(a) >> (b & 63)) },
	"slt":  func(a, b uint64) uint64 { return boolBit(int64(a) < int64(b)) },
	"sltu": func(a, b uint64) uint64 { return boolBit(a < b) },
	"mul":  func(a, b uint64) uint64 { return a * b },
	"addw": func(a, b uint64) uint64 { return sext32(a + b) },
	"subw": func(a, b uint64) uint64 { return sext32(a - b) },
	"sllw": func(a, b uint64) uint64 { return sext32(uint64(uint32(a) << (b & 31))) },
	"srlw": func(a, b uint64) uint64 { return sext32(uint64(uint32(a) >> (b & 31))) },
	"sraw": func(a, b uint64) uint64 { return uint64(int64(int32(uint32(a)) >> (b & 31))) },
}

func boolBit(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Op performs a register-register operation: rd = rs1 op rs2.
func (a *ALU) Op(op string, rd, rs1, rs2 int) error {
	f, ok := aluOps[op]
	if !ok {
		return fmt.Errorf("unsupported ALU operation %s", op)
	}
	a.regFile.WriteReg(rd, f(a.regFile.ReadReg(rs1), a.regFile.ReadReg(rs2)))
	return nil
}

// OpImm performs a register-immediate operation: rd = rs1 op imm.
func (a *ALU) OpImm(op string, rd, rs1 int, imm int64) error {
	f, ok := aluOps[op]
	if !ok {
		return fmt.Errorf("unsupported ALU operation %si", op)
	}
	a.regFile.WriteReg(rd, f(a.regFile.ReadReg(rs1), uint64(imm)))
	return nil
}

// LoadImm implements li and la.
func (a *ALU) LoadImm(rd int, v uint64) {
	a.regFile.WriteReg(rd, v)
}

// Snez sets rd to 1 when rs is not zero.
func (a *ALU) Snez(rd, rs int) {
	a.regFile.WriteReg(rd, boolBit(a.regFile.ReadReg(rs) != 0))
}

// Seqz sets rd to 1 when rs is zero.
func (a *ALU) Seqz(rd, rs int) {
	a.regFile.WriteReg(rd, boolBit(a.regFile.ReadReg(rs) == 0))
}
