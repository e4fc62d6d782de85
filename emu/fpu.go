package emu

import (
	"fmt"
	"math"
	"strings"
)

// Accrued exception flags.
const (
	FlagNX uint64 = 1 << iota
	FlagUF
	FlagOF
	FlagDZ
	FlagNV
)

// FPU implements single and double precision arithmetic. Results are
// rounded to nearest-even whatever frm holds; only the invalid and
// divide-by-zero flags accrue.
type FPU struct {
	regFile *RegFile
}

// NewFPU creates a new FPU connected to the given register file.
func NewFPU(regFile *RegFile) *FPU {
	return &FPU{regFile: regFile}
}

// IsFP reports whether op is a scalar floating-point operation.
func IsFP(op string) bool {
	base, suffix, ok := strings.Cut(op, ".")
	return ok && (suffix == "s" || suffix == "d") && strings.HasPrefix(base, "f") &&
		base != "fld" && base != "fsd" && base != "flw" && base != "fsw"
}

func (u *FPU) read(r int, double bool) float64 {
	v := u.regFile.F[r]
	if double {
		return math.Float64frombits(v)
	}
	if v>>32 != 0xffffffff {
		return float64(math.Float32frombits(0x7fc00000))
	}
	return float64(math.Float32frombits(uint32(v)))
}

func (u *FPU) write(r int, f float64, double bool) {
	if double {
		u.regFile.F[r] = math.Float64bits(f)
		return
	}
	u.regFile.F[r] = box(uint64(math.Float32bits(float32(f))), 4)
}

func (u *FPU) raise(flags uint64) {
	u.regFile.CSR.FFlags |= flags
}

// Exec performs op. Float operands are f-register indices; integer
// results and moves use x-register indices.
func (u *FPU) Exec(op string, regs []int) error {
	base, suffix, _ := strings.Cut(op, ".")
	double := suffix == "d"
	need := func(n int) error {
		if len(regs) < n {
			return fmt.Errorf("%s needs %d register operands", op, n)
		}
		return nil
	}

	switch base {
	case "fadd", "fsub", "fmul", "fdiv", "fmin", "fmax", "fsgnj", "fsgnjn", "fsgnjx":
		if err := need(3); err != nil {
			return err
		}
		a, b := u.read(regs[1], double), u.read(regs[2], double)
		u.write(regs[0], u.binary(base, a, b), double)
	case "fsqrt":
		if err := need(2); err != nil {
			return err
		}
		a := u.read(regs[1], double)
		if a < 0 {
			u.raise(FlagNV)
		}
		u.write(regs[0], math.Sqrt(a), double)
	case "fmadd", "fmsub", "fnmadd", "fnmsub":
		if err := need(4); err != nil {
			return err
		}
		a, b, c := u.read(regs[1], double), u.read(regs[2], double), u.read(regs[3], double)
		var r float64
		switch base {
		case "fmadd":
			r = math.FMA(a, b, c)
		case "fmsub":
			r = math.FMA(a, b, -c)
		case "fnmadd":
			r = -math.FMA(a, b, c)
		default:
			r = -math.FMA(a, b, -c)
		}
		u.write(regs[0], r, double)
	case "feq", "flt", "fle":
		if err := need(3); err != nil {
			return err
		}
		a, b := u.read(regs[1], double), u.read(regs[2], double)
		var r bool
		switch base {
		case "feq":
			r = a == b
		case "flt":
			r = a < b
		default:
			r = a <= b
		}
		if base != "feq" && (math.IsNaN(a) || math.IsNaN(b)) {
			u.raise(FlagNV)
		}
		u.regFile.WriteReg(regs[0], boolBit(r))
	default:
		return fmt.Errorf("unsupported floating-point operation %s", op)
	}
	return nil
}

func (u *FPU) binary(op string, a, b float64) float64 {
	var r float64
	switch op {
	case "fadd":
		r = a + b
	case "fsub":
		r = a - b
	case "fmul":
		r = a * b
	case "fdiv":
		if b == 0 && a != 0 && !math.IsNaN(a) && !math.IsInf(a, 0) {
			u.raise(FlagDZ)
		}
		r = a / b
	case "fmin":
		return minNum(a, b)
	case "fmax":
		return -minNum(-a, -b)
	case "fsgnj":
		return math.Copysign(a, b)
	case "fsgnjn":
		return math.Copysign(a, -b)
	case "fsgnjx":
		if math.Signbit(b) {
			return -a
		}
		return a
	}
	if math.IsNaN(r) && !math.IsNaN(a) && !math.IsNaN(b) {
		u.raise(FlagNV)
	}
	return r
}

func minNum(a, b float64) float64 {
	switch {
	case math.IsNaN(a):
		return b
	case math.IsNaN(b):
		return a
	}
	return math.Min(a, b)
}

// Move implements fmv.x.d, fmv.d.x, fmv.x.w and fmv.w.x.
func (u *FPU) Move(op string, rd, rs int) error {
	switch op {
	case "fmv.x.d":
		u.regFile.WriteReg(rd, u.regFile.F[rs])
	case "fmv.d.x":
		u.regFile.F[rd] = u.regFile.ReadReg(rs)
	case "fmv.x.w":
		u.regFile.WriteReg(rd, signExtend(u.regFile.F[rs], 32))
	case "fmv.w.x":
		u.regFile.F[rd] = box(u.regFile.ReadReg(rs)&0xffffffff, 4)
	default:
		return fmt.Errorf("unsupported move %s", op)
	}
	return nil
}
