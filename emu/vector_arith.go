package emu

import (
	"fmt"
	"strings"

	"github.com/sarchlab/vsynth/insts"
)

type binop func(a, b uint64, sew int) uint64

func sext(v uint64, bits int) int64 { return int64(signExtend(v, bits)) }

func trunc(v uint64, bits int) uint64 {
	if bits >= 64 {
		return v
	}
	return v & (1<<uint(bits) - 1)
}

var intOps = map[string]binop{
	"vadd":  func(a, b uint64, _ int) uint64 { return a + b },
	"vsub":  func(a, b uint64, _ int) uint64 { return a - b },
	"vrsub": func(a, b uint64, _ int) uint64 { return b - a },
	"vand":  func(a, b uint64, _ int) uint64 { return a & b },
	"vor":   func(a, b uint64, _ int) uint64 { return a | b },
	"vxor":  func(a, b uint64, _ int) uint64 { return a ^ b },
	"vmul":  func(a, b uint64, _ int) uint64 { return a * b },
	"vsll":  func(a, b uint64, sew int) uint64 { return a << (b & uint64(sew-1)) },
	"vsrl":  func(a, b uint64, sew int) uint64 { return trunc(a, sew) >> (b & uint64(sew-1)) },
	"vsra":  func(a, b uint64, sew int) uint64 { return uint64(sext(a, sew) >> (b & uint64(sew-1))) },
	"vminu": func(a, b uint64, sew int) uint64 { return min(trunc(a, sew), trunc(b, sew)) },
	"vmaxu": func(a, b uint64, sew int) uint64 { return max(trunc(a, sew), trunc(b, sew)) },
	"vmin":  func(a, b uint64, sew int) uint64 { return uint64(min(sext(a, sew), sext(b, sew))) },
	"vmax":  func(a, b uint64, sew int) uint64 { return uint64(max(sext(a, sew), sext(b, sew))) },
}

var compareOps = map[string]func(a, b uint64, sew int) bool{
	"vmseq":  func(a, b uint64, sew int) bool { return trunc(a, sew) == trunc(b, sew) },
	"vmsne":  func(a, b uint64, sew int) bool { return trunc(a, sew) != trunc(b, sew) },
	"vmsltu": func(a, b uint64, sew int) bool { return trunc(a, sew) < trunc(b, sew) },
	"vmslt":  func(a, b uint64, sew int) bool { return sext(a, sew) < sext(b, sew) },
	"vmsleu": func(a, b uint64, sew int) bool { return trunc(a, sew) <= trunc(b, sew) },
	"vmsle":  func(a, b uint64, sew int) bool { return sext(a, sew) <= sext(b, sew) },
	"vmsgtu": func(a, b uint64, sew int) bool { return trunc(a, sew) > trunc(b, sew) },
	"vmsgt":  func(a, b uint64, sew int) bool { return sext(a, sew) > sext(b, sew) },
}

var reductionOps = map[string]string{
	"vredsum": "vadd", "vredand": "vand", "vredor": "vor", "vredxor": "vxor",
	"vredminu": "vminu", "vredmaxu": "vmaxu", "vredmin": "vmin", "vredmax": "vmax",
}

// widening operations: the signed flag selects sign extension of the
// narrow operands.
var wideningOps = map[string]struct {
	op     string
	signed bool
}{
	"vwadd": {"vadd", true}, "vwaddu": {"vadd", false},
	"vwsub": {"vsub", true}, "vwsubu": {"vsub", false},
	"vwmul": {"vmul", true}, "vwmulu": {"vmul", false},
}

// scalarSource reads the second operand of .vx, .vi and .wx forms.
func (u *VPU) scalarSource(kind byte, s string) (uint64, error) {
	switch kind {
	case 'x':
		r, ok := insts.ParseXReg(s)
		if !ok {
			return 0, fmt.Errorf("bad register %q", s)
		}
		return u.regFile.ReadReg(r), nil
	case 'i':
		v, err := parseImm(s)
		return uint64(v), err
	}
	return 0, fmt.Errorf("bad operand kind %c", kind)
}

func (u *VPU) arith(op string, args []string, masked bool) error {
	base, suffix, _ := strings.Cut(op, ".")
	switch {
	case base == "vmv" || base == "vid" || base == "vfmv":
		return u.move(op, args, masked)
	case base == "vslidedown" || base == "vslideup":
		return u.slide(base, suffix, args, masked)
	case base == "vmerge":
		return u.merge(suffix, args)
	}
	if whole, ok := wholeMove(base); ok && suffix == "v" {
		return u.wholeMove(whole, args)
	}
	if len(args) != 3 {
		return fmt.Errorf("%s needs 3 operands", op)
	}
	if len(suffix) < 2 {
		return fmt.Errorf("unsupported instruction %s", op)
	}

	vd, err := vreg(args[0])
	if err != nil {
		return err
	}
	vs2, err := vreg(args[1])
	if err != nil {
		return err
	}
	sew := u.sew
	regs := u.lmul.Registers()

	// second returns element i of the vs1/rs1/imm operand at eew bits.
	second := func(eew int) (func(i int) uint64, error) {
		if suffix[1] == 'v' || suffix[1] == 's' {
			vs1, err := vreg(args[2])
			if err != nil {
				return nil, err
			}
			return func(i int) uint64 { return u.Element(vs1, i, eew) }, nil
		}
		v, err := u.scalarSource(suffix[1], args[2])
		if err != nil {
			return nil, err
		}
		return func(int) uint64 { return v }, nil
	}

	if red, ok := reductionOps[base]; ok {
		src, err := second(sew)
		if err != nil {
			return err
		}
		if u.VL() == 0 {
			return nil
		}
		f := intOps[red]
		acc := src(0)
		for i := range u.VL() {
			if u.active(masked, i) {
				acc = f(acc, u.Element(vs2, i, sew), sew)
			}
		}
		u.SetElement(vd, 0, sew, acc)
		return nil
	}

	if cmp, ok := compareOps[base]; ok {
		src, err := second(sew)
		if err != nil {
			return err
		}
		if err := u.checkGroup(vs2, regs); err != nil {
			return err
		}
		for i := int(u.regFile.CSR.VStart); i < u.VL(); i++ {
			if u.active(masked, i) {
				u.setMaskBit(vd, i, cmp(u.Element(vs2, i, sew), src(i), sew))
			}
		}
		return nil
	}

	if w, ok := wideningOps[base]; ok {
		wideSrc := suffix[0] == 'w'
		src, err := second(sew)
		if err != nil {
			return err
		}
		if err := u.checkGroup(vd, 2*regs); err != nil {
			return err
		}
		ext := func(v uint64) uint64 {
			if w.signed {
				return signExtend(v, sew)
			}
			return trunc(v, sew)
		}
		f := intOps[w.op]
		for i := int(u.regFile.CSR.VStart); i < u.VL(); i++ {
			if !u.active(masked, i) {
				continue
			}
			a := ext(u.Element(vs2, i, sew))
			if wideSrc {
				a = u.Element(vs2, i, 2*sew)
			}
			u.SetElement(vd, i, 2*sew, f(a, ext(src(i)), 2*sew))
		}
		return nil
	}

	f, ok := intOps[base]
	if !ok {
		return fmt.Errorf("unsupported instruction %s", op)
	}
	src, err := second(sew)
	if err != nil {
		return err
	}
	if err := u.checkGroup(vd, regs); err != nil {
		return err
	}
	for i := int(u.regFile.CSR.VStart); i < u.VL(); i++ {
		if u.active(masked, i) {
			u.SetElement(vd, i, sew, f(u.Element(vs2, i, sew), src(i), sew))
		}
	}
	return nil
}

func wholeMove(base string) (int, bool) {
	switch base {
	case "vmv1r":
		return 1, true
	case "vmv2r":
		return 2, true
	case "vmv4r":
		return 4, true
	case "vmv8r":
		return 8, true
	}
	return 0, false
}

func (u *VPU) wholeMove(n int, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("whole register move needs 2 operands")
	}
	vd, err := vreg(args[0])
	if err != nil {
		return err
	}
	vs2, err := vreg(args[1])
	if err != nil {
		return err
	}
	if err := u.checkGroup(vd, n); err != nil {
		return err
	}
	if err := u.checkGroup(vs2, n); err != nil {
		return err
	}
	copy(u.regs[vd*u.vlenB:(vd+n)*u.vlenB], u.regs[vs2*u.vlenB:(vs2+n)*u.vlenB])
	return nil
}

func (u *VPU) move(op string, args []string, masked bool) error {
	sew := u.sew
	switch op {
	case "vmv.x.s":
		if len(args) != 2 {
			return fmt.Errorf("%s needs 2 operands", op)
		}
		rd, ok := insts.ParseXReg(args[0])
		if !ok {
			return fmt.Errorf("bad register %q", args[0])
		}
		vs2, err := vreg(args[1])
		if err != nil {
			return err
		}
		u.regFile.WriteReg(rd, signExtend(u.Element(vs2, 0, sew), sew))
		return nil

	case "vfmv.f.s":
		if len(args) != 2 {
			return fmt.Errorf("%s needs 2 operands", op)
		}
		fd, err := freg(args[0])
		if err != nil {
			return err
		}
		vs2, err := vreg(args[1])
		if err != nil {
			return err
		}
		u.regFile.F[fd] = box(u.Element(vs2, 0, sew), sew/8)
		return nil

	case "vid.v":
		if len(args) != 1 {
			return fmt.Errorf("%s needs 1 operand", op)
		}
		vd, err := vreg(args[0])
		if err != nil {
			return err
		}
		for i := int(u.regFile.CSR.VStart); i < u.VL(); i++ {
			if u.active(masked, i) {
				u.SetElement(vd, i, sew, uint64(i))
			}
		}
		return nil
	}

	if len(args) != 2 {
		return fmt.Errorf("%s needs 2 operands", op)
	}
	vd, err := vreg(args[0])
	if err != nil {
		return err
	}
	switch op {
	case "vmv.s.x":
		rs1, ok := insts.ParseXReg(args[1])
		if !ok {
			return fmt.Errorf("bad register %q", args[1])
		}
		if u.VL() > 0 && u.regFile.CSR.VStart == 0 {
			u.SetElement(vd, 0, sew, u.regFile.ReadReg(rs1))
		}
		return nil
	case "vmv.v.v":
		vs1, err := vreg(args[1])
		if err != nil {
			return err
		}
		for i := int(u.regFile.CSR.VStart); i < u.VL(); i++ {
			u.SetElement(vd, i, sew, u.Element(vs1, i, sew))
		}
		return nil
	case "vfmv.s.f":
		fs1, err := freg(args[1])
		if err != nil {
			return err
		}
		if u.VL() > 0 && u.regFile.CSR.VStart == 0 {
			u.SetElement(vd, 0, sew, u.regFile.F[fs1])
		}
		return nil
	case "vmv.v.x", "vmv.v.i":
		v, err := u.scalarSource(op[len(op)-1], args[1])
		if err != nil {
			return err
		}
		for i := int(u.regFile.CSR.VStart); i < u.VL(); i++ {
			u.SetElement(vd, i, sew, v)
		}
		return nil
	}
	return fmt.Errorf("unsupported instruction %s", op)
}

// slide implements vslidedown and vslideup with an immediate or register
// offset.
func (u *VPU) slide(base, suffix string, args []string, masked bool) error {
	if len(args) != 3 || (suffix != "vi" && suffix != "vx") {
		return fmt.Errorf("unsupported instruction %s.%s", base, suffix)
	}
	vd, err := vreg(args[0])
	if err != nil {
		return err
	}
	vs2, err := vreg(args[1])
	if err != nil {
		return err
	}
	if vd == vs2 {
		return fmt.Errorf("%s.%s destination overlaps its source", base, suffix)
	}
	off, err := u.scalarSource(suffix[1], args[2])
	if err != nil {
		return err
	}

	sew, vlmax := u.sew, uint64(u.vlmax())
	start := int(u.regFile.CSR.VStart)
	if base == "vslideup" {
		start = max(start, int(min(off, vlmax)))
	}
	for i := start; i < u.VL(); i++ {
		if !u.active(masked, i) {
			continue
		}
		if base == "vslideup" {
			u.SetElement(vd, i, sew, u.Element(vs2, i-int(off), sew))
			continue
		}
		var v uint64
		if src := uint64(i) + off; src < vlmax {
			v = u.Element(vs2, int(src), sew)
		}
		u.SetElement(vd, i, sew, v)
	}
	return nil
}

// merge implements vmerge.vvm, vmerge.vxm and vmerge.vim.
func (u *VPU) merge(suffix string, args []string) error {
	if len(args) != 4 || args[3] != "v0" || len(suffix) != 3 {
		return fmt.Errorf("unsupported instruction vmerge.%s", suffix)
	}
	vd, err := vreg(args[0])
	if err != nil {
		return err
	}
	vs2, err := vreg(args[1])
	if err != nil {
		return err
	}
	pick := func(i int) (uint64, error) { return u.scalarSource(suffix[1], args[2]) }
	if suffix[1] == 'v' {
		vs1, err := vreg(args[2])
		if err != nil {
			return err
		}
		pick = func(i int) (uint64, error) { return u.Element(vs1, i, u.sew), nil }
	}
	for i := int(u.regFile.CSR.VStart); i < u.VL(); i++ {
		v := u.Element(vs2, i, u.sew)
		if u.MaskBit(0, i) {
			if v, err = pick(i); err != nil {
				return err
			}
		}
		u.SetElement(vd, i, u.sew, v)
	}
	return nil
}
