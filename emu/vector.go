package emu

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/sarchlab/vsynth/insts"
	"github.com/sarchlab/vsynth/vtype"
)

// VPU implements the vector extension over a VLEN-bit register file. Tail
// and inactive elements are always left undisturbed, which both policies
// allow.
type VPU struct {
	regFile *RegFile
	memory  *Memory
	vlen    int
	vlenB   int
	regs    []byte

	sew  int
	lmul vtype.LMUL
	vill bool
}

// NewVPU creates a vector unit with vlen-bit registers.
func NewVPU(regFile *RegFile, memory *Memory, vlen int) *VPU {
	u := &VPU{
		regFile: regFile,
		memory:  memory,
		vlen:    vlen,
		vlenB:   vlen / 8,
		regs:    make([]byte, 32*vlen/8),
	}
	u.setVill()
	return u
}

// VLEN returns the register width in bits.
func (u *VPU) VLEN() int { return u.vlen }

// SEW returns the element width of the current vtype.
func (u *VPU) SEW() int { return u.sew }

// VL returns the current vector length.
func (u *VPU) VL() int { return int(u.regFile.CSR.VL) }

// Register returns a copy of register r's bytes.
func (u *VPU) Register(r int) []byte {
	out := make([]byte, u.vlenB)
	copy(out, u.regs[r*u.vlenB:(r+1)*u.vlenB])
	return out
}

// Element reads element i of eew bits counting from register r. Elements
// past the end of r continue into the following registers.
func (u *VPU) Element(r, i, eew int) uint64 {
	esz := eew / 8
	off := r*u.vlenB + i*esz
	if off < 0 || off+esz > len(u.regs) {
		return 0
	}
	buf := make([]byte, 8)
	copy(buf, u.regs[off:off+esz])
	return binary.LittleEndian.Uint64(buf)
}

// SetElement writes element i of eew bits counting from register r.
func (u *VPU) SetElement(r, i, eew int, v uint64) {
	esz := eew / 8
	off := r*u.vlenB + i*esz
	if off < 0 || off+esz > len(u.regs) {
		return
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	copy(u.regs[off:off+esz], buf[:esz])
}

// MaskBit reads bit i of mask register r.
func (u *VPU) MaskBit(r, i int) bool {
	return u.regs[r*u.vlenB+i/8]>>(uint(i)%8)&1 == 1
}

func (u *VPU) setMaskBit(r, i int, on bool) {
	b := &u.regs[r*u.vlenB+i/8]
	if on {
		*b |= 1 << (uint(i) % 8)
	} else {
		*b &^= 1 << (uint(i) % 8)
	}
}

func (u *VPU) setVill() {
	u.vill = true
	u.sew, u.lmul = 0, vtype.LMUL1
	u.regFile.CSR.VType = 1 << 63
	u.regFile.CSR.VL = 0
}

func (u *VPU) vlmax() int {
	if u.vill {
		return 0
	}
	return vtype.VLMAXFor(u.vlen, u.sew, u.lmul)
}

// groupRegs is the number of registers an eew-bit operand spans under the
// current vtype.
func (u *VPU) groupRegs(eew int) (int, error) {
	emul, err := vtype.EMUL(eew, u.sew, u.lmul)
	if err != nil {
		return 0, err
	}
	return emul.Registers(), nil
}

func (u *VPU) checkGroup(base, regs int) error {
	if base < 0 || base+regs > 32 {
		return fmt.Errorf("register group v%d..v%d is out of range", base, base+regs-1)
	}
	return nil
}

// Exec executes a vector instruction. The trailing "v0.t" of masked
// instructions is part of args.
func (u *VPU) Exec(op string, args []string) error {
	masked := len(args) > 0 && args[len(args)-1] == "v0.t"
	if masked {
		args = args[:len(args)-1]
	}

	if strings.HasPrefix(op, "vset") {
		return u.vset(op, args)
	}
	defer func() { u.regFile.CSR.VStart = 0 }()
	if u.vill {
		return fmt.Errorf("%s with an illegal vtype", op)
	}

	if shape, err := insts.Classify(op); err == nil && shape.IsMemory() {
		return u.memoryOp(shape.Mem, args, masked)
	}
	return u.arith(op, args, masked)
}

func (u *VPU) vset(op string, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("%s needs at least 3 operands", op)
	}
	rd, ok := insts.ParseXReg(args[0])
	if !ok {
		return fmt.Errorf("bad register %q", args[0])
	}

	var (
		avl   uint64
		sew   int
		lmul  vtype.LMUL
		vlmax bool
		keep  bool
		err   error
	)
	switch op {
	case "vsetivli":
		v, err := parseUint(args[1])
		if err != nil {
			return err
		}
		avl = v
		sew, lmul, err = parseVtypei(args[2:])
		if err != nil {
			return err
		}
	case "vsetvli", "vsetvl":
		rs1, ok := insts.ParseXReg(args[1])
		if !ok {
			return fmt.Errorf("bad register %q", args[1])
		}
		switch {
		case rs1 != 0:
			avl = u.regFile.ReadReg(rs1)
		case rd != 0:
			vlmax = true
		default:
			keep = true
		}
		if op == "vsetvli" {
			sew, lmul, err = parseVtypei(args[2:])
		} else {
			rs2, ok := insts.ParseXReg(args[2])
			if !ok {
				return fmt.Errorf("bad register %q", args[2])
			}
			_, _, lmul, sew, err = vtype.DecodeVtype(u.regFile.ReadReg(rs2))
		}
		if err != nil {
			u.setVill()
			u.regFile.WriteReg(rd, 0)
			return nil
		}
	default:
		return fmt.Errorf("unsupported instruction %s", op)
	}

	vt, err := vtypeValue(op, args, u.regFile, sew, lmul)
	if err != nil || vtype.VLMAXFor(u.vlen, sew, lmul) == 0 || sew > 64 {
		u.setVill()
		u.regFile.WriteReg(rd, 0)
		return nil
	}

	old := u.regFile.CSR.VL
	u.vill, u.sew, u.lmul = false, sew, lmul
	u.regFile.CSR.VType = vt
	limit := uint64(u.vlmax())
	switch {
	case vlmax:
		u.regFile.CSR.VL = limit
	case keep:
		u.regFile.CSR.VL = min(old, limit)
	default:
		u.regFile.CSR.VL = min(avl, limit)
	}
	u.regFile.CSR.VStart = 0
	u.regFile.WriteReg(rd, u.regFile.CSR.VL)
	return nil
}

// parseVtypei reads "e32, m2, ta, ma".
func parseVtypei(fields []string) (int, vtype.LMUL, error) {
	sew, lmul := 0, vtype.LMUL1
	for _, f := range fields {
		f = strings.TrimSpace(f)
		switch {
		case strings.HasPrefix(f, "e"):
			if _, err := fmt.Sscanf(f, "e%d", &sew); err != nil {
				return 0, 0, fmt.Errorf("bad SEW %q", f)
			}
		case strings.HasPrefix(f, "m") && f != "mu" && f != "ma":
			l, err := vtype.ParseLMUL(f)
			if err != nil {
				return 0, 0, err
			}
			lmul = l
		}
	}
	if !vtype.ValidSEW(sew) {
		return 0, 0, fmt.Errorf("bad SEW %d", sew)
	}
	return sew, lmul, nil
}

func vtypeValue(op string, args []string, rf *RegFile, sew int, lmul vtype.LMUL) (uint64, error) {
	if op == "vsetvl" {
		rs2, _ := insts.ParseXReg(args[2])
		return rf.ReadReg(rs2), nil
	}
	ta, ma := false, false
	for _, f := range args[2:] {
		switch strings.TrimSpace(f) {
		case "ta":
			ta = true
		case "ma":
			ma = true
		}
	}
	v, err := vtype.EncodeVtype(ma, ta, lmul, sew)
	return uint64(v), err
}

func (u *VPU) active(masked bool, i int) bool {
	return !masked || u.MaskBit(0, i)
}

func vreg(s string) (int, error) {
	r, ok := insts.ParseVReg(s)
	if !ok {
		return 0, fmt.Errorf("bad vector register %q", s)
	}
	return r, nil
}

// memOperand parses "(rs1)" or "off(rs1)".
func (u *VPU) memOperand(s string) (uint64, error) {
	return addrOperand(u.regFile, s)
}

func addrOperand(rf *RegFile, s string) (uint64, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return 0, fmt.Errorf("bad memory operand %q", s)
	}
	r, ok := insts.ParseXReg(s[open+1 : len(s)-1])
	if !ok {
		return 0, fmt.Errorf("bad base register in %q", s)
	}
	off := int64(0)
	if open > 0 {
		v, err := parseImm(s[:open])
		if err != nil {
			return 0, err
		}
		off = v
	}
	return uint64(int64(rf.ReadReg(r)) + off), nil
}

func (u *VPU) memoryOp(m *insts.MemShape, args []string, masked bool) error {
	if len(args) < 2 {
		return fmt.Errorf("vector memory access needs at least 2 operands")
	}
	vd, err := vreg(args[0])
	if err != nil {
		return err
	}
	base, err := u.memOperand(args[1])
	if err != nil {
		return err
	}

	nf := max(1, m.NF)
	eew := m.EEW
	vl := u.VL()
	var (
		regs, evl int
		addr      func(i, f int) uint64
	)
	switch m.Kind {
	case insts.MemWhole:
		regs, evl = m.Regs, m.Regs*u.vlen/eew
		masked = false
		addr = func(i, _ int) uint64 { return base + uint64(i*eew/8) }
	case insts.MemMask:
		regs, evl = 1, (vl+7)/8
		masked = false
		addr = func(i, _ int) uint64 { return base + uint64(i) }
	case insts.MemUnit:
		if regs, err = u.groupRegs(eew); err != nil {
			return err
		}
		evl = vl
		addr = func(i, f int) uint64 { return base + uint64((i*nf+f)*eew/8) }
	case insts.MemStrided:
		if regs, err = u.groupRegs(eew); err != nil {
			return err
		}
		if len(args) < 3 {
			return fmt.Errorf("strided access needs a stride register")
		}
		rs2, ok := insts.ParseXReg(args[2])
		if !ok {
			return fmt.Errorf("bad stride register %q", args[2])
		}
		stride := int64(u.regFile.ReadReg(rs2))
		evl = vl
		addr = func(i, f int) uint64 { return uint64(int64(base) + int64(i)*stride + int64(f*eew/8)) }
	case insts.MemIndexed:
		if len(args) < 3 {
			return fmt.Errorf("indexed access needs an index register")
		}
		vs2, err := vreg(args[2])
		if err != nil {
			return err
		}
		ieew := eew
		iregs, err := u.groupRegs(ieew)
		if err != nil {
			return err
		}
		if err := u.checkGroup(vs2, iregs); err != nil {
			return err
		}
		eew = u.sew
		regs = u.lmul.Registers()
		evl = vl
		addr = func(i, f int) uint64 { return base + u.Element(vs2, i, ieew) + uint64(f*eew/8) }
	}
	if err := u.checkGroup(vd, regs*nf); err != nil {
		return err
	}

	esz := eew / 8
	for i := int(u.regFile.CSR.VStart); i < evl; i++ {
		if !u.active(masked, i) {
			continue
		}
		for f := range nf {
			reg := vd + f*regs
			a := addr(i, f)
			if m.Store {
				if err := u.memory.WriteUint(a, esz, u.Element(reg, i, eew)); err != nil {
					return err
				}
				continue
			}
			v, err := u.memory.ReadUint(a, esz)
			if err != nil {
				return err
			}
			u.SetElement(reg, i, eew, v)
		}
	}
	return nil
}
