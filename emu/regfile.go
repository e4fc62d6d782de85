// Package emu executes generated RISC-V test programs. It interprets the
// assembly text directly, with enough of the scalar, floating-point and
// vector instruction sets to run the setup and check code the generator
// emits.
package emu

import "fmt"

// RegFile represents the scalar register state: the integer and
// floating-point registers, the program counter and the CSRs.
type RegFile struct {
	// X holds x0-x31. X[0] always reads as 0.
	X [32]uint64

	// F holds f0-f31 as raw bits.
	F [32]uint64

	// PC is the index of the next instruction in the program text.
	PC int

	CSR CSRFile
}

// CSRFile holds the control and status registers the tests touch.
type CSRFile struct {
	FFlags uint64
	FRM    uint64
	VXRM   uint64
	VXSat  uint64
	VStart uint64
	VL     uint64
	VType  uint64
}

// ReadReg reads an integer register. Register 0 returns 0.
func (r *RegFile) ReadReg(reg int) uint64 {
	if reg <= 0 || reg >= 32 {
		return 0
	}
	return r.X[reg]
}

// WriteReg writes an integer register. Writes to register 0 are ignored.
func (r *RegFile) WriteReg(reg int, value uint64) {
	if reg <= 0 || reg >= 32 {
		return
	}
	r.X[reg] = value
}

// ReadCSR reads a CSR by name. fcsr combines frm and fflags, vcsr combines
// vxrm and vxsat.
func (r *RegFile) ReadCSR(name string) (uint64, error) {
	c := &r.CSR
	switch name {
	case "fflags":
		return c.FFlags, nil
	case "frm":
		return c.FRM, nil
	case "fcsr":
		return c.FRM<<5 | c.FFlags, nil
	case "vxrm":
		return c.VXRM, nil
	case "vxsat":
		return c.VXSat, nil
	case "vcsr":
		return c.VXRM<<1 | c.VXSat, nil
	case "vstart":
		return c.VStart, nil
	case "vl":
		return c.VL, nil
	case "vtype":
		return c.VType, nil
	}
	return 0, fmt.Errorf("unknown CSR %q", name)
}

// WriteCSR writes a CSR by name. vl and vtype are read-only.
func (r *RegFile) WriteCSR(name string, value uint64) error {
	c := &r.CSR
	switch name {
	case "fflags":
		c.FFlags = value & 0x1f
	case "frm":
		c.FRM = value & 0x7
	case "fcsr":
		c.FRM, c.FFlags = value>>5&0x7, value&0x1f
	case "vxrm":
		c.VXRM = value & 0x3
	case "vxsat":
		c.VXSat = value & 0x1
	case "vcsr":
		c.VXRM, c.VXSat = value>>1&0x3, value&0x1
	case "vstart":
		c.VStart = value
	case "vl", "vtype":
		return fmt.Errorf("CSR %s is read-only", name)
	default:
		return fmt.Errorf("unknown CSR %q", name)
	}
	return nil
}
