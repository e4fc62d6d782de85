package insts

import (
	"strconv"
	"strings"
)

// XNames holds the ABI name of each integer register.
var XNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// FNames holds the ABI name of each floating-point register.
var FNames = [32]string{
	"ft0", "ft1", "ft2", "ft3", "ft4", "ft5", "ft6", "ft7",
	"fs0", "fs1", "fa0", "fa1", "fa2", "fa3", "fa4", "fa5",
	"fa6", "fa7", "fs2", "fs3", "fs4", "fs5", "fs6", "fs7",
	"fs8", "fs9", "fs10", "fs11", "ft8", "ft9", "ft10", "ft11",
}

var (
	xByName = buildIndex(XNames[:], "x")
	fByName = buildIndex(FNames[:], "f")
)

func buildIndex(names []string, prefix string) map[string]int {
	m := make(map[string]int, 2*len(names)+1)
	for i, n := range names {
		m[n] = i
		m[prefix+strconv.Itoa(i)] = i
	}
	return m
}

func init() {
	xByName["fp"] = 8
}

// ParseXReg resolves "x5", "t0" or "fp" to a register index.
func ParseXReg(name string) (int, bool) {
	r, ok := xByName[strings.ToLower(strings.TrimSpace(name))]
	return r, ok
}

// ParseFReg resolves "f10" or "fa0" to a register index.
func ParseFReg(name string) (int, bool) {
	r, ok := fByName[strings.ToLower(strings.TrimSpace(name))]
	return r, ok
}

// ParseVReg resolves "v8" to a register index.
func ParseVReg(name string) (int, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !strings.HasPrefix(name, "v") {
		return 0, false
	}
	n, err := strconv.Atoi(name[1:])
	if err != nil || n < 0 || n > 31 {
		return 0, false
	}
	return n, true
}

// RegName renders register r of class c.
func RegName(c Class, r int) string {
	switch c {
	case ClassVReg:
		return "v" + strconv.Itoa(r)
	case ClassFReg:
		return FNames[r]
	default:
		return XNames[r]
	}
}
