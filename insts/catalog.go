package insts

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	widthSEW    = Width{Kind: WidthSEW}
	widthDouble = Width{Kind: WidthDouble}
	widthMask   = Width{Kind: WidthMask}
	widthXLEN   = Width{Kind: WidthXLEN}
)

func fixedWidth(bits int) Width { return Width{Kind: WidthFixed, Bits: bits} }

func vslot(field string, role Role, w Width) Slot {
	return Slot{Field: field, Role: role, Class: ClassVReg, Width: w}
}

func xslot(field string, role Role) Slot {
	return Slot{Field: field, Role: role, Class: ClassXReg, Width: widthXLEN}
}

func fslot(field string, role Role, w Width) Slot {
	return Slot{Field: field, Role: role, Class: ClassFReg, Width: w, Float: true}
}

func immSlot(signed bool) Slot {
	return Slot{Field: "imm", Role: RoleImm, Class: ClassImm, ImmBits: 5, Signed: signed}
}

func baseSlot() Slot {
	return Slot{Field: "rs1", Role: RoleSource, Class: ClassAddr, Width: widthXLEN, Use: UseBase}
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

var (
	macBases = set("vmacc", "vnmsac", "vmadd", "vnmsub",
		"vwmacc", "vwmaccu", "vwmaccsu", "vwmaccus",
		"vfmacc", "vfnmacc", "vfmsac", "vfnmsac", "vfmadd", "vfnmadd", "vfmsub", "vfnmsub",
		"vfwmacc", "vfwnmacc", "vfwmsac", "vfwnmsac", "vfwmaccbf16")
	narrowBases     = set("vnsrl", "vnsra", "vnclip", "vnclipu")
	fixedPointBases = set("vsaddu", "vsadd", "vssubu", "vssub", "vaaddu", "vaadd",
		"vasubu", "vasub", "vsmul", "vssrl", "vssra", "vnclipu", "vnclip")
	uimmBases = set("vsll", "vsrl", "vsra", "vssrl", "vssra", "vnsrl", "vnsra",
		"vnclip", "vnclipu", "vslideup", "vslidedown", "vrgather")
	unroundedFP = set("vfmin", "vfmax", "vfsgnj", "vfsgnjn", "vfsgnjx", "vfclass",
		"vfmerge", "vfmv", "vfslide1up", "vfslide1down", "vfredmin", "vfredmax",
		"vfrsqrt7")
	fpUnaryBases = set("vfsqrt", "vfrsqrt7", "vfrec7", "vfclass")
	maskSetBases = set("vmsbf", "vmsif", "vmsof")
)

var (
	reUnit     = regexp.MustCompile(`^v([ls])e(8|16|32|64)(ff)?\.v$`)
	reMask     = regexp.MustCompile(`^v([ls])m\.v$`)
	reStrided  = regexp.MustCompile(`^v([ls])se(8|16|32|64)\.v$`)
	reIndexed  = regexp.MustCompile(`^v([ls])([uo])xei(8|16|32|64)\.v$`)
	reWholeLd  = regexp.MustCompile(`^vl([1248])re(8|16|32|64)\.v$`)
	reWholeOld = regexp.MustCompile(`^vl([1248])r\.v$`)
	reWholeSt  = regexp.MustCompile(`^vs([1248])r\.v$`)
	reSegUnit  = regexp.MustCompile(`^v([ls])seg([2-8])e(8|16|32|64)(ff)?\.v$`)
	reSegStr   = regexp.MustCompile(`^v([ls])sseg([2-8])e(8|16|32|64)\.v$`)
	reSegIdx   = regexp.MustCompile(`^v([ls])([uo])xseg([2-8])ei(8|16|32|64)\.v$`)
	reWholeMv  = regexp.MustCompile(`^vmv([1248])r$`)
	reScalarFP = regexp.MustCompile(`^(f[a-z]+)\.([sdh])$`)
)

// Classify derives the shape of a mnemonic.
func Classify(mnemonic string) (*Shape, error) {
	m := strings.ToLower(strings.TrimSpace(mnemonic))
	if s, ok := classifyMemory(m); ok {
		return s, nil
	}
	if strings.HasPrefix(m, "f") {
		return classifyScalarFP(m)
	}
	if !strings.HasPrefix(m, "v") {
		return nil, fmt.Errorf("unsupported mnemonic %q", mnemonic)
	}

	base, suffix, _ := strings.Cut(m, ".")
	s, err := classifyVector(m, base, suffix)
	if err != nil {
		return nil, err
	}
	s.Mnemonic = m
	return s, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func classifyMemory(m string) (*Shape, bool) {
	if g := reUnit.FindStringSubmatch(m); g != nil {
		return memShape(m, g[1] == "s", &MemShape{
			Kind: MemUnit, EEW: atoi(g[2]), NF: 1, FaultFirst: g[3] != "",
		}), true
	}
	if g := reMask.FindStringSubmatch(m); g != nil {
		return memShape(m, g[1] == "s", &MemShape{Kind: MemMask, EEW: 8, NF: 1}), true
	}
	if g := reStrided.FindStringSubmatch(m); g != nil {
		return memShape(m, g[1] == "s", &MemShape{Kind: MemStrided, EEW: atoi(g[2]), NF: 1}), true
	}
	if g := reIndexed.FindStringSubmatch(m); g != nil {
		return memShape(m, g[1] == "s", &MemShape{
			Kind: MemIndexed, EEW: atoi(g[3]), NF: 1, Ordered: g[2] == "o",
		}), true
	}
	if g := reWholeLd.FindStringSubmatch(m); g != nil {
		return memShape(m, false, &MemShape{Kind: MemWhole, EEW: atoi(g[2]), NF: 1, Regs: atoi(g[1])}), true
	}
	if g := reWholeOld.FindStringSubmatch(m); g != nil {
		return memShape(m, false, &MemShape{Kind: MemWhole, EEW: 8, NF: 1, Regs: atoi(g[1])}), true
	}
	if g := reWholeSt.FindStringSubmatch(m); g != nil {
		return memShape(m, true, &MemShape{Kind: MemWhole, EEW: 8, NF: 1, Regs: atoi(g[1])}), true
	}
	if g := reSegUnit.FindStringSubmatch(m); g != nil {
		return memShape(m, g[1] == "s", &MemShape{
			Kind: MemUnit, EEW: atoi(g[3]), NF: atoi(g[2]), FaultFirst: g[4] != "",
		}), true
	}
	if g := reSegStr.FindStringSubmatch(m); g != nil {
		return memShape(m, g[1] == "s", &MemShape{Kind: MemStrided, EEW: atoi(g[3]), NF: atoi(g[2])}), true
	}
	if g := reSegIdx.FindStringSubmatch(m); g != nil {
		return memShape(m, g[1] == "s", &MemShape{
			Kind: MemIndexed, EEW: atoi(g[4]), NF: atoi(g[3]), Ordered: g[2] == "o",
		}), true
	}
	return nil, false
}

func memShape(m string, store bool, mem *MemShape) *Shape {
	mem.Store = store
	s := &Shape{Mnemonic: m, Family: FamilyLoad, Mem: mem, Maskable: true}
	if store {
		s.Family = FamilyStore
	}

	data := vslot("vd", RoleDest, fixedWidth(mem.EEW))
	if store {
		data = vslot("vs3", RoleSource, fixedWidth(mem.EEW))
	}
	data.NF = mem.NF

	switch mem.Kind {
	case MemUnit:
		s.Slots = []Slot{data, baseSlot()}
	case MemStrided:
		stride := xslot("rs2", RoleSource)
		stride.Use = UseStride
		s.Slots = []Slot{data, baseSlot(), stride}
	case MemIndexed:
		data.Width = widthSEW
		index := vslot("vs2", RoleSource, fixedWidth(mem.EEW))
		index.Use = UseIndex
		s.Slots = []Slot{data, baseSlot(), index}
	case MemWhole:
		data.Regs = mem.Regs
		s.Slots = []Slot{data, baseSlot()}
		s.Maskable = false
	case MemMask:
		data.Width = widthMask
		s.Slots = []Slot{data, baseSlot()}
		s.Maskable = false
		s.DestMask = !store
	}
	return s
}

func classifyScalarFP(m string) (*Shape, error) {
	g := reScalarFP.FindStringSubmatch(m)
	if g == nil {
		return nil, fmt.Errorf("unsupported mnemonic %q", m)
	}
	bits := map[string]int{"d": 64, "s": 32, "h": 16}[g[2]]
	w := fixedWidth(bits)
	s := &Shape{Mnemonic: m, Family: FamilyScalarFP, Float: true, ScalarBits: bits}

	switch g[1] {
	case "fadd", "fsub", "fmul", "fdiv":
		s.Slots = []Slot{fslot("fd", RoleDest, w), fslot("fs1", RoleSource, w), fslot("fs2", RoleSource, w)}
		s.Rounding, s.StaticRM = true, true
	case "fmin", "fmax", "fsgnj", "fsgnjn", "fsgnjx":
		s.Slots = []Slot{fslot("fd", RoleDest, w), fslot("fs1", RoleSource, w), fslot("fs2", RoleSource, w)}
	case "fsqrt":
		s.Slots = []Slot{fslot("fd", RoleDest, w), fslot("fs1", RoleSource, w)}
		s.Rounding, s.StaticRM = true, true
	case "fmadd", "fmsub", "fnmadd", "fnmsub":
		s.Slots = []Slot{fslot("fd", RoleDest, w), fslot("fs1", RoleSource, w),
			fslot("fs2", RoleSource, w), fslot("fs3", RoleSource, w)}
		s.Rounding, s.StaticRM = true, true
	case "feq", "flt", "fle":
		s.Slots = []Slot{xslot("rd", RoleDest), fslot("fs1", RoleSource, w), fslot("fs2", RoleSource, w)}
	case "fclass":
		s.Slots = []Slot{xslot("rd", RoleDest), fslot("fs1", RoleSource, w)}
	default:
		return nil, fmt.Errorf("unsupported mnemonic %q", m)
	}
	return s, nil
}

// operandFor builds the trailing source operand implied by an operand-type
// suffix letter: v (vs1), x (rs1), i (imm), f (fs1).
func operandFor(kind byte, base string, w Width) (Slot, bool) {
	switch kind {
	case 'v':
		return vslot("vs1", RoleSource, w), true
	case 'x':
		return xslot("rs1", RoleSource), true
	case 'i':
		return immSlot(!uimmBases[base]), true
	case 'f':
		return fslot("fs1", RoleSource, w), true
	}
	return Slot{}, false
}

//nolint:gocyclo // one case per mnemonic family
func classifyVector(m, base, suffix string) (*Shape, error) {
	unsupported := fmt.Errorf("unsupported mnemonic %q", m)
	isFloat := strings.HasPrefix(base, "vf") || strings.HasPrefix(base, "vmf")
	s := &Shape{Float: isFloat, Maskable: true, FixedPoint: fixedPointBases[base]}

	switch {
	case base == "vmv" || base == "vfmv":
		s.Maskable = false
		switch suffix {
		case "x.s":
			s.Family = FamilyScalarMove
			s.Slots = []Slot{xslot("rd", RoleDest), single(vslot("vs2", RoleSource, widthSEW))}
		case "s.x":
			s.Family = FamilyScalarMove
			s.Slots = []Slot{single(vslot("vd", RoleDest, widthSEW)), xslot("rs1", RoleSource)}
		case "f.s":
			s.Family = FamilyScalarMove
			s.Slots = []Slot{fslot("fd", RoleDest, widthSEW), single(vslot("vs2", RoleSource, widthSEW))}
		case "s.f":
			s.Family = FamilyScalarMove
			s.Slots = []Slot{single(vslot("vd", RoleDest, widthSEW)), fslot("fs1", RoleSource, widthSEW)}
		case "v.v", "v.x", "v.i", "v.f":
			s.Family = FamilyMove
			src, _ := operandFor(suffix[2], base, widthSEW)
			s.Slots = []Slot{vslot("vd", RoleDest, widthSEW), src}
		default:
			return nil, unsupported
		}

	case reWholeMv.MatchString(base) && suffix == "v":
		n := atoi(reWholeMv.FindStringSubmatch(base)[1])
		s.Family = FamilyWholeMove
		s.Maskable = false
		vd, vs2 := vslot("vd", RoleDest, widthSEW), vslot("vs2", RoleSource, widthSEW)
		vd.Regs, vs2.Regs = n, n
		s.Slots = []Slot{vd, vs2}

	case (base == "vcpop" || base == "vpopc" || base == "vfirst") && suffix == "m":
		s.Family = FamilyMaskUnary
		s.Float = false
		s.Slots = []Slot{xslot("rd", RoleDest), vslot("vs2", RoleSource, widthMask)}

	case maskSetBases[base] && suffix == "m":
		s.Family = FamilyMaskUnary
		s.DestMask, s.NoOverlap = true, true
		s.Slots = []Slot{vslot("vd", RoleDest, widthMask), vslot("vs2", RoleSource, widthMask)}

	case base == "viota" && suffix == "m":
		s.Family = FamilyMaskUnary
		s.NoOverlap = true
		s.Slots = []Slot{vslot("vd", RoleDest, widthSEW), vslot("vs2", RoleSource, widthMask)}

	case base == "vid" && suffix == "v":
		s.Family = FamilyMaskUnary
		s.Slots = []Slot{vslot("vd", RoleDest, widthSEW)}

	case base == "vcompress" && suffix == "vm":
		s.Family = FamilyPermute
		s.Maskable = false
		s.NoOverlap = true
		sel := vslot("vs1", RoleSource, widthMask)
		sel.Use = UseMaskData
		s.Slots = []Slot{vslot("vd", RoleDest, widthSEW), vslot("vs2", RoleSource, widthSEW), sel}

	case base == "vmerge" || base == "vfmerge" || base == "vadc" || base == "vsbc":
		if len(suffix) != 3 || suffix[2] != 'm' || suffix[0] != 'v' {
			return nil, unsupported
		}
		src, ok := operandFor(suffix[1], base, widthSEW)
		if !ok {
			return nil, unsupported
		}
		s.Family = FamilyMerge
		s.Maskable = false
		s.UsesV0 = true
		s.Slots = []Slot{vslot("vd", RoleDest, widthSEW), vslot("vs2", RoleSource, widthSEW), src}

	case base == "vmadc" || base == "vmsbc":
		kind := suffix
		if strings.HasSuffix(suffix, "m") {
			s.UsesV0 = true
			kind = strings.TrimSuffix(suffix, "m")
		}
		if len(kind) != 2 || kind[0] != 'v' {
			return nil, unsupported
		}
		src, ok := operandFor(kind[1], base, widthSEW)
		if !ok {
			return nil, unsupported
		}
		s.Family = FamilyMaskCompare
		s.Maskable = false
		s.DestMask = true
		s.Slots = []Slot{vslot("vd", RoleDest, widthMask), vslot("vs2", RoleSource, widthSEW), src}

	case (base == "vzext" || base == "vsext") && strings.HasPrefix(suffix, "vf"):
		div := atoi(suffix[2:])
		if div != 2 && div != 4 && div != 8 {
			return nil, unsupported
		}
		s.Family = FamilyExtension
		s.NoOverlap = true
		s.Slots = []Slot{
			vslot("vd", RoleDest, widthSEW),
			vslot("vs2", RoleSource, Width{Kind: WidthFraction, Div: div}),
		}

	case strings.HasPrefix(base, "vfcvt") || strings.HasPrefix(base, "vfwcvt") ||
		strings.HasPrefix(base, "vfncvt"):
		return classifyConvert(s, m, base, suffix)

	case fpUnaryBases[base] && suffix == "v":
		s.Family = FamilyArith
		s.Rounding = !unroundedFP[base]
		s.Slots = []Slot{vslot("vd", RoleDest, widthSEW), vslot("vs2", RoleSource, widthSEW)}

	case suffix == "vs" && (strings.HasPrefix(base, "vred") || strings.HasPrefix(base, "vfred") ||
		strings.HasPrefix(base, "vwred") || strings.HasPrefix(base, "vfwred")):
		acc := widthSEW
		if strings.HasPrefix(base, "vwred") || strings.HasPrefix(base, "vfwred") {
			acc = widthDouble
		}
		s.Family = FamilyReduction
		s.Rounding = isFloat && !unroundedFP[base]
		s.Slots = []Slot{
			single(vslot("vd", RoleDest, acc)),
			vslot("vs2", RoleSource, widthSEW),
			single(vslot("vs1", RoleSource, acc)),
		}

	case suffix == "mm":
		s.Family = FamilyMaskLogical
		s.Maskable = false
		s.DestMask = true
		s.Slots = []Slot{
			vslot("vd", RoleDest, widthMask),
			vslot("vs2", RoleSource, widthMask),
			vslot("vs1", RoleSource, widthMask),
		}

	case strings.HasPrefix(base, "vms") || strings.HasPrefix(base, "vmf"):
		if len(suffix) != 2 || suffix[0] != 'v' {
			return nil, unsupported
		}
		src, ok := operandFor(suffix[1], base, widthSEW)
		if !ok {
			return nil, unsupported
		}
		s.Family = FamilyMaskCompare
		s.DestMask = true
		s.Slots = []Slot{vslot("vd", RoleDest, widthMask), vslot("vs2", RoleSource, widthSEW), src}

	case strings.Contains(base, "slide"):
		if len(suffix) != 2 || suffix[0] != 'v' {
			return nil, unsupported
		}
		src, ok := operandFor(suffix[1], base, widthSEW)
		if !ok {
			return nil, unsupported
		}
		s.Family = FamilyPermute
		s.NoOverlap = strings.HasSuffix(base, "up")
		s.Slots = []Slot{vslot("vd", RoleDest, widthSEW), vslot("vs2", RoleSource, widthSEW), src}

	case base == "vrgather" || base == "vrgatherei16":
		w := widthSEW
		if base == "vrgatherei16" {
			if suffix != "vv" {
				return nil, unsupported
			}
			w = fixedWidth(16)
		}
		if len(suffix) != 2 || suffix[0] != 'v' {
			return nil, unsupported
		}
		src, ok := operandFor(suffix[1], base, w)
		if !ok {
			return nil, unsupported
		}
		s.Family = FamilyPermute
		s.NoOverlap = true
		s.Slots = []Slot{vslot("vd", RoleDest, widthSEW), vslot("vs2", RoleSource, widthSEW), src}

	case macBases[base]:
		if len(suffix) != 2 || suffix[0] != 'v' {
			return nil, unsupported
		}
		acc := widthSEW
		if strings.HasPrefix(base, "vw") || strings.HasPrefix(base, "vfw") {
			acc = widthDouble
			s.Family = FamilyWidening
			s.NoOverlap = true
		}
		src, ok := operandFor(suffix[1], base, widthSEW)
		if !ok {
			return nil, unsupported
		}
		s.Rounding = isFloat
		s.BF16 = strings.HasSuffix(base, "bf16")
		s.Slots = []Slot{vslot("vd", RoleAccumulate, acc), src, vslot("vs2", RoleSource, widthSEW)}

	case narrowBases[base]:
		if len(suffix) != 2 || suffix[0] != 'w' {
			return nil, unsupported
		}
		src, ok := operandFor(suffix[1], base, widthSEW)
		if !ok {
			return nil, unsupported
		}
		s.Family = FamilyNarrowing
		s.NoOverlap = true
		s.Slots = []Slot{vslot("vd", RoleDest, widthSEW), vslot("vs2", RoleSource, widthDouble), src}

	case strings.HasPrefix(base, "vw") || strings.HasPrefix(base, "vfw"):
		if len(suffix) != 2 || (suffix[0] != 'v' && suffix[0] != 'w') {
			return nil, unsupported
		}
		vs2 := widthSEW
		if suffix[0] == 'w' {
			vs2 = widthDouble
		}
		src, ok := operandFor(suffix[1], base, widthSEW)
		if !ok || suffix[1] == 'i' {
			return nil, unsupported
		}
		s.Family = FamilyWidening
		s.NoOverlap = true
		s.Rounding = isFloat
		s.Slots = []Slot{vslot("vd", RoleDest, widthDouble), vslot("vs2", RoleSource, vs2), src}

	default:
		if len(suffix) != 2 || suffix[0] != 'v' {
			return nil, unsupported
		}
		src, ok := operandFor(suffix[1], base, widthSEW)
		if !ok {
			return nil, unsupported
		}
		s.Family = FamilyArith
		s.Rounding = isFloat && !unroundedFP[base]
		s.Slots = []Slot{vslot("vd", RoleDest, widthSEW), vslot("vs2", RoleSource, widthSEW), src}
	}

	if s.Float {
		markFloat(s, base)
	}
	return s, nil
}

func classifyConvert(s *Shape, m, base, suffix string) (*Shape, error) {
	parts := strings.Split(suffix, ".")
	if len(parts) < 3 {
		return nil, fmt.Errorf("unsupported mnemonic %q", m)
	}
	last := parts[len(parts)-1]
	src := parts[len(parts)-2]
	dst := parts[len(parts)-3]

	dw, sw := widthSEW, widthSEW
	switch {
	case strings.HasPrefix(base, "vfwcvt"):
		dw = widthDouble
		if last != "v" {
			return nil, fmt.Errorf("unsupported mnemonic %q", m)
		}
	case strings.HasPrefix(base, "vfncvt"):
		sw = widthDouble
		if last != "w" {
			return nil, fmt.Errorf("unsupported mnemonic %q", m)
		}
	default:
		if last != "v" {
			return nil, fmt.Errorf("unsupported mnemonic %q", m)
		}
	}

	vd := vslot("vd", RoleDest, dw)
	vd.Float = dst == "f"
	vs2 := vslot("vs2", RoleSource, sw)
	vs2.Float = src == "f"

	s.Mnemonic = m
	s.Family = FamilyConvert
	s.Float = vd.Float || vs2.Float
	s.Rounding = !strings.Contains(suffix, "rtz") && !strings.Contains(suffix, "rod")
	s.NoOverlap = dw != sw
	s.BF16 = strings.HasSuffix(base, "bf16")
	s.Slots = []Slot{vd, vs2}
	return s, nil
}

func single(s Slot) Slot {
	s.Single = true
	return s
}

// markFloat flags the data operands of a floating-point shape. vfclass
// writes integer class masks.
func markFloat(s *Shape, base string) {
	for i := range s.Slots {
		sl := &s.Slots[i]
		if sl.Class == ClassVReg && sl.Width.Kind != WidthMask && sl.Use == UseData {
			sl.Float = true
		}
	}
	if base == "vfclass" {
		s.Slots[0].Float = false
	}
}
