package verify

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/sarchlab/vsynth/diag"
	"github.com/sarchlab/vsynth/insts"
)

// Report is the simulator's post-execution state tuple. Every field is a
// list of entries separated by semicolons or whitespace.
type Report struct {
	VRegs    string `json:"vregs" yaml:"vregs"`
	XRegs    string `json:"xregs" yaml:"xregs"`
	Flags    string `json:"flags" yaml:"flags"`
	MemAddrs string `json:"mem_addrs" yaml:"mem_addrs"`
	MemData  string `json:"mem_data" yaml:"mem_data"`
}

// Empty reports whether the simulator saw no update at all.
func (r Report) Empty() bool {
	return strings.TrimSpace(r.VRegs+r.XRegs+r.Flags+r.MemAddrs+r.MemData) == ""
}

// Format names a simulator backend's memory report layout.
type Format uint8

// Backend formats.
const (
	// FormatAuto detects address=value items and otherwise pairs by
	// position.
	FormatAuto Format = iota
	// FormatWide reports one address and one wide value per transaction.
	FormatWide
	// FormatPaired pairs each address with one element value, possibly as
	// address=value items.
	FormatPaired
)

var formatNames = map[Format]string{FormatAuto: "auto", FormatWide: "wide", FormatPaired: "paired"}

func (f Format) String() string {
	if n, ok := formatNames[f]; ok {
		return n
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

// MarshalText implements encoding.TextMarshaler.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Format) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	if s == "" {
		*f = FormatAuto
		return nil
	}
	for k, n := range formatNames {
		if n == s {
			*f = k
			return nil
		}
	}
	return fmt.Errorf("unknown report format %q", text)
}

// RegBytes is the reported content of one vector register. Bytes the
// report did not mention are unknown.
type RegBytes struct {
	Data  []byte
	Known []bool
}

// Covered reports whether every byte of [off, off+n) was reported.
func (r *RegBytes) Covered(off, n int) bool {
	if r == nil || off+n > len(r.Known) {
		return false
	}
	return !slices.Contains(r.Known[off:off+n], false)
}

// Slice renders [off, off+n) as a hex number of exactly 2n digits, the
// highest-addressed byte first.
func (r *RegBytes) Slice(off, n int) string {
	var b strings.Builder
	for i := off + n - 1; i >= off; i-- {
		fmt.Fprintf(&b, "%02x", r.Data[i])
	}
	return b.String()
}

// MemUpdate is one reported memory write.
type MemUpdate struct {
	Addr uint64
	// Data is in address order.
	Data []byte
}

// State is a normalized report.
type State struct {
	VRegs map[int]*RegBytes
	XRegs map[int]uint64
	FRegs map[int]uint64
	Flags map[string]uint64
	Mem   []MemUpdate
}

// Flag bits of fflags.
var fflagBits = map[string]uint64{"NV": 16, "DZ": 8, "OF": 4, "UF": 2, "NX": 1}

func fields(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ';' || r == ' ' || r == '\t' || r == '\n' || r == ','
	})
}

// parseHex parses a 0x-prefixed or bare hex number into little-endian
// bytes, one byte per two digits.
func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	s = strings.ReplaceAll(s, "_", "")
	if s == "" {
		return nil, fmt.Errorf("empty hex value")
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		v, err := strconv.ParseUint(s[len(s)-2*i-2:len(s)-2*i], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("bad hex value %q: %w", s, err)
		}
		out[i] = byte(v)
	}
	return out, nil
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(strings.ReplaceAll(strings.TrimSpace(s), "_", ""), 0, 64)
}

// Normalize parses a report for a VLEN-bit machine. bigEndian reverses the
// byte order of memory values. A memory value covers one byte per two hex
// digits, so values must be zero-padded to their full width. The verifier
// extends shorter values to the element width of the store instead.
func Normalize(r Report, format Format, vlen int, bigEndian bool) (*State, error) {
	return normalize(r, format, vlen, bigEndian, 0)
}

// normalize zero-extends memory values shorter than memWidth bytes.
func normalize(r Report, format Format, vlen int, bigEndian bool, memWidth int) (*State, error) {
	st := &State{
		VRegs: map[int]*RegBytes{},
		XRegs: map[int]uint64{},
		FRegs: map[int]uint64{},
		Flags: map[string]uint64{},
	}
	if err := st.parseVRegs(r.VRegs, vlen/8); err != nil {
		return nil, err
	}
	if err := st.parseScalars(r.XRegs); err != nil {
		return nil, err
	}
	if err := st.parseFlags(r.Flags); err != nil {
		return nil, err
	}
	if err := st.parseMem(r.MemAddrs, r.MemData, format, bigEndian, memWidth); err != nil {
		return nil, err
	}
	return st, nil
}

// parseVRegs accepts "vN:0xHEX", where the value may span a register
// group, and "vN[off]:0xHEX" for a byte slice at off.
func (st *State) parseVRegs(s string, vlenB int) error {
	for _, item := range fields(s) {
		name, val, ok := strings.Cut(item, ":")
		if !ok {
			name, val, ok = strings.Cut(item, "=")
		}
		if !ok {
			return diag.Reportf("vector entry %q has no value", item)
		}

		off := 0
		if i := strings.IndexByte(name, '['); i >= 0 && strings.HasSuffix(name, "]") {
			n, err := strconv.Atoi(name[i+1 : len(name)-1])
			if err != nil || n < 0 {
				return diag.Reportf("vector entry %q has a bad byte offset", item)
			}
			off, name = n, name[:i]
		}
		reg, ok := insts.ParseVReg(name)
		if !ok {
			return diag.Reportf("vector entry %q names no vector register", item)
		}
		data, err := parseHex(val)
		if err != nil {
			return diag.Wrap(diag.CategoryReport, err, "vector entry %q", item)
		}
		if reg*vlenB+off+len(data) > 32*vlenB {
			return diag.Reportf("vector entry %q runs past v31", item)
		}

		for i, b := range data {
			abs := off + i
			rb := st.reg(reg+abs/vlenB, vlenB)
			rb.Data[abs%vlenB] = b
			rb.Known[abs%vlenB] = true
		}
	}
	return nil
}

func (st *State) reg(r, vlenB int) *RegBytes {
	rb, ok := st.VRegs[r]
	if !ok {
		rb = &RegBytes{Data: make([]byte, vlenB), Known: make([]bool, vlenB)}
		st.VRegs[r] = rb
	}
	return rb
}

func (st *State) parseScalars(s string) error {
	for _, item := range fields(s) {
		name, val, ok := strings.Cut(item, ":")
		if !ok {
			name, val, ok = strings.Cut(item, "=")
		}
		if !ok {
			return diag.Reportf("scalar entry %q has no value", item)
		}
		v, err := parseUint(val)
		if err != nil {
			return diag.Wrap(diag.CategoryReport, err, "scalar entry %q", item)
		}
		if r, ok := insts.ParseXReg(name); ok {
			st.XRegs[r] = v
			continue
		}
		if r, ok := insts.ParseFReg(name); ok {
			st.FRegs[r] = v
			continue
		}
		return diag.Reportf("scalar entry %q names no register", item)
	}
	return nil
}

// parseFlags accepts "fflags:0x5", "vxsat:1", a bare number (fflags) and
// flag mnemonics such as "NV" or "NX|OF".
func (st *State) parseFlags(s string) error {
	for _, item := range fields(s) {
		if name, val, ok := strings.Cut(item, ":"); ok {
			v, err := parseUint(val)
			if err != nil {
				return diag.Wrap(diag.CategoryReport, err, "flag entry %q", item)
			}
			st.Flags[strings.ToLower(name)] = v
			continue
		}
		if v, err := parseUint(item); err == nil {
			st.Flags["fflags"] = v
			continue
		}
		var bits uint64
		for _, f := range strings.Split(strings.ToUpper(item), "|") {
			b, ok := fflagBits[f]
			if !ok {
				return diag.Reportf("unknown flag %q", f)
			}
			bits |= b
		}
		st.Flags["fflags"] |= bits
	}
	return nil
}

func (st *State) parseMem(addrs, data string, format Format, bigEndian bool, memWidth int) error {
	as, ds := fields(addrs), fields(data)

	var pairs [][2]string
	paired := format == FormatPaired ||
		(format == FormatAuto && slices.ContainsFunc(slices.Concat(as, ds), func(s string) bool {
			return strings.Contains(s, "=")
		}))
	switch {
	case paired && format != FormatWide:
		var rest []string
		for _, item := range slices.Concat(as, ds) {
			if a, v, ok := strings.Cut(item, "="); ok {
				pairs = append(pairs, [2]string{a, v})
			} else {
				rest = append(rest, item)
			}
		}
		if len(rest)%2 != 0 {
			return diag.Reportf("memory report has %d unpaired items", len(rest))
		}
		// Remaining items are addresses followed by as many values.
		half := len(rest) / 2
		for i := range half {
			pairs = append(pairs, [2]string{rest[i], rest[half+i]})
		}
	default:
		if len(as) != len(ds) {
			return diag.Reportf("memory report has %d addresses but %d values", len(as), len(ds))
		}
		for i := range as {
			pairs = append(pairs, [2]string{as[i], ds[i]})
		}
	}

	for _, p := range pairs {
		addr, err := parseUint(p[0])
		if err != nil {
			return diag.Wrap(diag.CategoryReport, err, "memory address %q", p[0])
		}
		b, err := parseHex(p[1])
		if err != nil {
			return diag.Wrap(diag.CategoryReport, err, "memory value %q at 0x%x", p[1], addr)
		}
		if len(b) < memWidth {
			b = append(b, make([]byte, memWidth-len(b))...)
		}
		if bigEndian {
			slices.Reverse(b)
		}
		st.Mem = append(st.Mem, MemUpdate{Addr: addr, Data: b})
	}
	slices.SortStableFunc(st.Mem, func(a, b MemUpdate) int {
		switch {
		case a.Addr < b.Addr:
			return -1
		case a.Addr > b.Addr:
			return 1
		}
		return 0
	})
	return nil
}

// SignExtendHex sign-extends a hex element slice to 64 bits. The slice
// must hold exactly width/4 digits.
func SignExtendHex(slice string, width int) (uint64, error) {
	s := strings.TrimPrefix(slice, "0x")
	if width <= 0 || width > 64 || len(s)*4 != width {
		return 0, diag.Internalf("hex slice %q is %d bits wide, element is %d", slice, len(s)*4, width)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, diag.Internalf("hex slice %q: %v", slice, err)
	}
	return uint64(insts.SignExtend(v, width)), nil
}
