package lsmode

import (
	"fmt"
	"slices"

	"github.com/sarchlab/vsynth/diag"
	"github.com/sarchlab/vsynth/memlayout"
	"github.com/sarchlab/vsynth/operand"
	"github.com/sarchlab/vsynth/vtype"
)

// unitMode covers unit-stride, segmented unit-stride and fault-only-first
// accesses: one contiguous region of nf*EMUL*VLEN bits.
type unitMode struct {
	*base
}

func (m *unitMode) PlanMemory(p *memlayout.Planner) error {
	return m.place(p, m.nf*m.groupBytes())
}

func (m *unitMode) PreSetup() ([]string, error) {
	return m.baseSetup(0)
}

// stridedMode spaces elements stride bytes apart.
type stridedMode struct {
	*base
	stride int
}

// Stride returns the drawn stride in bytes.
func (m *stridedMode) Stride() int {
	return m.stride
}

// DrawParams draws a small stride that keeps the access inside one page.
// With alignment forced the stride is a multiple of the element size.
func (m *stridedMode) DrawParams(sel *operand.Selector) error {
	m.sel = sel
	seg := m.nf * m.esz()
	limit := min(MaxStride, memlayout.PageSize/m.activeCount())
	m.stride = m.res.RNG.IntN(limit + 1)
	if m.res.ForceAlignment {
		m.stride -= m.stride % m.esz()
	}
	if max(m.stride, seg)*m.activeCount() > memlayout.PageSize {
		return diag.Configf("%s: %d segments of %d bytes do not fit in a page", m.desc, m.activeCount(), seg)
	}
	if slot := m.desc.Slot("rs2"); slot != nil {
		slot.Operand = slot.Operand.WithValues([]uint64{uint64(m.stride)})
	}
	return nil
}

func (m *stridedMode) PlanMemory(p *memlayout.Planner) error {
	seg := m.nf * m.esz()
	return m.place(p, max(m.stride, seg)*m.activeCount())
}

func (m *stridedMode) PreSetup() ([]string, error) {
	lines, err := m.baseSetup(0)
	if err != nil {
		return nil, err
	}
	rs2, err := m.reg("rs2")
	if err != nil {
		return nil, err
	}
	return append(lines, fmt.Sprintf("li %s, %d", rs2, m.stride)), nil
}

// indexedMode takes byte offsets from the index vector. Its data operand
// uses SEW and LMUL; the memory width is the index width.
type indexedMode struct {
	*base
	indexEEW  int
	indexEMUL vtype.LMUL
	offsets   []uint64
}

// Configure sizes the data group at SEW/LMUL and validates the index EMUL.
func (m *indexedMode) Configure(ctx *vtype.Context) error {
	m.ctx = ctx
	m.indexEEW = m.mem.EEW
	if err := m.fit(ctx, ctx.SEW); err != nil {
		return err
	}
	emul, err := ctx.EMUL(m.indexEEW)
	if err != nil {
		return diag.Wrap(diag.CategoryConfig, err, "%s: index", m.desc)
	}
	m.indexEMUL = emul
	m.eew, m.emul = ctx.SEW, ctx.LMUL
	return nil
}

// IndexEEW returns the index element width.
func (m *indexedMode) IndexEEW() int {
	return m.indexEEW
}

// DrawParams synthesizes the index vector. Values are bounded so that the
// biased base plus any offset stays in one page; with alignment forced they
// are multiples of the element size. Stores get disjoint offsets.
func (m *indexedMode) DrawParams(sel *operand.Selector) error {
	m.sel = sel
	g, ok := sel.Group("vs2")
	if !ok {
		return diag.Internalf("%s: index group was not selected", m.desc)
	}
	bound := uint64(MaxIndex)
	if m.indexEEW == 8 {
		bound = 0xFF
	}

	n := g.ElementCount(m.res.VLEN)
	var vals []uint64
	if m.store() {
		var err error
		if vals, err = m.disjointOffsets(n, min(n, m.activeCount()), bound); err != nil {
			return err
		}
	} else {
		vals = make([]uint64, n)
		for i := range vals {
			v := m.res.RNG.Bits(m.indexEEW) & bound
			if m.res.ForceAlignment {
				v -= v % uint64(m.esz())
			}
			vals[i] = v
		}
	}
	m.desc.Slot("vs2").Operand = m.desc.Slot("vs2").Operand.WithValues(vals)
	m.offsets = vals[:min(len(vals), m.activeCount())]
	return nil
}

// disjointOffsets draws offsets that are multiples of the nf*esz bytes one
// element writes, distinct among the first active elements, so that the
// memory an unordered store leaves does not depend on element order.
func (m *indexedMode) disjointOffsets(n, active int, bound uint64) ([]uint64, error) {
	w := m.nf * m.esz()
	slots := int(bound+1) / w
	if active > slots {
		return nil, diag.Configf("%s: %d active elements do not fit %d disjoint %d-byte index slots",
			m.desc, active, slots, w)
	}

	perm := make([]int, slots)
	for i := range perm {
		perm[i] = i
	}
	vals := make([]uint64, n)
	for i := range vals {
		if i >= active {
			vals[i] = uint64(m.res.RNG.IntN(slots) * w)
			continue
		}
		j := i + m.res.RNG.IntN(slots-i)
		perm[i], perm[j] = perm[j], perm[i]
		vals[i] = uint64(perm[i] * w)
	}
	return vals, nil
}

// Offsets returns the offsets of the active elements.
func (m *indexedMode) Offsets() []uint64 {
	return m.offsets
}

// IndexedFootprint is max(offsets)+size - (min(offsets)-esz), where size is
// the bytes one element touches.
func IndexedFootprint(offsets []uint64, esz, size int) int {
	if len(offsets) == 0 {
		return size
	}
	lo, hi := slices.Min(offsets), slices.Max(offsets)
	return int(hi) + size - (int(lo) - esz)
}

// PlanMemory places the footprint on a fresh page so that the base register
// can sit IndexBias bytes into it.
func (m *indexedMode) PlanMemory(p *memlayout.Planner) error {
	size := m.nf * m.esz()
	m.footprint = IndexedFootprint(m.offsets, m.esz(), size)

	lo := IndexBias - m.esz()
	if len(m.offsets) > 0 {
		lo += int(slices.Min(m.offsets))
	}
	if lo < 0 || lo+m.footprint > memlayout.PageSize {
		return diag.Configf("%s: indexed footprint [%d, %d) leaves the page", m.desc, lo, lo+m.footprint)
	}

	var data []byte
	if m.store() {
		data = make([]byte, m.footprint)
	} else {
		data = randomBytes(m.res.RNG, m.footprint)
	}
	loc, err := p.PlaceAt(data, m.esz(), lo)
	if err != nil {
		return diag.Wrap(diag.CategoryConfig, err, "%s: indexed footprint", m.desc)
	}
	m.loc = loc
	m.loc.Offset, m.loc.Addr = 0, loc.Addr-uint64(lo)
	m.placed = true
	return nil
}

// BaseAddress returns the address rs1 holds: the page start plus IndexBias.
func (m *indexedMode) BaseAddress() uint64 {
	return m.loc.Addr + IndexBias
}

func (m *indexedMode) PreSetup() ([]string, error) {
	return m.baseSetup(IndexBias)
}

// wholeMode moves whole registers regardless of vl.
type wholeMode struct {
	*base
}

func (m *wholeMode) Configure(ctx *vtype.Context) error {
	m.ctx = ctx
	m.eew = m.mem.EEW
	m.emul = operandLMUL(m.mem.Regs)
	return nil
}

func (m *wholeMode) PlanMemory(p *memlayout.Planner) error {
	return m.place(p, m.mem.Regs*m.res.VLEN/8)
}

func (m *wholeMode) PreSetup() ([]string, error) {
	return m.baseSetup(0)
}

// maskMode accesses ceil(vl/8) bytes of a mask register.
type maskMode struct {
	*base
}

func (m *maskMode) Configure(ctx *vtype.Context) error {
	m.ctx = ctx
	m.eew, m.emul = 8, vtype.LMUL1
	return nil
}

// EVL is the number of bytes the access transfers.
func (m *maskMode) EVL() int {
	return (m.ctx.EffectiveVL() + 7) / 8
}

func (m *maskMode) PlanMemory(p *memlayout.Planner) error {
	return m.place(p, max(1, m.EVL()))
}

func (m *maskMode) PreSetup() ([]string, error) {
	return m.baseSetup(0)
}

func operandLMUL(regs int) vtype.LMUL {
	l := vtype.LMUL1
	for l.Registers() < regs && l < vtype.LMUL8 {
		l++
	}
	return l
}

var (
	_ MemoryPlanner = (*unitMode)(nil)
	_ MemoryPlanner = (*stridedMode)(nil)
	_ MemoryPlanner = (*indexedMode)(nil)
	_ MemoryPlanner = (*wholeMode)(nil)
	_ MemoryPlanner = (*maskMode)(nil)
	_ PreSetup      = (*indexedMode)(nil)
	_ PostSetup     = (*unitMode)(nil)
	_ Mode          = (*stridedMode)(nil)
)
