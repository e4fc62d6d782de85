package memlayout

import (
	"fmt"
	"hash/fnv"
	"slices"

	"github.com/go-logr/logr"
	"github.com/sarchlab/akita/v4/mem/mem"

	"github.com/sarchlab/vsynth/diag"
	"github.com/sarchlab/vsynth/operand"
	"github.com/sarchlab/vsynth/resource"
	"github.com/sarchlab/vsynth/vtype"
)

// Form is the vector load used to bring a group into registers.
type Form uint8

// Load forms.
const (
	// FormElement loads each field with vle<eew>.v under a vtype covering
	// the whole group.
	FormElement Form = iota
	// FormStrided loads element-interleaved segment fields with vlse and
	// the segment size as the stride.
	FormStrided
	// FormWhole uses a whole-register load.
	FormWhole
)

// Scratch registers of the emitted load code.
const (
	AddrReg   = "t2"
	StrideReg = "t1"
)

type request struct {
	key    uint64
	group  operand.Group
	values []uint64
	eew    int
	form   Form
	loc    *Location
}

// Planner owns the data pages of one generated file.
type Planner struct {
	res *resource.Resource
	log logr.Logger

	pages   []*Page
	pending []*request
	placed  map[uint64]Location

	finalized bool
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the planner logger.
func WithLogger(log logr.Logger) Option {
	return func(p *Planner) {
		p.log = log
	}
}

// NewPlanner creates an empty planner over the resource's data base.
func NewPlanner(res *resource.Resource, opts ...Option) *Planner {
	p := &Planner{
		res:    res,
		log:    res.Log,
		placed: map[uint64]Location{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func requestKey(g operand.Group, values []uint64, eew int, form Form) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d/%d/%d/%d/%d:", g.Base, g.Span(), eew, form, len(values))
	for _, v := range values {
		fmt.Fprintf(h, "%x,", v)
	}
	return h.Sum64()
}

// Request queues an initializer that loads values (eew-bit elements) into
// group g. Repeating a request that is still queued has no effect; one that
// was already placed reuses its bytes.
func (p *Planner) Request(g operand.Group, values []uint64, eew int, form Form) error {
	if p.finalized {
		return diag.Internalf("request for %s after the layout was finalized", g.Name())
	}
	if !vtype.ValidSEW(eew) {
		return diag.Configf("cannot initialize %s with %d-bit elements", g.Name(), eew)
	}
	key := requestKey(g, values, eew, form)
	if slices.ContainsFunc(p.pending, func(r *request) bool { return r.key == key }) {
		return nil
	}
	p.pending = append(p.pending, &request{key: key, group: g, values: values, eew: eew, form: form})
	return nil
}

// Pending returns the number of queued initializers.
func (p *Planner) Pending() int {
	return len(p.pending)
}

// Place stores raw bytes aligned to align. With fresh set the bytes start
// a new page.
func (p *Planner) Place(data []byte, elemWidth, align int, fresh bool) (Location, error) {
	if p.finalized {
		return Location{}, diag.Internalf("placement of %d bytes after the layout was finalized", len(data))
	}
	if len(data) > PageSize {
		return Location{}, diag.Configf("%d bytes do not fit in one %d-byte page", len(data), PageSize)
	}

	if !fresh {
		for _, pg := range p.pages {
			if off := pg.fit(len(data), align); off >= 0 {
				return p.commit(pg, off, data, elemWidth), nil
			}
		}
	}
	pg := p.newPage()
	return p.commit(pg, 0, data, elemWidth), nil
}

// PlaceAt stores data at a fixed offset of a new page.
func (p *Planner) PlaceAt(data []byte, elemWidth, offset int) (Location, error) {
	if p.finalized {
		return Location{}, diag.Internalf("placement of %d bytes after the layout was finalized", len(data))
	}
	if offset < 0 || offset+len(data) > PageSize {
		return Location{}, diag.Configf("%d bytes at offset %d leave the %d-byte page", len(data), offset, PageSize)
	}
	return p.commit(p.newPage(), offset, data, elemWidth), nil
}

// PlaceValues encodes values as width-byte elements and places them.
func (p *Planner) PlaceValues(values []uint64, width int, fresh bool) (Location, error) {
	return p.Place(Encode(values, width, p.res.BigEndian), width, width, fresh)
}

// Reserve places size zero bytes, for store targets and padding.
func (p *Planner) Reserve(size, align int, fresh bool) (Location, error) {
	return p.Place(make([]byte, size), 1, align, fresh)
}

func (p *Planner) newPage() *Page {
	idx := len(p.pages)
	pg := &Page{
		Index: idx,
		Label: fmt.Sprintf("page_%d", idx),
		Addr:  p.res.DataBase + uint64(idx)*PageSize,
	}
	p.pages = append(p.pages, pg)
	p.log.V(1).Info("new data page", "page", pg.Label, "addr", fmt.Sprintf("0x%x", pg.Addr))
	return pg
}

func (p *Planner) commit(pg *Page, off int, data []byte, elemWidth int) Location {
	pg.insert(ByteRange{Offset: off, Data: data, ElemWidth: elemWidth})
	return Location{Page: pg.Index, Label: pg.Label, Offset: off, Addr: pg.Addr + uint64(off)}
}

// Flush places every queued initializer and returns the code that loads
// them, restoring ctx's ambient configuration afterwards.
func (p *Planner) Flush(ctx *vtype.Context) ([]string, error) {
	var (
		lines []string
		guard *vtype.Guard
	)
	for _, r := range p.pending {
		if err := p.locate(r); err != nil {
			return nil, err
		}
		code, g := p.loadCode(ctx, r)
		if guard == nil {
			guard = g
		}
		lines = append(lines, code...)
	}
	p.pending = nil
	if guard != nil {
		lines = append(lines, guard.Restore(false)...)
	}
	return lines, nil
}

func (p *Planner) locate(r *request) error {
	if loc, ok := p.placed[r.key]; ok {
		r.loc = &loc
		return nil
	}
	width := r.eew / 8
	data := Encode(r.values, width, p.res.BigEndian)
	if r.form == FormStrided {
		data = interleave(data, r.group.NF, width)
	}
	loc, err := p.Place(data, width, 8, false)
	if err != nil {
		return diag.Wrap(diag.CategoryConfig, err, "initializer for %s", r.group.Name())
	}
	p.placed[r.key] = loc
	r.loc = &loc
	return nil
}

// interleave turns field-major element bytes into element-major segments.
func interleave(data []byte, nf, width int) []byte {
	if nf <= 1 {
		return data
	}
	perField := len(data) / nf / width
	out := make([]byte, 0, len(data))
	for e := range perField {
		for f := range nf {
			i := (f*perField + e) * width
			out = append(out, data[i:i+width]...)
		}
	}
	return out
}

// loadCode emits the loads for one placed request. The returned guard,
// when not nil, restores the configuration that was ambient before.
func (p *Planner) loadCode(ctx *vtype.Context, r *request) ([]string, *vtype.Guard) {
	g := r.group
	vlenB := p.res.VLEN / 8
	var lines []string

	form := r.form
	if form == FormWhole && !isPow2(g.Span()) {
		form = FormElement
	}

	switch form {
	case FormWhole:
		lines = append(lines,
			fmt.Sprintf("la %s, %s", AddrReg, r.loc.Symbol()),
			fmt.Sprintf("%s v%d, (%s)", WholeLoad(g.Span(), r.eew, p.res), g.Base, AddrReg))
		return lines, nil

	case FormStrided:
		guard, code := ctx.Push(r.eew, fieldLMUL(g), vtype.VLMax)
		lines = append(lines, code...)
		lines = append(lines, fmt.Sprintf("li %s, %d", StrideReg, g.NF*r.eew/8))
		for f := range g.NF {
			loc := *r.loc
			loc.Offset += f * r.eew / 8
			lines = append(lines,
				fmt.Sprintf("la %s, %s", AddrReg, loc.Symbol()),
				fmt.Sprintf("vlse%d.v v%d, (%s), %s", r.eew, g.FieldBase(f), AddrReg, StrideReg))
		}
		return lines, guard
	}

	guard, code := ctx.Push(r.eew, fieldLMUL(g), vtype.VLMax)
	lines = append(lines, code...)
	for f := range max(1, g.NF) {
		loc := *r.loc
		loc.Offset += f * g.Regs * vlenB
		lines = append(lines,
			fmt.Sprintf("la %s, %s", AddrReg, loc.Symbol()),
			fmt.Sprintf("vle%d.v v%d, (%s)", r.eew, g.FieldBase(f), AddrReg))
	}
	return lines, guard
}

// fieldLMUL is the integral multiplier covering one field of g.
func fieldLMUL(g operand.Group) vtype.LMUL {
	l := vtype.LMUL1
	for l.Registers() < g.Regs {
		l++
	}
	return l
}

func isPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// WholeLoad returns the whole-register load mnemonic for n registers of
// eew-bit elements. Versions before 1.0 only know the untyped form.
func WholeLoad(n, eew int, res *resource.Resource) string {
	if !res.AtLeast("1.0.0") {
		return fmt.Sprintf("vl%dr.v", n)
	}
	return fmt.Sprintf("vl%dre%d.v", n, eew)
}

// Pages returns the allocated pages.
func (p *Planner) Pages() []*Page {
	return p.pages
}

// Directives renders the data section for every page.
func (p *Planner) Directives() []string {
	if len(p.pages) == 0 {
		return nil
	}
	lines := []string{".section .data"}
	for _, pg := range p.pages {
		lines = append(lines, pg.Directives(p.res.BigEndian)...)
	}
	return lines
}

// Finalize closes the layout against further placement and returns its
// directives. Queued requests that were never flushed are an error.
func (p *Planner) Finalize() ([]string, error) {
	if len(p.pending) > 0 {
		return nil, diag.Internalf("%d initializers were requested but never flushed", len(p.pending))
	}
	p.finalized = true
	return p.Directives(), nil
}

// Resolve maps an absolute address inside a page to a label expression.
func (p *Planner) Resolve(addr uint64) (string, error) {
	return PageResolver(p.res.DataBase, len(p.pages))(addr)
}

// PageResolver resolves addresses against count pages laid out from base,
// for callers that only kept the page count of a finished layout.
func PageResolver(base uint64, count int) func(uint64) (string, error) {
	return func(addr uint64) (string, error) {
		if addr >= base && addr < base+uint64(count)*PageSize {
			idx := int((addr - base) / PageSize)
			off := int((addr - base) % PageSize)
			return Location{Label: fmt.Sprintf("page_%d", idx), Offset: off}.Symbol(), nil
		}
		return "", diag.Reportf("address 0x%x is outside every data page", addr)
	}
}

// Image returns a storage holding the predicted contents of every page,
// addressed relative to the data base.
func (p *Planner) Image() (*mem.Storage, error) {
	size := uint64(max(1, len(p.pages))) * PageSize
	s := mem.NewStorage(size)
	for _, pg := range p.pages {
		base := pg.Addr - p.res.DataBase
		for _, r := range pg.Ranges {
			if err := s.Write(base+uint64(r.Offset), r.Data); err != nil {
				return nil, fmt.Errorf("failed to write %s+0x%x: %w", pg.Label, r.Offset, err)
			}
		}
	}
	return s, nil
}
