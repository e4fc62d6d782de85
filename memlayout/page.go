// Package memlayout places operand initializers and addressing footprints
// in 4 KiB data pages and emits the data directives and vector loads that
// bring them into registers.
package memlayout

import (
	"fmt"
	"slices"
	"strings"
)

// PageSize is the size of every data page.
const PageSize = 4096

// ByteRange is a write-once run of initialized bytes inside a page.
type ByteRange struct {
	Offset int
	Data   []byte
	// ElemWidth is the element size in bytes the range was requested with.
	ElemWidth int
}

// End returns the offset just past the range.
func (r ByteRange) End() int {
	return r.Offset + len(r.Data)
}

// Page is one 4 KiB data page.
type Page struct {
	Index  int
	Label  string
	Addr   uint64
	Ranges []ByteRange
}

// Location is where a placed range lives.
type Location struct {
	Page   int
	Label  string
	Offset int
	Addr   uint64
}

// Symbol renders the location as an assembler expression.
func (l Location) Symbol() string {
	if l.Offset == 0 {
		return l.Label
	}
	return fmt.Sprintf("%s+0x%x", l.Label, l.Offset)
}

// fit returns the first offset aligned to align where size bytes fit
// between existing ranges, or -1.
func (p *Page) fit(size, align int) int {
	align = max(1, align)
	off := 0
	for _, r := range p.Ranges {
		if off+size <= r.Offset {
			return off
		}
		off = alignUp(max(off, r.End()), align)
	}
	if off+size <= PageSize {
		return off
	}
	return -1
}

func (p *Page) insert(r ByteRange) {
	i, _ := slices.BinarySearchFunc(p.Ranges, r.Offset, func(e ByteRange, off int) int {
		return e.Offset - off
	})
	p.Ranges = slices.Insert(p.Ranges, i, r)
}

// chunk is a maximal run of adjacent ranges.
type chunk struct {
	offset int
	data   []byte
}

// chunks merges adjacent ranges so each contiguous run yields one
// directive.
func (p *Page) chunks() []chunk {
	var out []chunk
	for _, r := range p.Ranges {
		if n := len(out); n > 0 && out[n-1].offset+len(out[n-1].data) == r.Offset {
			out[n-1].data = append(out[n-1].data, r.Data...)
			continue
		}
		out = append(out, chunk{offset: r.Offset, data: slices.Clone(r.Data)})
	}
	return out
}

// Directives renders the page: alignment, label, mapping directive, one
// data directive per chunk and gap padding up to the page end.
func (p *Page) Directives(bigEndian bool) []string {
	lines := []string{
		fmt.Sprintf(".balign %d", PageSize),
		p.Label + ":",
		fmt.Sprintf("#page_map(name=%s, linear=0x%x, physical=0x%x, size=0x%x)",
			p.Label, p.Addr, p.Addr, PageSize),
	}

	pos := 0
	for _, c := range p.chunks() {
		if c.offset > pos {
			lines = append(lines, fmt.Sprintf(".skip %d", c.offset-pos))
		}
		lines = append(lines, dataDirective(c.offset, c.data, bigEndian))
		pos = c.offset + len(c.data)
	}
	if pos < PageSize {
		lines = append(lines, fmt.Sprintf(".skip %d", PageSize-pos))
	}
	return lines
}

var granules = []struct {
	size int
	name string
}{{8, ".dword"}, {4, ".word"}, {2, ".half"}, {1, ".byte"}}

// Granularity returns the largest of 8, 4, 2 and 1 bytes dividing both the
// chunk offset and length.
func Granularity(offset, length int) int {
	for _, g := range granules {
		if offset%g.size == 0 && length%g.size == 0 {
			return g.size
		}
	}
	return 1
}

func dataDirective(offset int, data []byte, bigEndian bool) string {
	g := Granularity(offset, len(data))
	name := ".byte"
	for _, gr := range granules {
		if gr.size == g {
			name = gr.name
		}
	}

	words := make([]string, 0, len(data)/g)
	for i := 0; i < len(data); i += g {
		words = append(words, fmt.Sprintf("0x%0*x", 2*g, decode(data[i:i+g], bigEndian)))
	}
	return name + " " + strings.Join(words, ", ")
}

// Encode lays values out as width-byte elements in target byte order.
func Encode(values []uint64, width int, bigEndian bool) []byte {
	out := make([]byte, 0, len(values)*width)
	for _, v := range values {
		for i := range width {
			shift := 8 * i
			if bigEndian {
				shift = 8 * (width - 1 - i)
			}
			out = append(out, byte(v>>uint(shift)))
		}
	}
	return out
}

// Decode reads width-byte elements in target byte order.
func Decode(data []byte, width int, bigEndian bool) []uint64 {
	out := make([]uint64, 0, len(data)/width)
	for i := 0; i+width <= len(data); i += width {
		out = append(out, decode(data[i:i+width], bigEndian))
	}
	return out
}

func decode(b []byte, bigEndian bool) uint64 {
	var v uint64
	for i := range b {
		shift := 8 * i
		if bigEndian {
			shift = 8 * (len(b) - 1 - i)
		}
		v |= uint64(b[i]) << uint(shift)
	}
	return v
}

func alignUp(v, align int) int {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}
