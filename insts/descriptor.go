package insts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sarchlab/vsynth/diag"
	"github.com/sarchlab/vsynth/fpvalue"
	"github.com/sarchlab/vsynth/vtype"
)

// Config is the per-instance configuration of an instruction under test.
type Config struct {
	Vset   vtype.Kind   `json:"vset" yaml:"vset"`
	SEW    int          `json:"sew" yaml:"sew"`
	LMUL   vtype.LMUL   `json:"lmul" yaml:"lmul"`
	AVL    vtype.VL     `json:"avl" yaml:"avl"`
	TA     bool         `json:"ta" yaml:"ta"`
	MA     bool         `json:"ma" yaml:"ma"`
	Masked bool         `json:"masked" yaml:"masked"`
	VStart vtype.VStart `json:"vstart" yaml:"vstart"`

	// FRM is the rounding mode. With StaticRM scalar shapes carry it in
	// the instruction text; otherwise it is written to frm.
	FRM      fpvalue.RoundingMode  `json:"frm" yaml:"frm"`
	StaticRM bool                  `json:"static_rm" yaml:"static_rm"`
	VXRM     fpvalue.FixedRounding `json:"vxrm" yaml:"vxrm"`
	BF16     bool                  `json:"bf16" yaml:"bf16"`
}

// Allocator is the register-allocation capability an instruction instance
// draws its operand registers from.
type Allocator interface {
	// Randomize draws and reserves a free register of class c whose index
	// satisfies the current alignment, avoiding exclude.
	Randomize(c Class, count int, exclude ...int) (int, error)
	// Reserve claims count registers starting at reg.
	Reserve(c Class, reg, count int) error
	// Realign re-initializes the eligible view of class c for alignment.
	Realign(c Class, alignment int)
	// Owned reports whether reg is already claimed.
	Owned(c Class, reg int) bool
}

// Descriptor is one instruction instance under test.
type Descriptor struct {
	Name   string
	Label  string
	Shape  *Shape
	Slots  []Slot
	Config Config
	Alloc  Allocator
}

// New classifies mnemonic and creates a descriptor with every operand
// unselected.
func New(mnemonic, label string, cfg Config) (*Descriptor, error) {
	shape, err := Classify(mnemonic)
	if err != nil {
		return nil, diag.Wrap(diag.CategoryConfig, err, "%s", label)
	}
	if cfg.Masked && !shape.Maskable {
		return nil, diag.Configf("%s: %s cannot be masked", label, shape.Mnemonic)
	}

	slots := make([]Slot, len(shape.Slots))
	copy(slots, shape.Slots)
	for i := range slots {
		slots[i].Operand = Unselected()
	}

	return &Descriptor{
		Name:   shape.Mnemonic,
		Label:  label,
		Shape:  shape,
		Slots:  slots,
		Config: cfg,
	}, nil
}

// VectorSettings implements vtype.Configurer.
func (d *Descriptor) VectorSettings() vtype.Settings {
	return vtype.Settings{
		Kind:   d.Config.Vset,
		SEW:    d.Config.SEW,
		LMUL:   d.Config.LMUL,
		VL:     d.Config.AVL,
		TA:     d.Config.TA,
		MA:     d.Config.MA,
		VStart: d.Config.VStart,
	}
}

// Slot returns the slot named field, or nil.
func (d *Descriptor) Slot(field string) *Slot {
	for i := range d.Slots {
		if d.Slots[i].Field == field {
			return &d.Slots[i]
		}
	}
	return nil
}

// Dests returns the slots the instruction writes.
func (d *Descriptor) Dests() []*Slot {
	var out []*Slot
	for i := range d.Slots {
		if d.Slots[i].Role.Writes() {
			out = append(out, &d.Slots[i])
		}
	}
	return out
}

// String identifies the instance in messages.
func (d *Descriptor) String() string {
	return fmt.Sprintf("%s (%s)", d.Label, d.Name)
}

// Render produces the instruction line. Every operand must be selected.
func (d *Descriptor) Render() (string, error) {
	ops := make([]string, 0, len(d.Slots)+2)
	for i := range d.Slots {
		s := &d.Slots[i]
		name, ok := s.Operand.Name()
		if !ok {
			return "", diag.Internalf("%s: operand %s is unselected", d, s.Field)
		}
		switch s.Class {
		case ClassAddr:
			ops = append(ops, "("+name+")")
		case ClassImm:
			ops = append(ops, renderImm(s))
		default:
			ops = append(ops, name)
		}
	}

	if d.Shape.UsesV0 {
		ops = append(ops, "v0")
	}
	if d.Config.Masked && d.Shape.Maskable {
		ops = append(ops, "v0.t")
	}
	if d.Shape.StaticRM && d.Config.StaticRM {
		ops = append(ops, d.Config.FRM.String())
	}

	if len(ops) == 0 {
		return d.Name, nil
	}
	return d.Name + " " + strings.Join(ops, ", "), nil
}

func renderImm(s *Slot) string {
	vals := s.Operand.Values()
	if len(vals) == 0 {
		return "0"
	}
	if s.Signed {
		return strconv.FormatInt(SignExtend(vals[0], s.ImmBits), 10)
	}
	return strconv.FormatUint(vals[0]&(1<<uint(s.ImmBits)-1), 10)
}

// SignExtend interprets the low bits of v as a two's-complement number.
func SignExtend(v uint64, bits int) int64 {
	if bits >= 64 {
		return int64(v)
	}
	shift := uint(64 - bits)
	return int64(v<<shift) >> shift
}
