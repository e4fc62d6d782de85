package vtype

import (
	"fmt"

	"github.com/sarchlab/vsynth/diag"
)

// Default scratch registers used by emitted vset sequences.
const (
	DefaultRD       = "t0"
	DefaultAVLReg   = "t1"
	DefaultVtypeReg = "t2"
)

// Settings is the vector part of an instruction configuration.
type Settings struct {
	Kind   Kind
	SEW    int
	LMUL   LMUL
	VL     VL
	TA     bool
	MA     bool
	VStart VStart
}

// Configurer is anything that carries vector settings, typically an
// instruction descriptor.
type Configurer interface {
	VectorSettings() Settings
}

// Snapshot is a saved vtype/vl configuration.
type Snapshot struct {
	SEW  int
	LMUL LMUL
	VL   VL
	TA   bool
	MA   bool
}

// Context is the ambient vector configuration of one instruction instance
// together with what the emitted code has most recently programmed.
type Context struct {
	Kind     Kind
	SEW      int
	LMUL     LMUL
	VL       VL
	VLEN     int
	RegCount int
	TA       bool
	MA       bool
	VStart   VStart

	// Scratch registers for vset sequences.
	RD       string
	AVLReg   string
	VtypeReg string

	// current is the configuration the emitted code last established; nil
	// until the first vset is emitted. currentKind is the form that did it.
	current     *Snapshot
	currentKind Kind
}

// Extract builds a Context from the settings carried by c.
func Extract(c Configurer, vlen int) (*Context, error) {
	s := c.VectorSettings()
	if s.Kind == KindNone {
		return nil, diag.Configf("no vset instruction kind configured")
	}
	if !ValidSEW(s.SEW) {
		return nil, diag.Configf("SEW %d is not supported", s.SEW)
	}
	if !s.LMUL.Valid() {
		return nil, diag.Configf("LMUL %d is not supported", int(s.LMUL))
	}
	if vlen < 64 || vlen&(vlen-1) != 0 {
		return nil, diag.Configf("VLEN %d must be a power of two >= 64", vlen)
	}

	ctx := &Context{
		Kind:     s.Kind,
		SEW:      s.SEW,
		LMUL:     s.LMUL,
		VL:       s.VL,
		VLEN:     vlen,
		RegCount: 32,
		TA:       s.TA,
		MA:       s.MA,
		VStart:   s.VStart,
		RD:       DefaultRD,
		AVLReg:   DefaultAVLReg,
		VtypeReg: DefaultVtypeReg,
	}
	if ctx.VLMAX() == 0 {
		return nil, diag.Configf("SEW %d with LMUL %s holds no element at VLEN %d",
			s.SEW, s.LMUL, vlen)
	}
	return ctx, nil
}

// VLMAX returns VLEN*LMUL/SEW for the ambient configuration.
func (c *Context) VLMAX() int {
	return VLMAXFor(c.VLEN, c.SEW, c.LMUL)
}

// VLMAXFor returns VLEN*lmul/sew.
func VLMAXFor(vlen, sew int, lmul LMUL) int {
	return vlen * lmul.Num() / (sew * lmul.Den())
}

// ElementsPerRegister returns VLEN/eew.
func (c *Context) ElementsPerRegister(eew int) int {
	return c.VLEN / eew
}

// EffectiveVL returns the vl the hardware will hold after the ambient vset.
// Requested lengths beyond VLMAX set vl to VLMAX, and the immediate form
// clamps the AVL to 31 first.
func (c *Context) EffectiveVL() int {
	vlmax := c.VLMAX()
	switch c.VL {
	case VLMax:
		if c.Kind == KindVsetivli {
			return min(vlmax, 31)
		}
		return vlmax
	case VLRandom:
		return vlmax
	}
	avl := int(c.VL)
	if c.Kind == KindVsetivli {
		avl = min(avl, 31)
	}
	return min(avl, vlmax)
}

// EMUL returns the multiplier for an operand of width eew.
func (c *Context) EMUL(eew int) (LMUL, error) {
	return EMUL(eew, c.SEW, c.LMUL)
}

// Snapshot saves the ambient configuration.
func (c *Context) Snapshot() Snapshot {
	return Snapshot{SEW: c.SEW, LMUL: c.LMUL, VL: c.VL, TA: c.TA, MA: c.MA}
}

// Restore makes snap the ambient configuration and returns the code that
// programs it. With regenerate false nothing is emitted when the hardware
// already holds snap.
func (c *Context) Restore(snap Snapshot, regenerate bool) []string {
	c.SEW, c.LMUL, c.VL, c.TA, c.MA = snap.SEW, snap.LMUL, snap.VL, snap.TA, snap.MA
	if !regenerate && c.holds(snap, c.Kind) {
		return nil
	}
	return c.program(c.Kind, snap)
}

// Establish emits the ambient configuration if the hardware does not hold
// it yet.
func (c *Context) Establish() []string {
	return c.Restore(c.Snapshot(), false)
}

// Forget marks the hardware configuration unknown, for example after code
// the context did not emit.
func (c *Context) Forget() {
	c.current = nil
}

// Guard restores the ambient configuration saved by Push.
type Guard struct {
	ctx      *Context
	saved    Snapshot
	restored bool
}

// Push temporarily programs (sew, lmul, vl) with a tail/mask agnostic
// policy, returning the guard that undoes it and the code that switches.
// Nothing is emitted when the hardware already holds that configuration.
func (c *Context) Push(sew int, lmul LMUL, vl VL) (*Guard, []string) {
	g := &Guard{ctx: c, saved: c.Snapshot()}
	target := Snapshot{SEW: sew, LMUL: lmul, VL: vl, TA: true, MA: true}
	kind := c.Kind
	if kind == KindVsetivli && c.requested(target) > 31 {
		kind = KindVsetvli
	}
	if c.holds(target, kind) {
		return g, nil
	}
	return g, c.program(kind, target)
}

// requested is the vl s asks for before the immediate form clamps it.
func (c *Context) requested(s Snapshot) int {
	if s.VL == VLMax || s.VL == VLRandom {
		return VLMAXFor(c.VLEN, s.SEW, s.LMUL)
	}
	return int(s.VL)
}

// holds reports whether programming s with kind would leave the hardware
// as it is. The immediate form differs from the others only when it clamps.
func (c *Context) holds(s Snapshot, kind Kind) bool {
	if c.current == nil || *c.current != s {
		return false
	}
	clamps := func(k Kind) bool { return k == KindVsetivli && c.requested(s) > 31 }
	return clamps(c.currentKind) == clamps(kind)
}

// Restore reinstates the configuration saved by Push. Only the first call
// has an effect.
func (g *Guard) Restore(regenerate bool) []string {
	if g.restored {
		return nil
	}
	g.restored = true
	return g.ctx.Restore(g.saved, regenerate)
}

func (c *Context) program(kind Kind, s Snapshot) []string {
	lines := EmitVset(kind, s, c.RD, c.AVLReg, c.VtypeReg)
	snap := s
	c.current = &snap
	c.currentKind = kind
	return lines
}

// EmitVset renders the vset sequence for s. rd receives the new vl and
// must not be x0 when s.VL is VLMax. avlReg and vtypeReg are scratch.
func EmitVset(kind Kind, s Snapshot, rd, avlReg, vtypeReg string) []string {
	policy := fmt.Sprintf("e%d, %s, %s, %s", s.SEW, s.LMUL, tailName(s.TA), maskName(s.MA))

	switch kind {
	case KindVsetivli:
		avl := 31
		if s.VL != VLMax {
			avl = min(max(int(s.VL), 0), 31)
		}
		return []string{fmt.Sprintf("vsetivli %s, %d, %s", rd, avl, policy)}

	case KindVsetvl:
		vt, _ := EncodeVtype(s.MA, s.TA, s.LMUL, s.SEW)
		lines := []string{fmt.Sprintf("li %s, 0x%x", vtypeReg, vt)}
		if s.VL == VLMax {
			return append(lines, fmt.Sprintf("vsetvl %s, x0, %s", rd, vtypeReg))
		}
		return append(lines,
			fmt.Sprintf("li %s, %d", avlReg, max(int(s.VL), 0)),
			fmt.Sprintf("vsetvl %s, %s, %s", rd, avlReg, vtypeReg))

	default:
		if s.VL == VLMax {
			return []string{fmt.Sprintf("vsetvli %s, x0, %s", rd, policy)}
		}
		return []string{
			fmt.Sprintf("li %s, %d", avlReg, max(int(s.VL), 0)),
			fmt.Sprintf("vsetvli %s, %s, %s", rd, avlReg, policy),
		}
	}
}

func tailName(agnostic bool) string {
	if agnostic {
		return "ta"
	}
	return "tu"
}

func maskName(agnostic bool) string {
	if agnostic {
		return "ma"
	}
	return "mu"
}
