package emu

import (
	"fmt"
	"maps"
	"strings"

	"github.com/sarchlab/vsynth/insts"
	"github.com/sarchlab/vsynth/verify"
)

type watch struct {
	label string
	plan  *verify.Plan
	addr  uint64
	size  int
}

// Watch asks for a report of the destinations of plan right after the
// instruction at label executes. A positive size names the memory range
// the instruction stores to.
func (e *Emulator) Watch(label string, plan *verify.Plan, addr uint64, size int) error {
	if e.program == nil {
		return fmt.Errorf("no program loaded")
	}
	idx, ok := e.program.Labels[label]
	if !ok {
		return fmt.Errorf("undefined label %q", label)
	}
	e.watches[idx] = &watch{label: label, plan: plan, addr: addr, size: size}
	return nil
}

// Reports returns the reports of the watched instructions that executed,
// by label.
func (e *Emulator) Reports() map[string]verify.Report {
	return maps.Clone(e.reports)
}

func (e *Emulator) record(w *watch) {
	var vregs, xregs []string
	for _, d := range w.plan.Dests {
		switch d.Kind {
		case verify.DestVector, verify.DestMask:
			n := max(1, d.Regs) * max(1, d.NF)
			if d.Kind == verify.DestMask {
				n = 1
			}
			for r := d.Base; r < d.Base+n && r < 32; r++ {
				vregs = append(vregs, fmt.Sprintf("v%d:0x%s", r, hexHighFirst(e.vpu.Register(r))))
			}
		case verify.DestXReg:
			xregs = append(xregs, fmt.Sprintf("%s:0x%x", insts.XNames[d.Reg], e.regFile.ReadReg(d.Reg)))
		case verify.DestFReg:
			xregs = append(xregs, fmt.Sprintf("%s:0x%x", insts.FNames[d.Reg], e.regFile.F[d.Reg]))
		}
	}

	r := verify.Report{
		VRegs: strings.Join(vregs, ";"),
		XRegs: strings.Join(xregs, ";"),
	}
	if w.size > 0 && w.plan.Store {
		var addrs, data []string
		for off := 0; off < w.size; off += 8 {
			n := min(8, w.size-off)
			b, err := e.memory.Read(w.addr+uint64(off), uint64(n))
			if err != nil {
				e.log.Error(err, "store region is outside memory", "label", w.label)
				break
			}
			addrs = append(addrs, fmt.Sprintf("0x%x", w.addr+uint64(off)))
			data = append(data, "0x"+hexHighFirst(b))
		}
		r.MemAddrs = strings.Join(addrs, ";")
		r.MemData = strings.Join(data, ";")
	}

	e.reports[w.label] = r
	e.log.V(1).Info("recorded report", "label", w.label,
		"vregs", len(vregs), "scalars", len(xregs), "memory", r.MemAddrs != "")
}

// hexHighFirst renders b as hex with the highest-addressed byte first.
func hexHighFirst(b []byte) string {
	var sb strings.Builder
	for i := len(b) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "%02x", b[i])
	}
	return sb.String()
}
