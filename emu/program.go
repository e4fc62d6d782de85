package emu

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sarchlab/vsynth/insts"
)

// Instruction is one line of program text.
type Instruction struct {
	Op   string
	Args []string
	// Line is the 1-based source line.
	Line int
}

func (i Instruction) String() string {
	if len(i.Args) == 0 {
		return i.Op
	}
	return i.Op + " " + strings.Join(i.Args, ", ")
}

// Program is an assembled test program.
type Program struct {
	Text []Instruction
	// Labels maps text labels to instruction indices.
	Labels map[string]int
	// Symbols maps data labels to addresses.
	Symbols map[string]uint64
	Memory  *Memory
}

var dataSizes = map[string]int{".dword": 8, ".quad": 8, ".word": 4, ".half": 2, ".short": 2, ".byte": 1}

// Assemble parses program text. The data section is laid out from base.
func Assemble(text string, base uint64) (*Program, error) {
	p := &Program{Labels: map[string]int{}, Symbols: map[string]uint64{}}
	dec := insts.NewDecoder()

	var (
		data   []byte
		inData bool
	)
	for n, line := range dec.Decode(text) {
		where := func(err error) error { return fmt.Errorf("line %d: %w", n+1, err) }

		if line.Label != "" {
			if inData {
				p.Symbols[line.Label] = base + uint64(len(data))
			} else {
				p.Labels[line.Label] = len(p.Text)
			}
		}

		switch line.Kind {
		case insts.LineDirective:
			switch line.Mnemonic {
			case ".section", ".text", ".data":
				sec := line.Mnemonic
				if len(line.Args) > 0 {
					sec = line.Args[0]
				}
				inData = sec == ".data"
			case ".globl", ".global", ".option":
			case ".balign", ".align":
				a, err := parseUint(arg(line.Args, 0))
				if err != nil {
					return nil, where(err)
				}
				if line.Mnemonic == ".align" {
					a = 1 << a
				}
				for a > 1 && uint64(len(data))%a != 0 {
					data = append(data, 0)
				}
			case ".skip", ".zero", ".space":
				n, err := parseUint(arg(line.Args, 0))
				if err != nil {
					return nil, where(err)
				}
				data = append(data, make([]byte, n)...)
			default:
				size, ok := dataSizes[line.Mnemonic]
				if !ok {
					return nil, where(fmt.Errorf("unsupported directive %s", line.Mnemonic))
				}
				for _, a := range line.Args {
					v, err := parseImm(a)
					if err != nil {
						return nil, where(err)
					}
					for i := range size {
						data = append(data, byte(uint64(v)>>(8*uint(i))))
					}
				}
			}
		case insts.LineInstruction:
			if inData {
				return nil, where(fmt.Errorf("instruction %q in the data section", line.Mnemonic))
			}
			p.Text = append(p.Text, Instruction{Op: line.Mnemonic, Args: line.Args, Line: n + 1})
		}
	}

	p.Memory = NewMemory(base, uint64(len(data)))
	if len(data) > 0 {
		if err := p.Memory.Write(base, data); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 0, 64)
}

// parseImm accepts signed and unsigned decimal or 0x-prefixed numbers.
func parseImm(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return v, nil
	}
	u, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad immediate %q", s)
	}
	return int64(u), nil
}

// symbol resolves "label" or "label+0x40" against the data symbols.
func (p *Program) symbol(s string) (uint64, error) {
	name, off := s, int64(0)
	if i := strings.IndexAny(s, "+-"); i > 0 {
		v, err := parseImm(s[i:])
		if err != nil {
			return 0, err
		}
		name, off = s[:i], v
	}
	addr, ok := p.Symbols[strings.TrimSpace(name)]
	if !ok {
		return 0, fmt.Errorf("undefined symbol %q", name)
	}
	return uint64(int64(addr) + off), nil
}

// target resolves a branch label.
func (p *Program) target(label string) (int, error) {
	idx, ok := p.Labels[label]
	if !ok {
		return 0, fmt.Errorf("undefined label %q", label)
	}
	return idx, nil
}
