package insts

import (
	"strings"
)

// LineKind classifies a line of assembly text.
type LineKind uint8

// Line kinds.
const (
	LineEmpty LineKind = iota
	LineLabel
	LineDirective
	LineInstruction
)

// Line is one decoded assembly line. A label may share its line with a
// directive or an instruction.
type Line struct {
	Kind     LineKind
	Label    string
	Mnemonic string // instruction mnemonic or directive name (".dword")
	Args     []string
	Comment  string
	Raw      string
}

// Decoder splits emitted assembly into labels, directives and
// instructions. It does not validate operands.
type Decoder struct{}

// NewDecoder creates a new Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// DecodeLine decodes a single line of assembly.
func (d *Decoder) DecodeLine(raw string) Line {
	line := Line{Raw: raw}

	text := raw
	if i := strings.IndexByte(text, '#'); i >= 0 {
		line.Comment = strings.TrimSpace(text[i+1:])
		text = text[:i]
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return line
	}

	if i := strings.IndexByte(text, ':'); i > 0 && isSymbol(text[:i]) {
		line.Label = text[:i]
		line.Kind = LineLabel
		text = strings.TrimSpace(text[i+1:])
		if text == "" {
			return line
		}
	}

	head, rest, _ := strings.Cut(text, " ")
	if j := strings.IndexByte(head, '\t'); j >= 0 {
		rest = head[j+1:] + " " + rest
		head = head[:j]
	}
	line.Mnemonic = strings.ToLower(head)
	line.Args = SplitArgs(rest)
	if strings.HasPrefix(head, ".") {
		line.Kind = LineDirective
	} else {
		line.Kind = LineInstruction
	}
	return line
}

// Decode decodes a whole program.
func (d *Decoder) Decode(text string) []Line {
	raws := strings.Split(text, "\n")
	lines := make([]Line, 0, len(raws))
	for _, r := range raws {
		lines = append(lines, d.DecodeLine(r))
	}
	return lines
}

// SplitArgs splits an operand list on commas outside parentheses.
func SplitArgs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var args []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(args, strings.TrimSpace(s[start:]))
}

func isSymbol(s string) bool {
	for i, c := range s {
		switch {
		case c == '_' || c == '.' || c == '$':
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return s != ""
}
