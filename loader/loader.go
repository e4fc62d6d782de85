// Package loader reads and writes the files that connect the phases of a
// run: instruction request lists, generation state, simulator reports and
// the final test program.
package loader

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/sarchlab/vsynth/diag"
	"github.com/sarchlab/vsynth/gen"
	"github.com/sarchlab/vsynth/verify"
)

// Encoding is a file encoding chosen by extension.
type Encoding int

// Encodings.
const (
	EncodingJSON Encoding = iota
	EncodingYAML
	// EncodingText is the line-oriented report tuple format.
	EncodingText
)

// EncodingOf picks the encoding from the file extension. Unknown
// extensions are JSON.
func EncodingOf(path string) Encoding {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return EncodingYAML
	case ".txt", ".log", ".report":
		return EncodingText
	}
	return EncodingJSON
}

func decode(path string, data []byte, v any) error {
	var err error
	switch EncodingOf(path) {
	case EncodingYAML:
		err = yaml.Unmarshal(data, v)
	case EncodingText:
		return fmt.Errorf("%s: text is not supported for this file", path)
	default:
		err = json.Unmarshal(data, v)
	}
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func encode(path string, v any) error {
	var (
		data []byte
		err  error
	)
	if EncodingOf(path) == EncodingYAML {
		data, err = yaml.Marshal(v)
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", path, err)
	}
	return write(path, data)
}

func write(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// LoadRequests reads a JSON or YAML list of instruction requests.
func LoadRequests(path string) ([]gen.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file: %w", err)
	}
	var reqs []gen.Request
	if err := decode(path, data, &reqs); err != nil {
		return nil, err
	}
	for i, r := range reqs {
		if r.Mnemonic == "" {
			return nil, diag.Configf("%s: request %d has no mnemonic", path, i+1)
		}
	}
	return reqs, nil
}

// SaveRequests writes a request list.
func SaveRequests(path string, reqs []gen.Request) error {
	return encode(path, reqs)
}

// LoadState reads the generation state a gen run left for its post run.
func LoadState(path string) (*gen.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	f := &gen.File{}
	if err := decode(path, data, f); err != nil {
		return nil, err
	}
	return f, nil
}

// SaveState writes the generation state.
func SaveState(path string, f *gen.File) error {
	return encode(path, f)
}

// LoadReports reads simulator reports keyed by instruction label. JSON and
// YAML files hold a map of label to report; text files hold one report per
// line as "label | vregs | xregs | flags | mem_addrs | mem_data" with
// trailing fields optional.
func LoadReports(path string) (map[string]verify.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report file: %w", err)
	}
	if EncodingOf(path) == EncodingText {
		return ParseReports(data)
	}
	reports := map[string]verify.Report{}
	if err := decode(path, data, &reports); err != nil {
		return nil, diag.Wrap(diag.CategoryReport, err, "report file %s", path)
	}
	return reports, nil
}

// ParseReports parses the text report format. Blank lines and lines
// starting with '#' are skipped.
func ParseReports(data []byte) (map[string]verify.Report, error) {
	reports := map[string]verify.Report{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) > 6 {
			return nil, diag.Reportf("report line %d has %d fields, at most 6 expected", n, len(parts))
		}
		parts = append(parts, make([]string, 6-len(parts))...)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		label := parts[0]
		if label == "" {
			return nil, diag.Reportf("report line %d has no label", n)
		}
		if _, dup := reports[label]; dup {
			return nil, diag.Reportf("report line %d repeats label %s", n, label)
		}
		reports[label] = verify.Report{
			VRegs:    parts[1],
			XRegs:    parts[2],
			Flags:    parts[3],
			MemAddrs: parts[4],
			MemData:  parts[5],
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read reports: %w", err)
	}
	return reports, nil
}

// SaveReports writes reports in the encoding chosen by extension.
func SaveReports(path string, reports map[string]verify.Report) error {
	if EncodingOf(path) != EncodingText {
		return encode(path, reports)
	}
	labels := make([]string, 0, len(reports))
	for l := range reports {
		labels = append(labels, l)
	}
	slices.Sort(labels)

	var b strings.Builder
	for _, l := range labels {
		r := reports[l]
		fmt.Fprintf(&b, "%s | %s | %s | %s | %s | %s\n", l, r.VRegs, r.XRegs, r.Flags, r.MemAddrs, r.MemData)
	}
	return write(path, []byte(b.String()))
}

// SaveProgram writes program lines as assembler text.
func SaveProgram(path string, lines []string) error {
	return write(path, []byte(gen.Render(lines)))
}
