// Package fpbank loads curated floating-point operand banks from tabular
// files. A bank has the columns mnemonic, width, format and value; a "*"
// mnemonic matches every instruction.
package fpbank

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/rocketlaunchr/dataframe-go/imports"
	"github.com/xitongsys/parquet-go-source/local"

	"github.com/sarchlab/vsynth/resource"
)

// Errors returned by the loaders.
var (
	ErrEmptyBank     = errors.New("empty floating-point bank")
	ErrMissingColumn = errors.New("floating-point bank is missing a column")
)

// Wildcard is the mnemonic that matches every instruction.
const Wildcard = "*"

// Columns every bank file must carry.
var Columns = []string{"mnemonic", "width", "format", "value"}

type entryKey struct {
	mnemonic string
	width    int
	format   string
}

// Bank is a curated value bank indexed by (mnemonic, byte width, format).
type Bank struct {
	entries map[entryKey][]uint64
	rows    int
}

// New creates an empty bank.
func New() *Bank {
	return &Bank{entries: make(map[entryKey][]uint64)}
}

// Add inserts one value. width is in bytes.
func (b *Bank) Add(mnemonic string, width int, format string, value uint64) {
	k := entryKey{strings.ToLower(mnemonic), width, strings.ToLower(format)}
	b.entries[k] = append(b.entries[k], value)
	b.rows++
}

// Len returns the number of values held.
func (b *Bank) Len() int {
	return b.rows
}

// Lookup draws count values, preferring rows for the exact mnemonic over
// wildcard rows.
func (b *Bank) Lookup(
	rng *resource.RNG,
	mnemonic string,
	width int,
	key resource.BankKey,
	count int,
) ([]uint64, bool) {
	if count <= 0 {
		return nil, false
	}
	format := strings.ToLower(key.Format)
	pool := b.entries[entryKey{strings.ToLower(mnemonic), width, format}]
	if len(pool) == 0 {
		pool = b.entries[entryKey{Wildcard, width, format}]
	}
	if len(pool) == 0 {
		return nil, false
	}

	out := make([]uint64, count)
	for i := range out {
		out[i] = resource.Choose(rng, pool)
	}
	return out, true
}

// Load reads a bank, choosing the decoder from the file extension.
func Load(path string) (*Bank, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return LoadCSV(path)
	case ".json":
		return LoadJSON(path)
	case ".parquet":
		return LoadParquet(path)
	}
	return nil, fmt.Errorf("unsupported bank file %q", path)
}

// LoadCSV reads a CSV bank with a header row.
func LoadCSV(path string) (*Bank, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bank: %w", err)
	}
	defer file.Close()

	df, err := imports.LoadFromCSV(context.Background(), file, imports.CSVLoadOptions{
		InferDataTypes: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse bank %s: %w", path, err)
	}
	return fromFrame(df)
}

// LoadJSON reads a bank stored as an array of row objects.
func LoadJSON(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bank: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyBank
	}

	df, err := imports.LoadFromJSON(context.Background(), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse bank %s: %w", path, err)
	}
	return fromFrame(df)
}

// LoadParquet reads a Parquet bank.
func LoadParquet(path string) (*Bank, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bank: %w", err)
	}
	defer fr.Close()

	df, err := imports.LoadFromParquet(context.Background(), fr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bank %s: %w", path, err)
	}
	return fromFrame(df)
}

func fromFrame(df *dataframe.DataFrame) (*Bank, error) {
	if df == nil || len(df.Series) == 0 {
		return nil, ErrEmptyBank
	}

	cols := make(map[string]dataframe.Series, len(Columns))
	for _, name := range Columns {
		idx, err := df.NameToColumn(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
		cols[name] = df.Series[idx]
	}

	b := New()
	rows := df.NRows()
	for row := 0; row < rows; row++ {
		mnemonic := cellString(cols["mnemonic"].Value(row))
		width, err := cellUint(cols["width"].Value(row))
		if err != nil {
			return nil, fmt.Errorf("row %d: bad width: %w", row, err)
		}
		value, err := cellUint(cols["value"].Value(row))
		if err != nil {
			return nil, fmt.Errorf("row %d: bad value: %w", row, err)
		}
		if mnemonic == "" {
			mnemonic = Wildcard
		}
		b.Add(mnemonic, int(width), cellString(cols["format"].Value(row)), value)
	}

	if b.Len() == 0 {
		return nil, ErrEmptyBank
	}
	return b, nil
}

func cellString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case *string:
		if x == nil {
			return ""
		}
		return strings.TrimSpace(*x)
	default:
		return fmt.Sprint(x)
	}
}

func cellUint(v interface{}) (uint64, error) {
	switch x := v.(type) {
	case int64:
		return uint64(x), nil
	case float64:
		return uint64(x), nil
	case nil:
		return 0, errors.New("empty cell")
	}
	return strconv.ParseUint(cellString(v), 0, 64)
}
