package resource

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/go-logr/logr"
	"github.com/samber/lo"

	"github.com/sarchlab/vsynth/vtype"
)

// BankKey selects curated floating-point values beyond mnemonic and width.
type BankKey struct {
	// Format names the encoding: "double", "single", "half" or "bfloat16".
	Format   string
	Rounding string
}

// Bank is a source of curated floating-point bit patterns.
type Bank interface {
	// Lookup draws count values for mnemonic at the given byte width. It
	// reports false when the bank holds nothing suitable.
	Lookup(rng *RNG, mnemonic string, width int, key BankKey, count int) ([]uint64, bool)
}

// Resource is the synthesis environment shared by every instruction of
// one generated file.
type Resource struct {
	RNG *RNG
	Log logr.Logger

	VLEN int
	XLEN int
	ELEN int

	SupportedSEW  []int
	SupportedLMUL []vtype.LMUL

	BigEndian      bool
	Strict         bool
	ForceAlignment bool
	CuratedFP      bool
	Bank           Bank

	ISAVersion *semver.Version

	// DataBase is the address of the first data page.
	DataBase uint64
	// FailTarget is where a failed check jumps in strict mode.
	FailTarget string
	// PassTarget is where a program ends when every check passed.
	PassTarget string
	// Accumulator collects mismatches when checks are not strict.
	Accumulator string
}

// Option configures a Resource.
type Option func(*Resource)

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(r *Resource) {
		r.Log = log
	}
}

// WithBank sets the curated floating-point bank.
func WithBank(b Bank) Option {
	return func(r *Resource) {
		r.Bank = b
		r.CuratedFP = b != nil
	}
}

// WithVLEN sets the vector register width in bits.
func WithVLEN(vlen int) Option {
	return func(r *Resource) {
		r.VLEN = vlen
	}
}

// WithStrict selects branch-to-fail checks (true) or accumulation (false).
func WithStrict(strict bool) Option {
	return func(r *Resource) {
		r.Strict = strict
	}
}

// WithBigEndian selects big-endian memory data.
func WithBigEndian(big bool) Option {
	return func(r *Resource) {
		r.BigEndian = big
	}
}

// WithForceAlignment keeps strides aligned to the element size.
func WithForceAlignment(force bool) Option {
	return func(r *Resource) {
		r.ForceAlignment = force
	}
}

// WithISAVersion sets the vector extension version.
func WithISAVersion(v *semver.Version) Option {
	return func(r *Resource) {
		r.ISAVersion = v
	}
}

// WithDataBase sets the first data page address.
func WithDataBase(addr uint64) Option {
	return func(r *Resource) {
		r.DataBase = addr
	}
}

// New creates a Resource with the given seed and defaults for a 128-bit
// VLEN RV64 target implementing vector extension 1.0.
func New(seed uint64, opts ...Option) *Resource {
	r := &Resource{
		RNG:           NewRNG(seed),
		Log:           logr.Discard(),
		VLEN:          128,
		XLEN:          64,
		ELEN:          64,
		SupportedSEW:  []int{8, 16, 32, 64},
		SupportedLMUL: append([]vtype.LMUL(nil), vtype.AllLMUL...),
		Strict:        true,
		ISAVersion:    semver.MustParse("1.0.0"),
		DataBase:      0x80100000,
		FailTarget:    "test_failed",
		PassTarget:    "test_passed",
		Accumulator:   "s11",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Supports reports whether the target implements (sew, lmul). Fractional
// multipliers require SEW <= LMUL*ELEN.
func (r *Resource) Supports(sew int, lmul vtype.LMUL) error {
	if !lo.Contains(r.SupportedSEW, sew) {
		return fmt.Errorf("SEW %d not in supported set %v", sew, r.SupportedSEW)
	}
	if !lo.Contains(r.SupportedLMUL, lmul) {
		return fmt.Errorf("LMUL %s not supported", lmul)
	}
	if lmul.Fractional() && sew*lmul.Den() > r.ELEN {
		return fmt.Errorf("SEW %d exceeds %s*ELEN(%d)", sew, lmul, r.ELEN)
	}
	return nil
}

// AtLeast reports whether the configured vector extension version
// satisfies ">= version".
func (r *Resource) AtLeast(version string) bool {
	if r.ISAVersion == nil {
		return true
	}
	c, err := semver.NewConstraint(">= " + version)
	if err != nil {
		return false
	}
	return c.Check(r.ISAVersion)
}
