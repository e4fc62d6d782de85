// Package config provides the settings of a synthesis run and builds the
// resource every generator of the run shares.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/go-logr/logr"
	"github.com/xyproto/env/v2"
	"go.yaml.in/yaml/v3"

	"github.com/sarchlab/vsynth/diag"
	"github.com/sarchlab/vsynth/fpbank"
	"github.com/sarchlab/vsynth/memlayout"
	"github.com/sarchlab/vsynth/resource"
	"github.com/sarchlab/vsynth/verify"
	"github.com/sarchlab/vsynth/vtype"
)

// Environment variables that override file settings.
const (
	EnvSeed      = "VSYNTH_SEED"
	EnvVLEN      = "VSYNTH_VLEN"
	EnvStrict    = "VSYNTH_STRICT"
	EnvBigEndian = "VSYNTH_BIG_ENDIAN"
	EnvFPBank    = "VSYNTH_FP_BANK"
)

// Config holds the target description and generation policy.
type Config struct {
	// Seed drives every random choice of the run.
	Seed uint64 `json:"seed" yaml:"seed"`

	// VLEN is the vector register width in bits.
	VLEN int `json:"vlen" yaml:"vlen"`

	// XLEN is the scalar register width. Only 64 is supported.
	XLEN int `json:"xlen" yaml:"xlen"`

	// ELEN is the widest supported element.
	ELEN int `json:"elen" yaml:"elen"`

	SupportedSEW  []int        `json:"supported_sew" yaml:"supported_sew"`
	SupportedLMUL []vtype.LMUL `json:"supported_lmul" yaml:"supported_lmul"`

	BigEndian      bool `json:"big_endian" yaml:"big_endian"`
	Strict         bool `json:"strict" yaml:"strict"`
	ForceAlignment bool `json:"force_alignment" yaml:"force_alignment"`

	// CuratedFP draws floating-point operands from FPBank when it holds a
	// match.
	CuratedFP bool   `json:"curated_fp" yaml:"curated_fp"`
	FPBank    string `json:"fp_bank,omitempty" yaml:"fp_bank,omitempty"`

	// DataBase is the linear address of the first data page.
	DataBase uint64 `json:"data_base" yaml:"data_base"`

	FailTarget string `json:"fail_target" yaml:"fail_target"`
	PassTarget string `json:"pass_target" yaml:"pass_target"`

	// ISAVersion is the vector extension version, such as "1.0" or "0.9".
	ISAVersion string `json:"isa_version" yaml:"isa_version"`

	// Format is the memory report layout of the simulator backend.
	Format verify.Format `json:"format" yaml:"format"`
}

// DefaultConfig returns the configuration of a 128-bit VLEN RV64 target
// implementing vector extension 1.0.
func DefaultConfig() *Config {
	return &Config{
		Seed:          1,
		VLEN:          128,
		XLEN:          64,
		ELEN:          64,
		SupportedSEW:  []int{8, 16, 32, 64},
		SupportedLMUL: slices.Clone(vtype.AllLMUL),
		Strict:        true,
		DataBase:      0x80100000,
		FailTarget:    "test_failed",
		PassTarget:    "test_passed",
		ISAVersion:    "1.0",
		Format:        verify.FormatAuto,
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadConfig loads a configuration from a JSON or YAML file, chosen by
// extension. Fields the file omits keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// SaveConfig saves the configuration as JSON or YAML, chosen by extension.
func (c *Config) SaveConfig(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides settings from the VSYNTH_* environment variables.
func (c *Config) ApplyEnv() {
	if env.Has(EnvSeed) {
		c.Seed = uint64(env.Int64(EnvSeed, int64(c.Seed)))
	}
	c.VLEN = env.Int(EnvVLEN, c.VLEN)
	if env.Has(EnvStrict) {
		c.Strict = env.Bool(EnvStrict)
	}
	if env.Has(EnvBigEndian) {
		c.BigEndian = env.Bool(EnvBigEndian)
	}
	if bank := env.Str(EnvFPBank); bank != "" {
		c.FPBank = bank
		c.CuratedFP = true
	}
}

// Validate checks that the configuration describes a legal target.
func (c *Config) Validate() error {
	if c.VLEN < 32 || c.VLEN > 65536 || c.VLEN&(c.VLEN-1) != 0 {
		return diag.Configf("vlen must be a power of two in [32, 65536], got %d", c.VLEN)
	}
	if c.XLEN != 64 {
		return diag.Configf("xlen must be 64, got %d", c.XLEN)
	}
	if c.ELEN != 32 && c.ELEN != 64 {
		return diag.Configf("elen must be 32 or 64, got %d", c.ELEN)
	}
	if c.ELEN > c.VLEN {
		return diag.Configf("elen %d exceeds vlen %d", c.ELEN, c.VLEN)
	}
	if len(c.SupportedSEW) == 0 {
		return diag.Configf("supported_sew must not be empty")
	}
	for _, sew := range c.SupportedSEW {
		if !vtype.ValidSEW(sew) || sew > c.ELEN {
			return diag.Configf("supported SEW %d is not legal with elen %d", sew, c.ELEN)
		}
	}
	if len(c.SupportedLMUL) == 0 {
		return diag.Configf("supported_lmul must not be empty")
	}
	for _, l := range c.SupportedLMUL {
		if !l.Valid() {
			return diag.Configf("supported LMUL %d has no encoding", int(l))
		}
	}
	if c.DataBase%memlayout.PageSize != 0 {
		return diag.Configf("data_base 0x%x is not page aligned", c.DataBase)
	}
	if c.FailTarget == "" || c.PassTarget == "" || c.FailTarget == c.PassTarget {
		return diag.Configf("fail_target %q and pass_target %q must be distinct labels",
			c.FailTarget, c.PassTarget)
	}
	if _, err := semver.NewVersion(c.ISAVersion); err != nil {
		return diag.Wrap(diag.CategoryConfig, err, "isa_version %q", c.ISAVersion)
	}
	if c.CuratedFP && c.FPBank == "" {
		return diag.Configf("curated_fp needs an fp_bank file")
	}
	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.SupportedSEW = slices.Clone(c.SupportedSEW)
	clone.SupportedLMUL = slices.Clone(c.SupportedLMUL)
	return &clone
}

// Resource validates the configuration and builds the shared resource of
// one file generated with seed. The curated bank is loaded when enabled.
func (c *Config) Resource(seed uint64, log logr.Logger) (*resource.Resource, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	version, err := semver.NewVersion(c.ISAVersion)
	if err != nil {
		return nil, diag.Wrap(diag.CategoryConfig, err, "isa_version %q", c.ISAVersion)
	}

	opts := []resource.Option{
		resource.WithLogger(log),
		resource.WithVLEN(c.VLEN),
		resource.WithStrict(c.Strict),
		resource.WithBigEndian(c.BigEndian),
		resource.WithForceAlignment(c.ForceAlignment),
		resource.WithISAVersion(version),
		resource.WithDataBase(c.DataBase),
	}
	if c.CuratedFP {
		bank, err := fpbank.Load(c.FPBank)
		if err != nil {
			return nil, diag.Wrap(diag.CategoryConfig, err, "fp_bank %s", c.FPBank)
		}
		opts = append(opts, resource.WithBank(bank))
	}

	res := resource.New(seed, opts...)
	res.XLEN = c.XLEN
	res.ELEN = c.ELEN
	res.SupportedSEW = slices.Clone(c.SupportedSEW)
	res.SupportedLMUL = slices.Clone(c.SupportedLMUL)
	res.FailTarget = c.FailTarget
	res.PassTarget = c.PassTarget
	return res, nil
}
