package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure for filter
// construction and a measurement harness run.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Filters FiltersConfig `yaml:"filters"`
	Harness HarnessConfig `yaml:"harness"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level         string `yaml:"level"`          // debug, info, warn, error, fatal
	EnableConsole bool   `yaml:"enable_console"` // Enable console output
	EnableFile    bool   `yaml:"enable_file"`    // Enable file output
	LogFile       string `yaml:"log_file"`       // Log file path
	BufferSize    int    `yaml:"buffer_size"`    // Async log buffer size
	LogDir        string `yaml:"log_dir"`        // Log directory
}

// FiltersConfig holds construction parameters for each filter variant.
type FiltersConfig struct {
	Bloom  BloomConfig  `yaml:"bloom"`
	Cuckoo CuckooConfig `yaml:"cuckoo"`
	CBCF   CBCFConfig   `yaml:"cbcf"`
}

// BloomConfig is BloomFilter's (m, k).
type BloomConfig struct {
	M uint32 `yaml:"m"`
	K uint32 `yaml:"k"`
}

// CuckooConfig is CuckooFilter's (B, b, f, max_kicks).
type CuckooConfig struct {
	NumBuckets      uint32 `yaml:"num_buckets"`
	BucketSize      uint32 `yaml:"bucket_size"`
	FingerprintBits uint8  `yaml:"fingerprint_bits"`
	MaxKicks        uint32 `yaml:"max_kicks"`
}

// CBCFConfig is CBCuckooFilter's (B, b, f, max_kicks); the long
// fingerprint width F is derived, not configured (spec.md §4.D: F = f +
// floor(f/3)).
type CBCFConfig struct {
	NumBuckets      uint32 `yaml:"num_buckets"`
	BucketSize      uint32 `yaml:"bucket_size"`
	FingerprintBits uint8  `yaml:"fingerprint_bits"`
	MaxKicks        uint32 `yaml:"max_kicks"`
}

// HarnessConfig drives cmd/filterbench.
type HarnessConfig struct {
	TargetOccupancies []float64 `yaml:"target_occupancies"`
	QueryCount        int       `yaml:"query_count"`
	OutputPath        string    `yaml:"output_path"`
}

// Load reads and parses the configuration file, applying built-in
// defaults before the YAML overrides them. A missing file is not an
// error — the defaults are returned as-is, matching the teacher's
// tolerant Load behavior.
func Load(path string) (*Config, error) {
	config := &Config{
		Logging: LoggingConfig{
			Level:         "info",
			EnableConsole: true,
			EnableFile:    false,
			BufferSize:    1000,
			LogDir:        "logs",
		},
		Filters: FiltersConfig{
			Bloom: BloomConfig{
				M: 1000,
				K: 12,
			},
			Cuckoo: CuckooConfig{
				NumBuckets:      500,
				BucketSize:      4,
				FingerprintBits: 10,
				MaxKicks:        10,
			},
			CBCF: CBCFConfig{
				NumBuckets:      250,
				BucketSize:      3,
				FingerprintBits: 12,
				MaxKicks:        10,
			},
		},
		Harness: HarnessConfig{
			TargetOccupancies: []float64{0.30, 0.35, 0.40, 0.45, 0.50, 0.55, 0.60, 0.65, 0.70, 0.75, 0.80, 0.85, 0.90, 0.95, 1.00},
			QueryCount:        4000,
			OutputPath:        "measurements.txt",
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("configuration file %s not found, using defaults\n", path)
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks that every sizing parameter is within the range each
// filter constructor accepts (spec.md §7 InvalidArgument), so a bad
// config file fails fast at load time instead of inside a constructor.
func (c *Config) Validate() error {
	if c.Filters.Bloom.M < 1 {
		return fmt.Errorf("filters.bloom.m must be >= 1")
	}
	if c.Filters.Bloom.K < 1 {
		return fmt.Errorf("filters.bloom.k must be >= 1")
	}
	if err := validateCuckooLike("cuckoo", c.Filters.Cuckoo.NumBuckets, c.Filters.Cuckoo.BucketSize, c.Filters.Cuckoo.FingerprintBits, c.Filters.Cuckoo.MaxKicks); err != nil {
		return err
	}
	if err := validateCuckooLike("cbcf", c.Filters.CBCF.NumBuckets, c.Filters.CBCF.BucketSize, c.Filters.CBCF.FingerprintBits, c.Filters.CBCF.MaxKicks); err != nil {
		return err
	}
	if c.Harness.QueryCount < 1 {
		return fmt.Errorf("harness.query_count must be >= 1")
	}
	if c.Harness.OutputPath == "" {
		return fmt.Errorf("harness.output_path cannot be empty")
	}
	for _, occ := range c.Harness.TargetOccupancies {
		if occ <= 0 || occ > 1 {
			return fmt.Errorf("harness.target_occupancies entries must be in (0, 1], got %v", occ)
		}
	}
	return nil
}

func validateCuckooLike(name string, numBuckets, bucketSize uint32, fingerprintBits uint8, maxKicks uint32) error {
	if numBuckets < 1 {
		return fmt.Errorf("filters.%s.num_buckets must be >= 1", name)
	}
	if bucketSize < 1 {
		return fmt.Errorf("filters.%s.bucket_size must be >= 1", name)
	}
	if fingerprintBits < 1 {
		return fmt.Errorf("filters.%s.fingerprint_bits must be >= 1", name)
	}
	if maxKicks < 1 {
		return fmt.Errorf("filters.%s.max_kicks must be >= 1", name)
	}
	return nil
}
