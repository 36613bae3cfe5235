package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/brettbedarf/kvfs/internal/util"
	"gopkg.in/yaml.v3"
)

// Store types understood by the server package.
const (
	StoreMemory    = "memory"
	StoreBolt      = "bolt"
	StoreDatastore = "datastore"
)

// Default configuration constants. See [Config] for field descriptions.
const (
	DefaultLogLvl             = util.InfoLevel
	DefaultName               = "kvfs"
	DefaultStoreType          = StoreMemory
	DefaultBucket             = "kvfs"
	DefaultSupportsProperties = true

	// DefaultMaxIDRetries is how many fresh ids node creation tries before
	// giving up with an I/O error
	DefaultMaxIDRetries = 5

	// DefaultRootMode is the permission of a newly created root directory
	DefaultRootMode = 0o777
)

// CLI verbosity levels accepted by ConfigOverride.LogLvl
const (
	ErrorVerbose = iota + 1
	WarnVerbose
	InfoVerbose
	DebugVerbose
	TraceVerbose
)

// StoreConfig selects and locates the key-value backend.
type StoreConfig struct {
	Type   string // memory, bolt or datastore (Default memory)
	Path   string // Database file for bolt, leveldb directory for datastore
	Bucket string // bolt bucket name (Default kvfs)
}

// Config contains runtime configuration values for the filesystem.
type Config struct {
	MountOptions
	LogLvl             util.LogLevel // Internal log level (Default info)
	Name               string        // Name reported in filesystem metadata (Default kvfs)
	Store              StoreConfig
	SupportsProperties bool   // Whether chmod/chown/utimes are allowed (Default true)
	MaxIDRetries       int    // Node id allocation attempts (Default 5)
	RootMode           uint32 // Permission bits of a new root directory (Default 0777)
}

// ConfigOverride uses pointer fields to distinguish between unset and zero values
// when loading partial configuration. See [Config] for field descriptions.
type ConfigOverride struct {
	Debug              *bool   `yaml:"debug,omitempty" json:"debug,omitempty"`
	FsName             *string `yaml:"fs_name,omitempty" json:"fs_name,omitempty"`
	MountName          *string `yaml:"mount_name,omitempty" json:"mount_name,omitempty"`
	LogLvl             *int    `yaml:"verbose,omitempty" json:"verbose,omitempty"` // CLI verbosity 1 (error) to 5 (trace)
	Name               *string `yaml:"name,omitempty" json:"name,omitempty"`
	StoreType          *string `yaml:"store_type,omitempty" json:"store_type,omitempty"`
	StorePath          *string `yaml:"store_path,omitempty" json:"store_path,omitempty"`
	StoreBucket        *string `yaml:"store_bucket,omitempty" json:"store_bucket,omitempty"`
	SupportsProperties *bool   `yaml:"supports_properties,omitempty" json:"supports_properties,omitempty"`
	MaxIDRetries       *int    `yaml:"max_id_retries,omitempty" json:"max_id_retries,omitempty"`
	RootMode           *uint32 `yaml:"root_mode,omitempty" json:"root_mode,omitempty"`
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		MountOptions: MountOptions{
			FsName: DefaultName,
			Name:   DefaultName,
		},
		LogLvl: DefaultLogLvl,
		Name:   DefaultName,
		Store: StoreConfig{
			Type:   DefaultStoreType,
			Bucket: DefaultBucket,
		},
		SupportsProperties: DefaultSupportsProperties,
		MaxIDRetries:       DefaultMaxIDRetries,
		RootMode:           DefaultRootMode,
	}
}

// NewConfig returns the defaults with override applied. A nil override
// yields the defaults.
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override.Debug != nil {
		c.Debug = *override.Debug
	}
	if override.FsName != nil {
		c.FsName = *override.FsName
	}
	if override.MountName != nil {
		c.MountOptions.Name = *override.MountName
	}
	if override.LogLvl != nil {
		c.LogLvl = VerboseToLogLevel(*override.LogLvl)
	}
	if override.Name != nil {
		c.Name = *override.Name
	}
	if override.StoreType != nil {
		c.Store.Type = *override.StoreType
	}
	if override.StorePath != nil {
		c.Store.Path = *override.StorePath
	}
	if override.StoreBucket != nil {
		c.Store.Bucket = *override.StoreBucket
	}
	if override.SupportsProperties != nil {
		c.SupportsProperties = *override.SupportsProperties
	}
	if override.MaxIDRetries != nil {
		c.MaxIDRetries = *override.MaxIDRetries
	}
	if override.RootMode != nil {
		c.RootMode = *override.RootMode
	}
}

// VerboseToLogLevel maps CLI verbosity 1 (error) .. 5 (trace) to a log level,
// clamping out of range values.
func VerboseToLogLevel(verbose int) util.LogLevel {
	verbose = min(max(verbose, ErrorVerbose), TraceVerbose)
	lvls := [5]util.LogLevel{util.ErrorLevel, util.WarnLevel, util.InfoLevel, util.DebugLevel, util.TraceLevel}
	return lvls[verbose-1]
}

// Validate reports configuration values the server cannot work with.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case StoreMemory:
	case StoreBolt, StoreDatastore:
		if c.Store.Path == "" {
			return fmt.Errorf("store type %s requires a path", c.Store.Type)
		}
	default:
		return fmt.Errorf("unknown store type: %s", c.Store.Type)
	}
	if c.MaxIDRetries < 1 {
		return fmt.Errorf("max id retries must be at least 1, got %d", c.MaxIDRetries)
	}
	return nil
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports both YAML (.yaml, .yml) and JSON (.json) formats.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	// Determine format by file extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with defaults.
// This is a convenience function that combines NewDefaultConfig, LoadConfigOverrideFile, and Merge.
func NewConfigFromFile(path string) (*Config, error) {
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	return NewConfig(override), nil
}
