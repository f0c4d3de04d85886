// Package config handles cellcore.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"

	"github.com/chazu/cellcore/vm"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "cellcore.toml"

var log = commonlog.GetLogger("cellcore.config")

// Config represents a cellcore.toml file.
type Config struct {
	Heap    Heap    `toml:"heap" json:"heap"`
	Sharing Sharing `toml:"sharing" json:"sharing"`
	Helpers Helpers `toml:"helpers" json:"helpers"`
	Log     Log     `toml:"log" json:"log"`

	// Path is the file the configuration was read from (set at load time).
	Path string `toml:"-" json:"-"`
}

// Heap tunes the allocator, collector and root stack.
type Heap struct {
	GCThreshold  int     `toml:"gc_threshold" json:"gc_threshold"`
	Growth       float64 `toml:"growth" json:"growth"`
	MaxBytes     int     `toml:"max_bytes" json:"max_bytes"`
	ProtectLimit int     `toml:"protect_limit" json:"protect_limit"`
	DebugChecks  bool    `toml:"debug_checks" json:"debug_checks"`
}

// Sharing tunes the sharing count and the attribute fast path.
type Sharing struct {
	Max            int      `toml:"max" json:"max"`
	FastAttributes []string `toml:"fast_attributes" json:"fast_attributes"`
}

// Helpers configures the deferred-computation worker pool.
type Helpers struct {
	Workers int  `toml:"workers" json:"workers"`
	Merge   bool `toml:"merge" json:"merge"`
	Trace   bool `toml:"trace" json:"trace"`
}

// Log configures the commonlog backend.
type Log struct {
	Verbosity int `toml:"verbosity" json:"verbosity"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Heap: Heap{
			GCThreshold:  vm.DefaultGCThreshold,
			Growth:       vm.DefaultGCGrowth,
			ProtectLimit: vm.DefaultProtectLimit,
			DebugChecks:  true,
		},
		Sharing: Sharing{
			Max:            vm.DefaultSharingMax,
			FastAttributes: append([]string(nil), vm.DefaultFastAttributes...),
		},
		Helpers: Helpers{Merge: true},
	}
}

// Parse decodes TOML on top of the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile parses the configuration file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	log.Infof("loaded %s", c.Path)
	return c, nil
}

// Load parses the cellcore.toml file in dir.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// FindAndLoad walks up from startDir to find a cellcore.toml file, then
// loads it. It returns the defaults if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			log.Debugf("no %s above %s, using defaults", FileName, startDir)
			return Default(), nil
		}
		dir = parent
	}
}

// Options converts the configuration into runtime options.
func (c *Config) Options() vm.Options {
	return vm.Options{
		Heap: vm.HeapOptions{
			GCThreshold:    c.Heap.GCThreshold,
			GCGrowth:       c.Heap.Growth,
			MaxBytes:       c.Heap.MaxBytes,
			ProtectLimit:   c.Heap.ProtectLimit,
			SharingMax:     c.Sharing.Max,
			FastAttributes: append([]string(nil), c.Sharing.FastAttributes...),
			DebugChecks:    c.Heap.DebugChecks,
		},
		Pool: vm.PoolOptions{
			Workers: c.Helpers.Workers,
			Merge:   c.Helpers.Merge,
			Trace:   c.Helpers.Trace,
		},
	}
}
