// Package config loads blitter configuration files.
//
// A configuration is YAML. Loading checks the document against an embedded
// CUE schema first, then decodes it strictly (unknown fields are errors)
// over the defaults, then runs semantic checks such as bank overlap.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/blitter/internal/engine"
	"github.com/roach88/blitter/internal/hal"
)

//go:embed schema.cue
var schemaCUE string

// Config is a complete blitter configuration.
type Config struct {
	Engine  EngineConfig  `yaml:"engine" json:"engine"`
	Device  DeviceConfig  `yaml:"device" json:"device"`
	Memory  []hal.Bank    `yaml:"memory" json:"memory"`
	Journal JournalConfig `yaml:"journal" json:"journal"`
	Session SessionConfig `yaml:"session" json:"session"`
}

// EngineConfig holds arbiter limits.
type EngineConfig struct {
	WaitTimeout Duration `yaml:"wait_timeout" json:"wait_timeout"`
	MaxContexts int      `yaml:"max_contexts" json:"max_contexts"`
	MaxRegions  int      `yaml:"max_regions" json:"max_regions"`
}

// DeviceConfig configures the simulated device.
// A zero latency leaves the device in manual completion mode.
type DeviceConfig struct {
	Latency Duration `yaml:"latency" json:"latency"`
}

// JournalConfig configures the SQLite journal.
// An empty path disables the journal.
type JournalConfig struct {
	Path            string   `yaml:"path" json:"path,omitempty"`
	MaxPending      int      `yaml:"max_pending" json:"max_pending"`
	BreakerFailures int      `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerCooldown Duration `yaml:"breaker_cooldown" json:"breaker_cooldown"`
}

// SessionConfig configures per-session limits on the control surface.
// A zero cache rate disables cache request limiting.
type SessionConfig struct {
	CacheRate  int64 `yaml:"cache_rate" json:"cache_rate"`
	CacheBurst int64 `yaml:"cache_burst" json:"cache_burst"`
}

// Duration is a time.Duration written as a Go duration string ("250ms").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", value.Line, err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// MarshalText writes the duration as a string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when a field is not set.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			WaitTimeout: Duration(engine.DefaultWaitTimeout),
			MaxContexts: engine.DefaultMaxContexts,
			MaxRegions:  engine.DefaultMaxRegions,
		},
		Device: DeviceConfig{
			Latency: Duration(time.Millisecond),
		},
		Memory: []hal.Bank{
			{Name: "system", Base: 0x10000000, Size: 0x10000000},
		},
		Journal: JournalConfig{
			MaxPending:      10000,
			BreakerFailures: 3,
			BreakerCooldown: Duration(5 * time.Second),
		},
		Session: SessionConfig{
			CacheRate:  1000,
			CacheBurst: 100,
		},
	}
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates and decodes a configuration document.
// Fields missing from the document keep their Default values.
func Parse(data []byte) (*Config, error) {
	if err := CheckSchema(data); err != nil {
		return nil, err
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// CheckSchema validates a YAML document against the embedded CUE schema.
func CheckSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if doc == nil {
		return nil
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	value := ctx.Encode(doc)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{Problems: schemaProblems(err)}
	}
	return nil
}

// SchemaError lists every schema violation in a document.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return "schema violation: " + strings.Join(e.Problems, "; ")
}

func schemaProblems(err error) []string {
	var problems []string
	for _, e := range cueerrors.Errors(err) {
		problems = append(problems, e.Error())
	}
	if len(problems) == 0 {
		problems = append(problems, err.Error())
	}
	return problems
}

// Validate runs semantic checks the schema cannot express.
func (c *Config) Validate() error {
	if c.Engine.WaitTimeout <= 0 {
		return fmt.Errorf("engine.wait_timeout must be positive")
	}
	if c.Device.Latency < 0 {
		return fmt.Errorf("device.latency must not be negative")
	}
	if c.Journal.BreakerCooldown <= 0 {
		return fmt.Errorf("journal.breaker_cooldown must be positive")
	}
	if c.Session.CacheRate > 0 && c.Session.CacheBurst <= 0 {
		return fmt.Errorf("session.cache_burst must be positive when cache_rate is set")
	}
	if _, err := c.MemoryMap(); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	return nil
}

// MemoryMap builds the bank map.
func (c *Config) MemoryMap() (*hal.MemoryMap, error) {
	return hal.NewMemoryMap(c.Memory...)
}

// EngineOptions returns the engine options this configuration implies.
func (c *Config) EngineOptions() ([]engine.Option, error) {
	mem, err := c.MemoryMap()
	if err != nil {
		return nil, err
	}
	return []engine.Option{
		engine.WithWaitTimeout(c.Engine.WaitTimeout.Std()),
		engine.WithMaxContexts(c.Engine.MaxContexts),
		engine.WithMaxRegions(c.Engine.MaxRegions),
		engine.WithMemoryMap(mem),
	}, nil
}
