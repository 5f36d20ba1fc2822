package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/blitter/internal/config"
	"github.com/roach88/blitter/internal/engine"
	"github.com/roach88/blitter/internal/hal"
)

// Scenario is a scripted run of the engine.
type Scenario struct {
	// Name uniquely identifies the scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description"`

	// Config overrides engine and session settings. Unset fields keep the
	// config package defaults.
	Config ScenarioConfig `yaml:"config,omitempty"`

	// Steps are executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated against the trace and final state.
	Assertions []Assertion `yaml:"assertions"`
}

// ScenarioConfig is the subset of config.Config a scenario may set.
type ScenarioConfig struct {
	WaitTimeout config.Duration `yaml:"wait_timeout,omitempty"`
	MaxContexts *int            `yaml:"max_contexts,omitempty"`
	MaxRegions  *int            `yaml:"max_regions,omitempty"`
	Memory      []hal.Bank      `yaml:"memory,omitempty"`
	CacheRate   *int64          `yaml:"cache_rate,omitempty"`
	CacheBurst  *int64          `yaml:"cache_burst,omitempty"`
}

// resolve overlays the scenario settings on the defaults.
func (sc ScenarioConfig) resolve() (*config.Config, error) {
	cfg := config.Default()
	if sc.WaitTimeout > 0 {
		cfg.Engine.WaitTimeout = sc.WaitTimeout
	}
	if sc.MaxContexts != nil {
		cfg.Engine.MaxContexts = *sc.MaxContexts
	}
	if sc.MaxRegions != nil {
		cfg.Engine.MaxRegions = *sc.MaxRegions
	}
	if sc.Memory != nil {
		cfg.Memory = sc.Memory
	}
	if sc.CacheRate != nil {
		cfg.Session.CacheRate = *sc.CacheRate
	}
	if sc.CacheBurst != nil {
		cfg.Session.CacheBurst = *sc.CacheBurst
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Step is one scripted operation.
type Step struct {
	// Session is the alias of the session the op runs on. Session ops on an
	// alias that was never opened run against a missing session.
	Session string `yaml:"session,omitempty"`

	// Op is the operation (see the Op constants).
	Op string `yaml:"op"`

	// Async runs the step on its own goroutine until the next join.
	Async bool `yaml:"async,omitempty"`

	// Args are op specific. configure takes a descriptor, region a region,
	// cache {addr, size, dir} and ioctl {request}. Empty args use defaults.
	Args map[string]interface{} `yaml:"args,omitempty"`

	// Expect is "ok" (the default) or an error code.
	Expect string `yaml:"expect,omitempty"`
}

// expected returns the normalized expectation.
func (s Step) expected() string {
	if s.Expect == "" {
		return ExpectOK
	}
	return s.Expect
}

// Step operations.
const (
	OpOpen      = "open"
	OpConfigure = "configure"
	OpRegion    = "region"
	OpSubmit    = "submit"
	OpWait      = "wait"
	OpClose     = "close"
	OpCache     = "cache"
	OpIoctl     = "ioctl"
	OpFire      = "fire"
	OpFault     = "fault"
	OpSuspend   = "suspend"
	OpResume    = "resume"
	OpJoin      = "join"
)

// ExpectOK is the expectation of a successful step.
const ExpectOK = "ok"

var sessionOps = map[string]bool{
	OpOpen:      true,
	OpConfigure: true,
	OpRegion:    true,
	OpSubmit:    true,
	OpWait:      true,
	OpClose:     true,
	OpCache:     true,
	OpIoctl:     true,
}

var engineOps = map[string]bool{
	OpFire:    true,
	OpFault:   true,
	OpSuspend: true,
	OpResume:  true,
	OpJoin:    true,
}

var validExpect = map[string]bool{
	ExpectOK:                                true,
	string(engine.ErrCodeInvalidContext):    true,
	string(engine.ErrCodeInvalidArgument):   true,
	string(engine.ErrCodeBusy):              true,
	string(engine.ErrCodeTimeout):           true,
	string(engine.ErrCodeResourceExhausted): true,
	string(engine.ErrCodeHardwareFault):     true,
	string(engine.ErrCodeClosed):            true,
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is trace_contains, trace_order, trace_count or final_state.
	Type string `yaml:"type"`

	// Kind is the journal kind (trace_contains, trace_count).
	Kind string `yaml:"kind,omitempty"`

	// Kinds is the expected order (trace_order).
	Kinds []string `yaml:"kinds,omitempty"`

	// Session restricts trace assertions to one session alias.
	Session string `yaml:"session,omitempty"`

	// Detail must match exactly when set (trace_contains, trace_count).
	Detail string `yaml:"detail,omitempty"`

	// Count is the expected number of matches (trace_count).
	Count int `yaml:"count,omitempty"`

	// Source selects the snapshot for final_state: "stats" (the default)
	// or "jobs".
	Source string `yaml:"source,omitempty"`

	// Expect holds expected snapshot fields (final_state, subset match).
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Final state sources.
const (
	SourceStats = "stats"
	SourceJobs  = "jobs"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads a single file, or every *.yaml and *.yml file in a
// directory in name order.
func LoadScenarios(path string) ([]*Scenario, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario path: %w", err)
	}
	if !info.IsDir() {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, err
		}
		return []*Scenario{s}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)

	scenarios := make([]*Scenario, 0, len(files))
	for _, f := range files {
		s, err := LoadScenario(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		switch {
		case sessionOps[step.Op]:
			if step.Session == "" {
				return fmt.Errorf("steps[%d]: session is required for %s", i, step.Op)
			}
		case engineOps[step.Op]:
			if step.Session != "" {
				return fmt.Errorf("steps[%d]: %s does not take a session", i, step.Op)
			}
		case step.Op == "":
			return fmt.Errorf("steps[%d]: op is required", i)
		default:
			return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}
		if step.Op == OpJoin && step.Async {
			return fmt.Errorf("steps[%d]: join cannot be async", i)
		}
		if !validExpect[step.expected()] {
			return fmt.Errorf("steps[%d]: unknown expectation %q", i, step.Expect)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		switch a.Source {
		case "", SourceStats, SourceJobs:
		default:
			return fmt.Errorf("assertions[%d]: unknown final_state source %q", index, a.Source)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
