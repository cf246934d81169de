package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/hearth/internal/task"
)

// Scenario is one replay test.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Clock is the starting wall-clock reading in Unix milliseconds.
	// Zero starts at 1000.
	Clock int64 `yaml:"clock,omitempty"`

	// Flow is executed in order against one engine.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final queue, remote and trace.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one flow entry. Exactly one field is set.
type Step struct {
	Enqueue *EnqueueStep  `yaml:"enqueue,omitempty"`
	Advance time.Duration `yaml:"advance,omitempty"`
	Offline *bool         `yaml:"offline,omitempty"`
	Fault   *FaultStep    `yaml:"fault,omitempty"`
	Seed    *SeedStep     `yaml:"seed,omitempty"`
	Flush   *FlushStep    `yaml:"flush,omitempty"`
}

// kind names the step for error messages and validation.
func (s Step) kind() (string, error) {
	var kinds []string
	if s.Enqueue != nil {
		kinds = append(kinds, "enqueue")
	}
	if s.Advance != 0 {
		kinds = append(kinds, "advance")
	}
	if s.Offline != nil {
		kinds = append(kinds, "offline")
	}
	if s.Fault != nil {
		kinds = append(kinds, "fault")
	}
	if s.Seed != nil {
		kinds = append(kinds, "seed")
	}
	if s.Flush != nil {
		kinds = append(kinds, "flush")
	}
	switch len(kinds) {
	case 0:
		return "", errors.New("empty step")
	case 1:
		return kinds[0], nil
	default:
		return "", fmt.Errorf("step sets more than one of %v", kinds)
	}
}

// EnqueueStep appends one task.
type EnqueueStep struct {
	Op      string         `yaml:"op"`
	Scope   string         `yaml:"scope"`
	Entity  string         `yaml:"entity,omitempty"`
	Payload map[string]any `yaml:"payload,omitempty"`

	// Invalid expects the enqueue to be refused.
	Invalid bool `yaml:"invalid,omitempty"`
}

// FaultStep makes matching remote calls fail. Empty Op and Entity match
// every call.
type FaultStep struct {
	Op     string `yaml:"op,omitempty"`
	Entity string `yaml:"entity,omitempty"`
	// Error is one of unavailable, rejected, not_found.
	Error string `yaml:"error,omitempty"`
	// Clear removes the installed fault.
	Clear bool `yaml:"clear,omitempty"`
}

// Fault error kinds.
const (
	FaultUnavailable = "unavailable"
	FaultRejected    = "rejected"
	FaultNotFound    = "not_found"
)

// SeedStep writes a document into the remote, simulating another device.
type SeedStep struct {
	// Collection defaults to the entity collection.
	Collection   string         `yaml:"collection,omitempty"`
	Scope        string         `yaml:"scope"`
	Entity       string         `yaml:"entity"`
	Fields       map[string]any `yaml:"fields,omitempty"`
	LastModified int64          `yaml:"last_modified,omitempty"`
}

// FlushStep runs one sync cycle.
type FlushStep struct {
	Expect *FlushExpect `yaml:"expect,omitempty"`
}

// FlushExpect checks a cycle report. Nil counters are not checked.
type FlushExpect struct {
	Succeeded *int `yaml:"succeeded,omitempty"`
	Skipped   *int `yaml:"skipped,omitempty"`
	Removed   *int `yaml:"removed,omitempty"`
	Coalesced *int `yaml:"coalesced,omitempty"`
	Halted    bool `yaml:"halted,omitempty"`
}

// Assertion validates the final state or the trace.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Scope  string `yaml:"scope,omitempty"`
	Entity string `yaml:"entity,omitempty"`

	// Expect is a subset match against a remote document.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent asserts the entity document does not exist (remote_entity).
	Absent bool `yaml:"absent,omitempty"`

	// Count is used by pending_count, call_count and trace_count.
	Count int `yaml:"count"`

	// Op is the remote operation (call_count).
	Op string `yaml:"op,omitempty"`

	// Ops is the expected relative order (call_order).
	Ops []string `yaml:"ops,omitempty"`

	// Kind is the engine event kind (trace_count).
	Kind string `yaml:"kind,omitempty"`
}

// Assertion type constants.
const (
	AssertPendingCount = "pending_count"
	AssertRemoteEntity = "remote_entity"
	AssertRemoteScope  = "remote_scope"
	AssertCallOrder    = "call_order"
	AssertCallCount    = "call_count"
	AssertTraceCount   = "trace_count"
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

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if s.Clock < 0 {
		return errors.New("clock must be non-negative")
	}
	if len(s.Flow) == 0 {
		return errors.New("flow list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		kind, err := step.kind()
		if err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
		if err := validateStep(kind, step); err != nil {
			return fmt.Errorf("flow[%d].%s: %w", i, kind, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(kind string, s Step) error {
	switch kind {
	case "enqueue":
		if s.Enqueue.Op == "" {
			return errors.New("op is required")
		}
		if !s.Enqueue.Invalid && !task.Operation(s.Enqueue.Op).Known() {
			return fmt.Errorf("unknown operation %q", s.Enqueue.Op)
		}
	case "advance":
		if s.Advance < 0 {
			return errors.New("duration must be positive")
		}
	case "fault":
		if s.Fault.Clear {
			return nil
		}
		switch s.Fault.Error {
		case FaultUnavailable, FaultRejected, FaultNotFound:
		default:
			return fmt.Errorf("unknown error %q", s.Fault.Error)
		}
	case "seed":
		if s.Seed.Scope == "" || s.Seed.Entity == "" {
			return errors.New("scope and entity are required")
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case "":
		return errors.New("type is required")
	case AssertPendingCount:
	case AssertRemoteEntity:
		if a.Scope == "" || a.Entity == "" {
			return errors.New("scope and entity are required for remote_entity")
		}
		if !a.Absent && len(a.Expect) == 0 {
			return errors.New("expect or absent is required for remote_entity")
		}
	case AssertRemoteScope:
		if a.Scope == "" || len(a.Expect) == 0 {
			return errors.New("scope and expect are required for remote_scope")
		}
	case AssertCallOrder:
		if len(a.Ops) == 0 {
			return errors.New("ops list is required for call_order")
		}
	case AssertCallCount:
		if a.Op == "" {
			return errors.New("op is required for call_count")
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return errors.New("kind is required for trace_count")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	if a.Count < 0 {
		return errors.New("count must be non-negative")
	}
	return nil
}
