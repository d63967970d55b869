package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is one scripted run against the test server.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs lists CUE template files, relative to the scenario file.
	Specs []string `yaml:"specs"`

	// User is the client's user ID. Defaults to "10".
	User string `yaml:"user,omitempty"`

	// Seed is the server state before the first step.
	Seed []SeedEntity `yaml:"seed,omitempty"`

	// Steps run in order, each followed by a full drain of the loop.
	Steps []Step `yaml:"steps"`
}

// SeedEntity is one server-side entity written before the run.
type SeedEntity struct {
	Template string         `yaml:"template"`
	ID       string         `yaml:"id"`
	Fields   map[string]any `yaml:"fields"`
	Seq      int64          `yaml:"seq"`
}

// Step is one scenario operation. Which fields apply depends on Op.
type Step struct {
	Op         string         `yaml:"op"`
	Name       string         `yaml:"name,omitempty"`
	Template   string         `yaml:"template,omitempty"`
	ID         string         `yaml:"id,omitempty"`
	Fields     map[string]any `yaml:"fields,omitempty"`
	Where      map[string]any `yaml:"where,omitempty"`
	SortBy     string         `yaml:"sort_by,omitempty"`
	Descending bool           `yaml:"descending,omitempty"`
	Verb       string         `yaml:"verb,omitempty"`
	Seq        int64          `yaml:"seq,omitempty"`
	Reason     string         `yaml:"reason,omitempty"`
	Expect     *Expect        `yaml:"expect,omitempty"`
}

// Expect holds the checks of expect_store and expect_filter.
// Only the fields that are set are checked; Fields is a subset match.
type Expect struct {
	Status  string         `yaml:"status,omitempty"`
	Error   string         `yaml:"error,omitempty"`
	Fields  map[string]any `yaml:"fields,omitempty"`
	Missing []string       `yaml:"missing,omitempty"`
	IDs     []string       `yaml:"ids,omitempty"`
	Empty   bool           `yaml:"empty,omitempty"`
	Loading *bool          `yaml:"loading,omitempty"`
	Errors  []string       `yaml:"errors,omitempty"`
}

// Operation names.
const (
	OpCreate       = "create"
	OpChange       = "change"
	OpDelete       = "delete"
	OpPush         = "push"
	OpOpen         = "open"
	OpRelease      = "release"
	OpFilter       = "filter"
	OpSetFilter    = "set_filter"
	OpCloseFilter  = "close_filter"
	OpUndoNext     = "undo_next"
	OpFreeze       = "freeze"
	OpResume       = "resume"
	OpDisconnect   = "disconnect"
	OpConnect      = "connect"
	OpExpectStore  = "expect_store"
	OpExpectFilter = "expect_filter"
)

// LoadScenario reads and parses a scenario YAML file, resolving spec paths
// relative to the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario parses scenario YAML, resolving relative spec paths
// against basePath.
func ParseScenario(data []byte, basePath string) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, specPath := range scenario.Specs {
		if !filepath.IsAbs(specPath) && basePath != "" {
			scenario.Specs[i] = filepath.Join(basePath, specPath)
		}
	}
	if scenario.User == "" {
		scenario.User = "10"
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Specs) == 0 {
		return fmt.Errorf("specs list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for _, specPath := range s.Specs {
		if _, err := os.Stat(specPath); os.IsNotExist(err) {
			return fmt.Errorf("spec file not found: %s", specPath)
		}
	}

	for i, e := range s.Seed {
		if e.Template == "" || e.ID == "" {
			return fmt.Errorf("seed[%d]: template and id are required", i)
		}
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, st *Step) error {
	need := func(ok bool, what string) error {
		if !ok {
			return fmt.Errorf("steps[%d] (%s): %s is required", i, st.Op, what)
		}
		return nil
	}

	switch st.Op {
	case OpCreate, OpChange, OpDelete:
		if err := need(st.Template != "" && st.ID != "", "template and id"); err != nil {
			return err
		}
		if st.Op == OpChange {
			return need(len(st.Fields) > 0, "fields")
		}
	case OpPush:
		if err := need(st.Template != "" && st.ID != "", "template and id"); err != nil {
			return err
		}
		switch st.Verb {
		case "created", "changed", "deleted":
		default:
			return fmt.Errorf("steps[%d] (push): verb must be created, changed or deleted, got %q", i, st.Verb)
		}
		return need(st.Seq > 0, "seq")
	case OpOpen:
		return need(st.Name != "" && st.Template != "" && st.ID != "", "name, template and id")
	case OpFilter:
		return need(st.Name != "" && st.Template != "", "name and template")
	case OpRelease, OpSetFilter, OpCloseFilter:
		return need(st.Name != "", "name")
	case OpUndoNext:
		return need(st.Reason != "", "reason")
	case OpFreeze, OpResume, OpDisconnect, OpConnect:
	case OpExpectStore, OpExpectFilter:
		if err := need(st.Name != "", "name"); err != nil {
			return err
		}
		return need(st.Expect != nil, "expect")
	case "":
		return fmt.Errorf("steps[%d]: op is required", i)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", i, st.Op)
	}
	return nil
}
