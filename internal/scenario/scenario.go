// Package scenario loads and runs smoke scenarios against a clubdesk server:
// ordered HTTP steps with status and body assertions, where values captured
// from one response feed the requests that follow.
package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is a complete smoke scenario loaded from a YAML or JSON file.
type Scenario struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Setup       Setup             `yaml:"setup"`
	Variables   map[string]string `yaml:"variables"`
	Steps       []Step            `yaml:"steps"`
}

// Setup runs before the first step.
type Setup struct {
	// Reset wipes the server's state. The server must enable reset.
	Reset bool `yaml:"reset"`
	// Seed is a state file posted to /admin/state, relative to the scenario file.
	Seed string `yaml:"seed"`
	// Clock sets the server clock forward by a duration such as "2h".
	Clock string `yaml:"clock"`
}

// Step is a single request/assert pair within a scenario.
type Step struct {
	Name string `yaml:"name"`
	// As selects the credentials: "staff", "admin" or "public". Default staff.
	As      string            `yaml:"as"`
	Request Request           `yaml:"request"`
	Capture map[string]string `yaml:"capture"`
	Assert  Assert            `yaml:"assert"`
}

// Request defines the HTTP request to make during a step.
type Request struct {
	Method  string            `yaml:"method"`
	Path    string            `yaml:"path"`
	Headers map[string]string `yaml:"headers"`
	Body    any               `yaml:"body"`
}

// Assert defines the expected results of a step.
type Assert struct {
	Status       int            `yaml:"status"`
	BodyContains string         `yaml:"body_contains"`
	Body         map[string]any `yaml:"body"`
}

// Roles a step may run as.
const (
	AsPublic = "public"
	AsStaff  = "staff"
	AsAdmin  = "admin"
)

// Load parses a single scenario file. JSON files are read with the same
// decoder since JSON is valid YAML.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", path, err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", ".json":
	default:
		return nil, fmt.Errorf("unsupported scenario format %q (expected .yaml, .yml or .json)", ext)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	if s.Setup.Seed != "" && !filepath.IsAbs(s.Setup.Seed) {
		s.Setup.Seed = filepath.Join(filepath.Dir(path), s.Setup.Seed)
	}
	return &s, nil
}

func (s *Scenario) validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	for i, st := range s.Steps {
		if st.Request.Method == "" || st.Request.Path == "" {
			return fmt.Errorf("step %d (%s): request method and path are required", i+1, st.Name)
		}
		switch st.As {
		case "", AsPublic, AsStaff, AsAdmin:
		default:
			return fmt.Errorf("step %d (%s): as must be public, staff or admin", i+1, st.Name)
		}
	}
	return nil
}

// LoadDir loads all .yaml, .yml and .json scenario files from a directory,
// in name order.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading scenario directory %s: %w", dir, err)
	}

	var scenarios []*Scenario
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		s, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("no scenario files found in %s", dir)
	}
	return scenarios, nil
}

// LoadPath loads a file or every scenario in a directory.
func LoadPath(path string) ([]*Scenario, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	return []*Scenario{s}, nil
}
