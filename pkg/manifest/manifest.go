// Package manifest loads test suite definitions from YAML files. A suite
// names a set of test files plus the policy and viewport to run them with.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/runbox/runbox/pkg/model"
)

// Viewport is the optional display geometry for a suite.
type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Suite defines one runnable test suite from a YAML file.
type Suite struct {
	Name     string   `yaml:"name"`
	Files    []string `yaml:"files"`
	Policy   string   `yaml:"policy"`
	Viewport Viewport `yaml:"viewport"`
}

// ParsedPolicy returns the suite's policy, falling back to isolated.
func (s *Suite) ParsedPolicy() model.Policy {
	return model.ParsePolicy(s.Policy)
}

// Load reads and validates a single suite file.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if len(suite.Files) == 0 {
		return nil, fmt.Errorf("at least one file is required")
	}
	if suite.Policy != "" && model.Policy(suite.Policy) != model.PolicyIsolated &&
		model.Policy(suite.Policy) != model.PolicyShared {
		return nil, fmt.Errorf("unknown policy %q", suite.Policy)
	}
	if (suite.Viewport.Width == 0) != (suite.Viewport.Height == 0) {
		return nil, fmt.Errorf("viewport needs both width and height")
	}

	if suite.Name == "" {
		base := filepath.Base(path)
		suite.Name = strings.TrimSuffix(strings.TrimSuffix(base, ".yaml"), ".yml")
	}
	return &suite, nil
}

// LoadDir reads all .yaml suites from a directory. A missing directory
// yields an empty list.
func LoadDir(dir string) ([]*Suite, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading suites directory: %w", err)
	}

	var suites []*Suite
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		suite, err := Load(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		suites = append(suites, suite)
	}
	return suites, nil
}
