// Package scenario loads and runs request scenarios against a running
// taskjournal server. Steps can capture tokens, etags and ids from one
// response and use them in later requests.
package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is one named sequence of requests.
type Scenario struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description" json:"description,omitempty"`
	Setup       Setup             `yaml:"setup" json:"setup"`
	Variables   map[string]string `yaml:"variables" json:"variables,omitempty"`
	Steps       []Step            `yaml:"steps" json:"steps"`
}

// Setup runs before the first step.
type Setup struct {
	Reset bool   `yaml:"reset" json:"reset"`
	State string `yaml:"state" json:"state,omitempty"` // file POSTed to /admin/state
}

// Step sends one request and checks the response.
type Step struct {
	Name    string  `yaml:"name" json:"name"`
	Request Request `yaml:"request" json:"request"`
	Assert  Assert  `yaml:"assert" json:"assert"`

	// Capture maps a variable name to a response source: "body",
	// "header.<Name>" or "json.<key>".
	Capture map[string]string `yaml:"capture" json:"capture,omitempty"`
}

// Request is relative to the server's base URL. Path, Body and header
// values may use {{var}}.
type Request struct {
	Method  string            `yaml:"method" json:"method"`
	Path    string            `yaml:"path" json:"path"`
	Headers map[string]string `yaml:"headers" json:"headers,omitempty"`
	Body    string            `yaml:"body" json:"body,omitempty"`
}

// Assert holds the expectations for a step. Zero fields are not checked.
type Assert struct {
	Status       int               `yaml:"status" json:"status"`
	BodyContains string            `yaml:"body_contains" json:"body_contains,omitempty"`
	BodyJSON     map[string]string `yaml:"body_json" json:"body_json,omitempty"`
	Headers      map[string]string `yaml:"headers" json:"headers,omitempty"`
}

var errUnsupportedFormat = errors.New("unsupported scenario format")

func decoderFor(path string) (func([]byte, any) error, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Unmarshal, nil
	case ".yaml", ".yml":
		return yaml.Unmarshal, nil
	}
	return nil, errUnsupportedFormat
}

func (s *Scenario) validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if len(s.Steps) == 0 {
		return errors.New("at least one step is required")
	}
	for i, step := range s.Steps {
		for name, source := range step.Capture {
			if err := validSource(source); err != nil {
				return fmt.Errorf("step %d capture %q: %w", i+1, name, err)
			}
		}
	}
	return nil
}

// LoadScenario parses a .yaml, .yml or .json scenario file.
func LoadScenario(path string) (*Scenario, error) {
	decode, err := decoderFor(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var s Scenario
	if err := decode(data, &s); err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &s, nil
}

// LoadDir loads every scenario file in dir, in name order. Other files are
// ignored.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := decoderFor(e.Name()); err == nil {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenario files found in %s", dir)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// LoadPath loads a single scenario file or a directory of them.
func LoadPath(path string) ([]*Scenario, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	s, err := LoadScenario(path)
	if err != nil {
		return nil, err
	}
	return []*Scenario{s}, nil
}
