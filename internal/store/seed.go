package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is the initial content of both collections. Seed files are YAML or
// JSON documents of this shape.
type Seed struct {
	Journals []Journal `json:"journals" yaml:"journals"`
	Tasks    []Task    `json:"tasks" yaml:"tasks"`
}

// DefaultSeed returns ten journals and ten open tasks.
func DefaultSeed() Seed {
	var s Seed
	for i := 0; i < 10; i++ {
		s.Journals = append(s.Journals, Journal{Title: fmt.Sprintf("Title %d", i), Data: "Hello World!"})
		s.Tasks = append(s.Tasks, Task{Text: fmt.Sprintf("Do the %d", i)})
	}
	return s
}

// ParseSeed decodes a YAML or JSON seed document.
func ParseSeed(data []byte) (Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Seed{}, fmt.Errorf("parse seed: %w", err)
	}
	return s, nil
}

// LoadSeedFile reads and decodes a seed file.
func LoadSeedFile(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}
