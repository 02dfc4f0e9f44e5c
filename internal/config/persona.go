package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona is the system instruction the generator speaks with, loaded from a
// YAML file so it can be edited without touching the main config.
type Persona struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Style       []string `yaml:"style,omitempty"`
	Rules       []string `yaml:"rules,omitempty"`
}

// LoadPersona reads and parses a persona file. An empty path returns a nil
// persona without error; the generator then runs without a system instruction.
func LoadPersona(path string) (*Persona, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read persona file %s: %w", path, err)
	}

	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("cannot parse persona file %s: %w", path, err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("persona file %s: name is required", path)
	}

	return &p, nil
}

// Instruction renders the persona as one system instruction block.
func (p *Persona) Instruction() string {
	if p == nil {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s.", p.Name)
	if p.Description != "" {
		sb.WriteString(" ")
		sb.WriteString(p.Description)
	}
	if len(p.Style) > 0 {
		sb.WriteString("\n\nStyle:")
		for _, s := range p.Style {
			sb.WriteString("\n- ")
			sb.WriteString(s)
		}
	}
	if len(p.Rules) > 0 {
		sb.WriteString("\n\nRules:")
		for _, r := range p.Rules {
			sb.WriteString("\n- ")
			sb.WriteString(r)
		}
	}
	return sb.String()
}
