package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// HintsFile is the YAML document referenced by hot.hints_file.
//
//	hot:
//	  - handle_request
//	  - "api/*.py:dispatch_*"
type HintsFile struct {
	Hot []string `yaml:"hot"`
}

// LoadHints reads a hints file.
func LoadHints(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hints file: %w", err)
	}
	var hf HintsFile
	if err := yaml.Unmarshal(data, &hf); err != nil {
		return nil, fmt.Errorf("parse hints file %s: %w", path, err)
	}
	return hf.Hot, nil
}

// AllHints returns the inline hints followed by those from hints_file.
func (h HotConfig) AllHints() ([]string, error) {
	hints := append([]string(nil), h.Hints...)
	if h.HintsFile == "" {
		return hints, nil
	}
	more, err := LoadHints(h.HintsFile)
	if err != nil {
		return nil, err
	}
	return append(hints, more...), nil
}
