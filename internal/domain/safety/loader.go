package safety

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk shape of a custom rule file.
type ruleFile struct {
	Rules []ruleYAML `yaml:"rules"`
}

// ruleYAML mirrors Rule with pointer booleans so omitted fields take the
// same defaults as programmatic rules: confirmation on, blocking off.
type ruleYAML struct {
	ID                   string         `yaml:"rule_id"`
	Name                 string         `yaml:"name"`
	Description          string         `yaml:"description"`
	RiskLevel            RiskLevel      `yaml:"risk_level"`
	Pattern              string         `yaml:"pattern"`
	RequiresConfirmation *bool          `yaml:"requires_confirmation"`
	BlockOperation       *bool          `yaml:"block_operation"`
	Metadata             map[string]any `yaml:"metadata"`
}

func (y ruleYAML) rule() Rule {
	r := Rule{
		ID:                   y.ID,
		Name:                 y.Name,
		Description:          y.Description,
		RiskLevel:            y.RiskLevel,
		Pattern:              y.Pattern,
		RequiresConfirmation: true,
		Metadata:             y.Metadata,
	}
	if y.RequiresConfirmation != nil {
		r.RequiresConfirmation = *y.RequiresConfirmation
	}
	if y.BlockOperation != nil {
		r.BlockOperation = *y.BlockOperation
	}
	return r
}

// LoadFromFile reads the rules of a single YAML file.
func LoadFromFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied rules path
	if err != nil {
		return nil, fmt.Errorf("read rule file %s: %w", path, err)
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rule file %s: %w", path, err)
	}

	rules := make([]Rule, 0, len(f.Rules))
	for i := range f.Rules {
		r := f.Rules[i].rule()
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("validate rule file %s: %w", path, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// LoadFromDirectory reads all .yaml/.yml files from a directory in name
// order. A missing directory yields no rules and no error.
func LoadFromDirectory(dir string) ([]Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rule directory %s: %w", dir, err)
	}

	var rules []Rule
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		rs, err := LoadFromFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		rules = append(rules, rs...)
	}
	return rules, nil
}
