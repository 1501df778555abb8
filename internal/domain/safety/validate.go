package safety

import (
	"fmt"
	"slices"
)

// Validate checks that a Rule is well-formed and compiles its pattern.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("safety: rule_id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("safety: rule %s: name is required", r.ID)
	}
	if r.Pattern == "" {
		return fmt.Errorf("safety: rule %s: pattern is required", r.ID)
	}
	if !slices.Contains(ValidRiskLevels, r.RiskLevel) {
		return fmt.Errorf("safety: rule %s: invalid risk_level %q", r.ID, r.RiskLevel)
	}
	if err := r.Compile(); err != nil {
		return fmt.Errorf("safety: rule %s: %w", r.ID, err)
	}
	return nil
}
