// Package safety defines the rule model used to classify prospective agent
// operations by risk.
package safety

import (
	"fmt"
	"regexp"
	"time"
)

// RiskLevel classifies how dangerous a matched operation is.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ValidRiskLevels lists all risk levels in ascending severity.
var ValidRiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}

// Rule is a single pattern-based safety rule. Patterns use RE2 syntax and
// are matched case-insensitively.
type Rule struct {
	ID                   string         `json:"rule_id" yaml:"rule_id"`
	Name                 string         `json:"name" yaml:"name"`
	Description          string         `json:"description" yaml:"description"`
	RiskLevel            RiskLevel      `json:"risk_level" yaml:"risk_level"`
	Pattern              string         `json:"pattern" yaml:"pattern"`
	RequiresConfirmation bool           `json:"requires_confirmation" yaml:"requires_confirmation"`
	BlockOperation       bool           `json:"block_operation" yaml:"block_operation"`
	Metadata             map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	re *regexp.Regexp
}

// Compile prepares the rule pattern. It is called by Validate and is safe
// to call more than once.
func (r *Rule) Compile() error {
	if r.re != nil {
		return nil
	}
	re, err := regexp.Compile("(?i)" + r.Pattern)
	if err != nil {
		return fmt.Errorf("compile pattern %q: %w", r.Pattern, err)
	}
	r.re = re
	return nil
}

// Match reports whether the rule matches the operation details or, failing
// that, the operation type. An uncompiled rule never matches.
func (r *Rule) Match(opType, details string) bool {
	if r.re == nil {
		return false
	}
	return r.re.MatchString(details) || r.re.MatchString(opType)
}

// Violation records one rule match against an operation.
type Violation struct {
	ID               string         `json:"violation_id"`
	RuleID           string         `json:"rule_id"`
	RuleName         string         `json:"rule_name"`
	OperationType    string         `json:"operation_type"`
	OperationDetails string         `json:"operation_details"`
	RiskLevel        RiskLevel      `json:"risk_level"`
	Timestamp        time.Time      `json:"timestamp"`
	UserConfirmed    bool           `json:"user_confirmed"`
	Blocked          bool           `json:"blocked"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// DefaultRules returns the built-in rule set in evaluation order. Each call
// returns fresh, compiled copies.
func DefaultRules() []Rule {
	rules := []Rule{
		{
			ID:                   "file_deletion",
			Name:                 "File Deletion",
			Description:          "Detects file deletion operations",
			RiskLevel:            RiskMedium,
			Pattern:              `delete|remove|rm\s+|unlink`,
			RequiresConfirmation: true,
			Metadata:             map[string]any{"category": "file_operations"},
		},
		{
			ID:                   "directory_deletion",
			Name:                 "Directory Deletion",
			Description:          "Detects directory deletion operations",
			RiskLevel:            RiskHigh,
			Pattern:              `rmdir|rm\s+-r|remove.*directory`,
			RequiresConfirmation: true,
			Metadata:             map[string]any{"category": "file_operations"},
		},
		{
			ID:                   "system_commands",
			Name:                 "System Commands",
			Description:          "Detects potentially dangerous system commands",
			RiskLevel:            RiskCritical,
			Pattern:              `sudo|su\s|chmod\s+777|chown|mkfs|dd\s+if=|format|fdisk`,
			RequiresConfirmation: true,
			BlockOperation:       true,
			Metadata:             map[string]any{"category": "system_operations"},
		},
		{
			ID:                   "network_operations",
			Name:                 "Network Operations",
			Description:          "Detects network-related operations",
			RiskLevel:            RiskMedium,
			Pattern:              `curl|wget|ssh|scp|rsync.*:|ftp|telnet`,
			RequiresConfirmation: true,
			Metadata:             map[string]any{"category": "network_operations"},
		},
		{
			ID:                   "process_termination",
			Name:                 "Process Termination",
			Description:          "Detects process termination commands",
			RiskLevel:            RiskHigh,
			Pattern:              `kill\s+-9|killall|pkill|taskkill`,
			RequiresConfirmation: true,
			Metadata:             map[string]any{"category": "process_operations"},
		},
		{
			// RE2 has no lookahead; appends via tee are matched too.
			ID:                   "file_overwrite",
			Name:                 "File Overwrite",
			Description:          "Detects operations that might overwrite important files",
			RiskLevel:            RiskMedium,
			Pattern:              `>\s*[^>]|tee\s+`,
			RequiresConfirmation: true,
			Metadata:             map[string]any{"category": "file_operations"},
		},
	}
	for i := range rules {
		if err := rules[i].Compile(); err != nil {
			panic(fmt.Sprintf("safety: default rule %s: %v", rules[i].ID, err))
		}
	}
	return rules
}
