package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GGUFloader/agentcore/internal/config"
	"github.com/GGUFloader/agentcore/internal/domain"
	"github.com/GGUFloader/agentcore/internal/domain/event"
	"github.com/GGUFloader/agentcore/internal/domain/safety"
	"github.com/GGUFloader/agentcore/internal/port/cache"
	"github.com/GGUFloader/agentcore/internal/port/confirm"
)

const maxViolations = 1000

// SafetyStats summarises gate activity.
type SafetyStats struct {
	Enabled             bool           `json:"enabled"`
	BlockCritical       bool           `json:"block_critical"`
	RequireConfirmation bool           `json:"require_confirmation"`
	Rules               int            `json:"rules"`
	Validations         int64          `json:"validations"`
	Violations          int            `json:"violations"`
	Blocked             int            `json:"blocked"`
	Confirmed           int            `json:"confirmed"`
	ByRisk              map[string]int `json:"by_risk"`
	ByRule              map[string]int `json:"by_rule"`
}

// SafetyGate classifies prospective operations with an ordered rule list.
// The first matching rule decides: block, ask for confirmation, or record
// and allow.
type SafetyGate struct {
	cfg       config.Safety
	cache     cache.Cache
	cacheTTL  time.Duration
	confirmer confirm.Confirmer
	events    Emitter

	mu          sync.Mutex
	rules       []safety.Rule
	violations  []safety.Violation
	validations int64

	now func() time.Time
}

// NewSafetyGate creates a gate with the default rules. cache, confirmer and
// events may be nil; a nil confirmer denies every confirmation.
func NewSafetyGate(cfg config.Safety, c cache.Cache, cacheTTL time.Duration, confirmer confirm.Confirmer, events Emitter) *SafetyGate {
	return &SafetyGate{
		cfg:       cfg,
		cache:     c,
		cacheTTL:  cacheTTL,
		confirmer: confirmer,
		events:    events,
		rules:     safety.DefaultRules(),
		now:       time.Now,
	}
}

// SetConfirmer replaces the confirmation surface.
func (g *SafetyGate) SetConfirmer(c confirm.Confirmer) {
	g.mu.Lock()
	g.confirmer = c
	g.mu.Unlock()
}

// LoadRulesDir appends the custom rules found in dir. A missing directory
// is not an error.
func (g *SafetyGate) LoadRulesDir(dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}
	rules, err := safety.LoadFromDirectory(dir)
	if err != nil {
		return 0, err
	}
	for _, r := range rules {
		if err := g.AddRule(r); err != nil {
			return 0, err
		}
	}
	slog.Info("custom safety rules loaded", "dir", dir, "count", len(rules))
	return len(rules), nil
}

// AddRule validates r and appends it, replacing an existing rule with the
// same id in place.
func (g *SafetyGate) AddRule(r safety.Rule) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if i := slices.IndexFunc(g.rules, func(x safety.Rule) bool { return x.ID == r.ID }); i >= 0 {
		g.rules[i] = r
		return nil
	}
	g.rules = append(g.rules, r)
	return nil
}

// RemoveRule deletes a rule by id.
func (g *SafetyGate) RemoveRule(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.rules)
	g.rules = slices.DeleteFunc(g.rules, func(r safety.Rule) bool { return r.ID == id })
	return len(g.rules) != n
}

// Rules returns the rules in evaluation order.
func (g *SafetyGate) Rules() []safety.Rule {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.rules)
}

// Validate decides whether an operation may proceed. It returns the
// violation for the first matching rule, or nil when no rule matched.
// Internal failures deny.
func (g *SafetyGate) Validate(ctx context.Context, opType, details string, metadata map[string]any) (allowed bool, v *safety.Violation) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("safety validation panicked", "operation_type", opType, "panic", r)
			allowed = false
		}
	}()

	if !g.cfg.Enabled {
		return true, nil
	}

	g.mu.Lock()
	g.validations++
	var rule *safety.Rule
	for i := range g.rules {
		if g.rules[i].Match(opType, details) {
			r := g.rules[i]
			rule = &r
			break
		}
	}
	confirmer := g.confirmer
	g.mu.Unlock()

	if rule == nil {
		return true, nil
	}

	v = &safety.Violation{
		ID:               uuid.NewString(),
		RuleID:           rule.ID,
		RuleName:         rule.Name,
		OperationType:    opType,
		OperationDetails: details,
		RiskLevel:        rule.RiskLevel,
		Timestamp:        g.now(),
		Metadata:         maps.Clone(metadata),
	}

	switch {
	case rule.BlockOperation && g.cfg.BlockCritical:
		v.Blocked = true
		allowed = false
	case rule.RequiresConfirmation && g.cfg.RequireConfirmation:
		allowed = g.confirm(ctx, confirmer, v)
		v.UserConfirmed = allowed
		v.Blocked = !allowed
	default:
		allowed = true
	}

	g.record(v, rule)
	return allowed, v
}

func (g *SafetyGate) confirm(ctx context.Context, confirmer confirm.Confirmer, v *safety.Violation) bool {
	key := confirmationKey(v.OperationType, v.OperationDetails)

	if g.cache != nil {
		if val, ok, err := g.cache.Get(ctx, key); err != nil {
			slog.Warn("confirmation cache read failed", "key", key, "error", err)
		} else if ok {
			return string(val) == "1"
		}
	}

	if confirmer == nil {
		slog.Warn("no confirmation surface, denying", "rule_id", v.RuleID)
		return false
	}

	ok, err := confirmer.Confirm(ctx, v)
	if err != nil {
		slog.Warn("confirmation failed, denying", "rule_id", v.RuleID, "error", err)
		return false
	}

	if g.cache != nil {
		val := []byte("0")
		if ok {
			val = []byte("1")
		}
		if err := g.cache.Set(ctx, key, val, g.cacheTTL); err != nil {
			slog.Warn("confirmation cache write failed", "key", key, "error", err)
		}
	}
	return ok
}

// confirmationKey hashes the operation into the cache key.
func confirmationKey(opType, details string) string {
	sum := sha256.Sum256([]byte(opType + ":" + details))
	return "safety.confirm." + hex.EncodeToString(sum[:])[:16]
}

func (g *SafetyGate) record(v *safety.Violation, rule *safety.Rule) {
	g.mu.Lock()
	g.violations = append(g.violations, *v)
	if over := len(g.violations) - maxViolations; over > 0 {
		g.violations = slices.Delete(g.violations, 0, over)
	}
	g.mu.Unlock()

	slog.Warn("safety rule matched",
		"violation_id", v.ID,
		"rule_id", v.RuleID,
		"risk_level", string(v.RiskLevel),
		"operation_type", v.OperationType,
		"blocked", v.Blocked,
		"user_confirmed", v.UserConfirmed,
	)

	if g.events == nil {
		return
	}
	prio := event.PriorityHigh
	if v.RiskLevel == safety.RiskCritical {
		prio = event.PriorityCritical
	}
	g.events.Emit(event.SafetyViolation, "safety_gate", map[string]any{
		"violation_id":          v.ID,
		"rule_id":               rule.ID,
		"rule_name":             rule.Name,
		"risk_level":            string(rule.RiskLevel),
		"operation_type":        v.OperationType,
		"operation_details":     v.OperationDetails,
		"requires_confirmation": rule.RequiresConfirmation,
		"block_operation":       rule.BlockOperation,
		"blocked":               v.Blocked,
		"user_confirmed":        v.UserConfirmed,
	}, EmitOptions{Priority: prio})
}

// Violations returns up to limit of the most recent violations, newest
// first. A limit <= 0 returns all.
func (g *SafetyGate) Violations(limit int) []safety.Violation {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := len(g.violations)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]safety.Violation, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, g.violations[i])
	}
	return out
}

// ClearViolations empties the violation log.
func (g *SafetyGate) ClearViolations() {
	g.mu.Lock()
	g.violations = nil
	g.mu.Unlock()
}

// Stats returns gate counters.
func (g *SafetyGate) Stats() SafetyStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := SafetyStats{
		Enabled:             g.cfg.Enabled,
		BlockCritical:       g.cfg.BlockCritical,
		RequireConfirmation: g.cfg.RequireConfirmation,
		Rules:               len(g.rules),
		Validations:         g.validations,
		Violations:          len(g.violations),
		ByRisk:              map[string]int{},
		ByRule:              map[string]int{},
	}
	for _, v := range g.violations {
		s.ByRisk[string(v.RiskLevel)]++
		s.ByRule[v.RuleID]++
		if v.Blocked {
			s.Blocked++
		}
		if v.UserConfirmed {
			s.Confirmed++
		}
	}
	return s
}
