// Package rules provides CEL-based criticality classification for monitored groups.
package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/rival420/donwatcher/internal/domain"
)

// Classifier assigns criticality classes to groups using ordered CEL rules.
type Classifier struct {
	mu    sync.RWMutex
	env   *cel.Env
	rules []*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  domain.CriticalityRule
	Program cel.Program
}

// NewClassifier compiles the rules. Order matters: the first match wins.
func NewClassifier(rules []domain.CriticalityRule) (*Classifier, error) {
	env, err := cel.NewEnv(
		cel.Variable("group_name", cel.StringType),
		cel.Variable("domain", cel.StringType),
		cel.Variable("total_members", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	c := &Classifier{env: env}
	if err := c.Reload(rules); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload replaces all rules. On error the previous rules stay active.
func (c *Classifier) Reload(rules []domain.CriticalityRule) error {
	compiled := make([]*CompiledRule, 0, len(rules))
	for _, r := range rules {
		cr, err := c.compileRule(r)
		if err != nil {
			return err
		}
		compiled = append(compiled, cr)
	}

	c.mu.Lock()
	c.rules = compiled
	c.mu.Unlock()
	return nil
}

// Classify returns the class for a group and an optional warning.
//
// Precedence: first matching rule, then the class reported with the fact,
// then standard.
func (c *Classifier) Classify(fact domain.GroupFact) (domain.CriticalityClass, string) {
	c.mu.RLock()
	rules := c.rules
	c.mu.RUnlock()

	activation := map[string]any{
		"group_name":    fact.GroupName,
		"domain":        fact.Domain,
		"total_members": int64(fact.TotalMembers),
	}

	var warning string
	for _, r := range rules {
		out, _, err := r.Program.Eval(activation)
		if err != nil {
			warning = fmt.Sprintf("criticality rule %s failed: %v", r.Config.Name, err)
			continue
		}
		if matched, ok := out.(types.Bool); ok && bool(matched) {
			return r.Config.Class, warning
		}
	}

	if fact.Criticality.Valid() {
		return fact.Criticality, warning
	}
	if fact.Criticality != "" {
		warning = fmt.Sprintf("unknown criticality class %q, using %s", fact.Criticality, domain.CriticalityStandard)
	}
	return domain.CriticalityStandard, warning
}

// RulesCount returns the number of loaded rules.
func (c *Classifier) RulesCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rules)
}

func (c *Classifier) compileRule(cfg domain.CriticalityRule) (*CompiledRule, error) {
	if !cfg.Class.Valid() {
		return nil, fmt.Errorf("rule %s: unknown class %q", cfg.Name, cfg.Class)
	}

	ast, issues := c.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.Name, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.Name, ast.OutputType())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.Name, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
