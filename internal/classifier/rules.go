package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"

	"github.com/rendis/flowos/internal/expressions"
	"github.com/rendis/flowos/pkg/schema"
)

// Rule is a configuration-driven classification rule. When evaluates to a
// boolean over the `step` variable (name, lower, index, total, first, last).
type Rule struct {
	Name   string          `yaml:"name" json:"name"`
	Engine string          `yaml:"engine" json:"engine"`
	When   string          `yaml:"when" json:"when"`
	Type   schema.StepType `yaml:"type" json:"type"`
}

// RuleSet is the on-disk rules document.
type RuleSet struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

// LoadRules reads a YAML rules file.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes a YAML rules document.
func ParseRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return &rs, nil
}

// RuleClassifier evaluates user rules in order and falls back to another
// Classifier when none match. A rule that fails to evaluate is skipped.
type RuleClassifier struct {
	rules    []Rule
	engines  *expressions.Registry
	fallback Classifier
	logger   *slog.Logger
	fprint   string
}

// NewRuleClassifier validates rules against the registry. fallback defaults
// to the keyword table.
func NewRuleClassifier(rs *RuleSet, engines *expressions.Registry, fallback Classifier, logger *slog.Logger) (*RuleClassifier, error) {
	if fallback == nil {
		fallback = KeywordClassifier{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	var rules []Rule
	if rs != nil {
		rules = make([]Rule, 0, len(rs.Rules))
		for i, r := range rs.Rules {
			if r.Engine == "" {
				r.Engine = "expr"
			}
			if !r.Type.Valid() {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "rule %d (%s): unknown step type %q", i, r.Name, r.Type)
			}
			if strings.TrimSpace(r.When) == "" {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "rule %d (%s): empty condition", i, r.Name)
			}
			eng, ok := engines.Get(r.Engine)
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "rule %d (%s): unknown engine %q", i, r.Name, r.Engine)
			}
			if c, ok := eng.(expressions.Compiler); ok {
				if err := c.Compile(r.When); err != nil {
					return nil, fmt.Errorf("rule %d (%s): %w", i, r.Name, err)
				}
			}
			rules = append(rules, r)
		}
	}

	return &RuleClassifier{
		rules:    rules,
		engines:  engines,
		fallback: fallback,
		logger:   logger,
		fprint:   rulesFingerprint(rules, fallback),
	}, nil
}

// Fingerprint hashes the validated rules and the fallback's fingerprint.
func (c *RuleClassifier) Fingerprint() string {
	return c.fprint
}

func rulesFingerprint(rules []Rule, fallback Classifier) string {
	if len(rules) == 0 {
		return Fingerprint(fallback)
	}
	d := xxhash.New()
	for _, r := range rules {
		for _, part := range []string{r.Engine, r.When, string(r.Type)} {
			_, _ = d.WriteString(part)
			_, _ = d.WriteString("\x00")
		}
	}
	_, _ = d.WriteString(Fingerprint(fallback))
	return "rules:" + strconv.FormatUint(d.Sum64(), 16)
}

// Classify returns the type of the first rule whose condition is true.
func (c *RuleClassifier) Classify(name string, index, total int) schema.StepType {
	if len(c.rules) == 0 {
		return c.fallback.Classify(name, index, total)
	}

	data := map[string]any{
		"step": map[string]any{
			"name":  name,
			"lower": strings.ToLower(name),
			"index": index,
			"total": total,
			"first": index == 0,
			"last":  index == total-1,
		},
	}

	for _, r := range c.rules {
		eng, _ := c.engines.Get(r.Engine)
		out, err := eng.Evaluate(context.Background(), r.When, data)
		if err != nil {
			c.logger.Warn("classifier rule failed",
				slog.String("rule", r.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if matched, ok := out.(bool); ok && matched {
			return r.Type
		}
	}
	return c.fallback.Classify(name, index, total)
}

var _ Classifier = (*RuleClassifier)(nil)
