// Package parser turns a free-text workflow description into an ordered,
// linearly chained list of steps.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rendis/flowos/internal/classifier"
	"github.com/rendis/flowos/pkg/schema"
)

// Format names the text layout a description was recognized as.
type Format string

const (
	FormatArrow         Format = "arrow"
	FormatNumberedLines Format = "numbered-lines"
	FormatComma         Format = "comma"
	FormatThen          Format = "then"
	FormatSingle        Format = "single"
)

var (
	ordinalPrefix = regexp.MustCompile(`^\d+[.)]\s*`)
	thenSeparator = regexp.MustCompile(`(?i)\s+then\s+`)
)

// formatRule pairs a detection predicate with the splitter used when it matches.
type formatRule struct {
	format Format
	match  func(text string) bool
	split  func(text string) []string
}

// formatRules are evaluated in order on the trimmed input; first match wins.
var formatRules = []formatRule{
	{
		format: FormatArrow,
		match:  func(s string) bool { return strings.Contains(s, "->") },
		split:  func(s string) []string { return strings.Split(s, "->") },
	},
	{
		format: FormatNumberedLines,
		match:  func(s string) bool { return strings.Contains(s, "\n") },
		split: func(s string) []string {
			lines := strings.Split(s, "\n")
			for i, l := range lines {
				lines[i] = ordinalPrefix.ReplaceAllString(strings.TrimSpace(l), "")
			}
			return lines
		},
	},
	{
		format: FormatComma,
		match:  func(s string) bool { return strings.Contains(s, ",") },
		split:  func(s string) []string { return strings.Split(s, ",") },
	},
	{
		format: FormatThen,
		match:  func(s string) bool { return strings.Contains(strings.ToLower(s), " then ") },
		split:  func(s string) []string { return thenSeparator.Split(s, -1) },
	},
	{
		format: FormatSingle,
		match:  func(string) bool { return true },
		split:  func(s string) []string { return []string{s} },
	},
}

// Parser splits descriptions into steps and classifies each one.
type Parser struct {
	classifier classifier.Classifier
}

// New returns a Parser using c, or the keyword table when c is nil.
func New(c classifier.Classifier) *Parser {
	if c == nil {
		c = classifier.KeywordClassifier{}
	}
	return &Parser{classifier: c}
}

// Parse is Parser.Parse with the default keyword classifier.
func Parse(text string) ([]schema.Step, error) {
	steps, _, err := New(nil).Parse(text)
	return steps, err
}

// DetectFormat reports which format rule the trimmed text matches.
func DetectFormat(text string) Format {
	return ruleFor(strings.TrimSpace(text)).format
}

func ruleFor(trimmed string) formatRule {
	for _, r := range formatRules {
		if r.match(trimmed) {
			return r
		}
	}
	return formatRules[len(formatRules)-1]
}

// Parse returns the steps found in text and the format used to split it.
// Empty input fails with ErrCodeInputEmpty; input that splits into no
// non-empty segments fails with ErrCodeParseEmptyResult.
func (p *Parser) Parse(text string) ([]schema.Step, Format, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, "", schema.NewError(schema.ErrCodeInputEmpty, "input text is empty")
	}

	rule := ruleFor(trimmed)
	segments := compact(rule.split(trimmed))
	if len(segments) == 0 {
		return nil, rule.format, schema.NewError(schema.ErrCodeParseEmptyResult, "could not parse any steps").
			WithDetails(map[string]any{"format": string(rule.format)})
	}

	steps := make([]schema.Step, len(segments))
	for i, name := range segments {
		steps[i] = schema.Step{
			ID:   StepID(i + 1),
			Name: name,
			Type: p.classifier.Classify(name, i, len(segments)),
		}
		if i > 0 {
			steps[i].Dependencies = []string{StepID(i)}
		}
	}
	return steps, rule.format, nil
}

// StepID returns the positional id of the n-th step (1-based).
func StepID(n int) string {
	return fmt.Sprintf("step-%d", n)
}

// compact trims every segment and drops the empty ones.
func compact(segments []string) []string {
	out := make([]string, 0, len(segments))
	for _, s := range segments {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
