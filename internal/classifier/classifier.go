// Package classifier assigns each parsed step one of three roles: entry,
// intermediate or exit.
package classifier

import (
	"strings"

	"github.com/rendis/flowos/pkg/schema"
)

// Classifier decides the role of the step at index out of total steps.
type Classifier interface {
	Classify(name string, index, total int) schema.StepType
}

// Fingerprinter is implemented by configured classifiers. Classifiers with
// equal fingerprints classify every step the same way.
type Fingerprinter interface {
	Fingerprint() string
}

// Fingerprint returns c's fingerprint, or "" when c does not report one.
func Fingerprint(c Classifier) string {
	if f, ok := c.(Fingerprinter); ok {
		return f.Fingerprint()
	}
	return ""
}

// KeywordRule maps a step type to the keywords that select it.
type KeywordRule struct {
	Type     schema.StepType
	Keywords []string
	// Position reports whether the step's ordinal alone selects Type.
	Position func(index, total int) bool
}

// DefaultRules is the ordered rule table. Entry keywords are checked before
// the exit position test, so a last step named "Start ..." is an entry.
var DefaultRules = []KeywordRule{
	{
		Type:     schema.StepTypeEntry,
		Keywords: []string{"start", "input", "receive", "trigger", "begin"},
		Position: func(index, _ int) bool { return index == 0 },
	},
	{
		Type:     schema.StepTypeExit,
		Keywords: []string{"end", "output", "finish", "complete", "send", "deliver", "return"},
		Position: func(index, total int) bool { return index == total-1 },
	},
}

// KeywordClassifier is a Classifier over an ordered KeywordRule table.
// The zero value uses DefaultRules.
type KeywordClassifier struct {
	Rules []KeywordRule
}

// Classify evaluates rules in order, first match wins; intermediate otherwise.
func (c KeywordClassifier) Classify(name string, index, total int) schema.StepType {
	rules := c.Rules
	if rules == nil {
		rules = DefaultRules
	}
	lower := strings.ToLower(name)
	for _, r := range rules {
		if r.Position != nil && r.Position(index, total) {
			return r.Type
		}
		if containsAny(lower, r.Keywords) {
			return r.Type
		}
	}
	return schema.StepTypeIntermediate
}

// Classify applies the default keyword table.
func Classify(name string, index, total int) schema.StepType {
	return KeywordClassifier{}.Classify(name, index, total)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

var _ Classifier = KeywordClassifier{}
