// Package catalog loads and validates the ordered list of questions a user walks through.
//
// The catalog is immutable once loaded. Options that depend on an earlier answer are
// computed on every render by ResolveOptions rather than written back into the catalog.
package catalog

import (
	"strconv"
	"strings"

	"github.com/BTreeMap/FormPipe/internal/models"
)

// DefaultFallbackOption is offered when a dynamic question's dependency answer has no entry
// in the branching table.
const DefaultFallbackOption = "Other"

// Kind is the closed set of answer kinds. Each variant carries only the constraints that
// apply to it; callers dispatch with a type switch over the concrete types below.
type Kind interface {
	Name() models.InputKind
	isKind()
}

// Text collects free text of at least MinLength characters (0 disables the check).
type Text struct {
	MinLength int
}

// Number collects an integer, optionally bounded by Min and Max. When MinAge is set the
// question acts as an age gate: a lower answer ends the conversation politely.
type Number struct {
	Min    *int
	Max    *int
	MinAge *int
}

// SingleChoice collects exactly one of Options.
type SingleChoice struct {
	Options []string
}

// MultiSelect collects a non-empty subset of Options.
type MultiSelect struct {
	Options []string
}

// YesNo collects one of Options, which default to Yes and No.
type YesNo struct {
	Options []string
}

func (Text) Name() models.InputKind         { return models.InputKindText }
func (Number) Name() models.InputKind       { return models.InputKindNumber }
func (SingleChoice) Name() models.InputKind { return models.InputKindSingleChoice }
func (MultiSelect) Name() models.InputKind  { return models.InputKindMultiSelect }
func (YesNo) Name() models.InputKind        { return models.InputKindYesNo }

func (Text) isKind()         {}
func (Number) isKind()       {}
func (SingleChoice) isKind() {}
func (MultiSelect) isKind()  {}
func (YesNo) isKind()        {}

// DefaultYesNoOptions are used by yes_no questions without explicit options.
var DefaultYesNoOptions = []string{"Yes", "No"}

// DynamicOptions replaces a question's options based on the answer to an earlier question.
type DynamicOptions struct {
	// DependsOn is the id of the earlier question whose answer selects the options.
	DependsOn string
	// Table maps a dependency answer to the replacement options.
	Table map[string][]string
	// Fallback is offered when the dependency answer has no table entry.
	Fallback []string
}

// Question is one validated entry of the catalog.
type Question struct {
	ID            string
	Prompt        string
	Description   string
	Kind          Kind
	Dynamic       *DynamicOptions
	Disqualifying []string
}

// StaticOptions returns the options declared in the catalog, without dynamic substitution.
func (q Question) StaticOptions() []string {
	switch k := q.Kind.(type) {
	case SingleChoice:
		return k.Options
	case MultiSelect:
		return k.Options
	case YesNo:
		if len(k.Options) == 0 {
			return DefaultYesNoOptions
		}
		return k.Options
	case Text, Number:
		return nil
	default:
		return nil
	}
}

// IsDisqualifying reports whether value is one of the question's disqualifying answers.
// Matching ignores case and surrounding whitespace.
func (q Question) IsDisqualifying(value string) bool {
	for _, d := range q.Disqualifying {
		if strings.EqualFold(strings.TrimSpace(d), strings.TrimSpace(value)) {
			return true
		}
	}
	return false
}

// Hint returns the type-specific instruction appended under the prompt.
func (q Question) Hint() string {
	switch k := q.Kind.(type) {
	case Text:
		if k.MinLength > 0 {
			return "Please provide at least " + strconv.Itoa(k.MinLength) + " characters in your response."
		}
		return "Please type your answer."
	case Number:
		return "Please enter a number."
	case MultiSelect:
		return "Select all that apply, then confirm."
	case SingleChoice, YesNo:
		return ""
	default:
		return ""
	}
}
