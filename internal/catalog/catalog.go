package catalog

import (
	"fmt"
	"log/slog"
	"strings"
)

// ReservedIDs are answer-record keys used for channel identity fields. Catalog ids must not
// collide with them.
var ReservedIDs = []string{"display_name", "username", "user_id", "timestamp"}

// LinkRule declares an informational line added to the completion summary when an answer
// matches. Either Values+Text or ByValue is used.
type LinkRule struct {
	// QuestionID is the question whose answer is inspected.
	QuestionID string
	// Values trigger Text when any answer value equals one of them. An empty list
	// matches any non-empty answer.
	Values []string
	// Text is appended when the rule matches.
	Text string
	// ByValue selects a line keyed by the answer value, e.g. a per-state resource link.
	ByValue map[string]string
}

// Catalog is the ordered, validated question list.
type Catalog struct {
	questions []Question
	index     map[string]int
	links     []LinkRule
}

// New validates questions and link rules and returns an immutable catalog.
// Presentation order is the order of questions.
func New(questions []Question, links []LinkRule) (*Catalog, error) {
	if len(questions) == 0 {
		return nil, &SchemaError{Index: -1, Reason: "catalog contains no questions"}
	}

	c := &Catalog{
		questions: make([]Question, len(questions)),
		index:     make(map[string]int, len(questions)),
	}
	copy(c.questions, questions)

	for i, q := range c.questions {
		if err := validateQuestion(i, q); err != nil {
			return nil, err
		}
		if _, dup := c.index[q.ID]; dup {
			return nil, &SchemaError{Index: i, ID: q.ID, Reason: "duplicate question id"}
		}
		if q.Dynamic != nil {
			dep, ok := c.index[q.Dynamic.DependsOn]
			if !ok {
				return nil, &SchemaError{Index: i, ID: q.ID, Reason: fmt.Sprintf("dynamic options depend on %q which is not an earlier question", q.Dynamic.DependsOn)}
			}
			slog.Debug("Catalog dynamic dependency registered", "question_id", q.ID, "depends_on", q.Dynamic.DependsOn, "depends_on_index", dep)
		}
		c.index[q.ID] = i
	}

	for i, l := range links {
		if _, ok := c.index[l.QuestionID]; !ok {
			return nil, &SchemaError{Index: -1, Reason: fmt.Sprintf("link rule %d references unknown question %q", i, l.QuestionID)}
		}
		if l.Text == "" && len(l.ByValue) == 0 {
			return nil, &SchemaError{Index: -1, Reason: fmt.Sprintf("link rule %d has neither text nor by_value", i)}
		}
	}
	c.links = append(c.links, links...)

	return c, nil
}

func validateQuestion(i int, q Question) error {
	if strings.TrimSpace(q.ID) == "" {
		return &SchemaError{Index: i, Reason: "missing required field 'id'"}
	}
	for _, r := range ReservedIDs {
		if q.ID == r {
			return &SchemaError{Index: i, ID: q.ID, Reason: "id is reserved for identity fields"}
		}
	}
	if strings.TrimSpace(q.Prompt) == "" {
		return &SchemaError{Index: i, ID: q.ID, Reason: "missing required field 'question'"}
	}
	if q.Kind == nil {
		return &SchemaError{Index: i, ID: q.ID, Reason: "missing required field 'type'"}
	}

	switch k := q.Kind.(type) {
	case Text:
		if k.MinLength < 0 {
			return &SchemaError{Index: i, ID: q.ID, Reason: "min_length must not be negative"}
		}
	case Number:
		if k.Min != nil && k.Max != nil && *k.Min > *k.Max {
			return &SchemaError{Index: i, ID: q.ID, Reason: fmt.Sprintf("min %d is greater than max %d", *k.Min, *k.Max)}
		}
	case SingleChoice:
		if len(k.Options) == 0 {
			return &SchemaError{Index: i, ID: q.ID, Reason: "choice question requires non-empty options"}
		}
	case MultiSelect:
		if len(k.Options) == 0 {
			return &SchemaError{Index: i, ID: q.ID, Reason: "multi-select question requires non-empty options"}
		}
	case YesNo:
	default:
		return &SchemaError{Index: i, ID: q.ID, Reason: fmt.Sprintf("unsupported kind %T", q.Kind)}
	}

	if q.Dynamic != nil {
		if !q.Kind.Name().IsChoice() {
			return &SchemaError{Index: i, ID: q.ID, Reason: "dynamic options require a choice question"}
		}
		if q.Dynamic.DependsOn == "" {
			return &SchemaError{Index: i, ID: q.ID, Reason: "dynamic options require depends_on"}
		}
		if q.Dynamic.DependsOn == q.ID {
			return &SchemaError{Index: i, ID: q.ID, Reason: "dynamic options cannot depend on the question itself"}
		}
	}
	return nil
}

// Len returns the number of questions.
func (c *Catalog) Len() int {
	return len(c.questions)
}

// At returns the question at position i.
func (c *Catalog) At(i int) (Question, bool) {
	if i < 0 || i >= len(c.questions) {
		return Question{}, false
	}
	return c.questions[i], true
}

// Questions returns a copy of the questions in presentation order.
func (c *Catalog) Questions() []Question {
	out := make([]Question, len(c.questions))
	copy(out, c.questions)
	return out
}

// IndexOf returns the position of the question with the given id.
func (c *Catalog) IndexOf(id string) (int, bool) {
	i, ok := c.index[id]
	return i, ok
}

// Links returns the completion summary rules in declaration order.
func (c *Catalog) Links() []LinkRule {
	out := make([]LinkRule, len(c.links))
	copy(out, c.links)
	return out
}
