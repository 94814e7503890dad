package flow

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/FormPipe/internal/catalog"
)

// ValidationError reports an answer that does not satisfy the current question.
// It is recovered locally by re-rendering the question with Notice.
type ValidationError struct {
	QuestionID string
	Value      string
	Notice     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid answer %q for question %s: %s", e.Value, e.QuestionID, e.Notice)
}

// ineligibleError is returned by validate when a number falls under the age gate.
type ineligibleError struct {
	minAge int
}

func (e *ineligibleError) Error() string {
	return fmt.Sprintf("answer is below minimum age %d", e.minAge)
}

// validate checks value against a single-answer question and returns the canonical
// answer to store. options are the resolved options for choice questions.
func (e *Engine) validate(q catalog.Question, options []string, value string) (string, error) {
	reject := func(notice string) error {
		return &ValidationError{QuestionID: q.ID, Value: value, Notice: notice}
	}

	switch k := q.Kind.(type) {
	case catalog.Number:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return "", reject(e.messages.InvalidNumber)
		}
		if (k.Min != nil && n < *k.Min) || (k.Max != nil && n > *k.Max) {
			return "", reject(e.messages.rangeNotice(k.Min, k.Max))
		}
		if k.MinAge != nil && n < *k.MinAge {
			return "", &ineligibleError{minAge: *k.MinAge}
		}
		return strconv.Itoa(n), nil

	case catalog.Text:
		text := strings.TrimSpace(value)
		if text == "" {
			return "", reject(e.messages.EmptyAnswer)
		}
		if n := utf8.RuneCountInString(text); n < k.MinLength {
			return "", reject(fmt.Sprintf(e.messages.TooShort, k.MinLength, n, k.MinLength-n))
		}
		return text, nil

	case catalog.SingleChoice, catalog.YesNo:
		opt, ok := matchOption(options, value)
		if !ok {
			return "", reject(e.messages.InvalidChoice)
		}
		return opt, nil

	case catalog.MultiSelect:
		return "", reject(e.messages.UseConfirm)

	default:
		return "", fmt.Errorf("unsupported question kind %T", q.Kind)
	}
}

// matchOption finds value among options ignoring case and surrounding whitespace, and
// returns the option as written in the catalog.
func matchOption(options []string, value string) (string, bool) {
	v := strings.TrimSpace(value)
	for _, opt := range options {
		if strings.EqualFold(strings.TrimSpace(opt), v) {
			return opt, true
		}
	}
	return "", false
}

// orderByOptions returns the members of selected in option order.
func orderByOptions(options, selected []string) []string {
	out := make([]string, 0, len(selected))
	for _, opt := range options {
		for _, s := range selected {
			if s == opt {
				out = append(out, opt)
				break
			}
		}
	}
	return out
}
