package channel

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/FormPipe/internal/models"
)

// Words users type on text-only transports.
const (
	KeywordBack = "back"
	KeywordDone = "done"
)

// Text-mode formatting.
const (
	optionFormat         = "\n%d. %s"
	selectedOptionFormat = "\n%d. [x] %s"
	unselectedFormat     = "\n%d. [ ] %s"
)

// QuestionHeading returns the numbered prompt with its description and hint, as shown
// above the options.
func QuestionHeading(view models.QuestionView) string {
	var sb strings.Builder
	if view.Total > 0 {
		fmt.Fprintf(&sb, "Q%d/%d: %s", view.Position+1, view.Total, view.Prompt)
	} else {
		fmt.Fprintf(&sb, "Q%d: %s", view.Position+1, view.Prompt)
	}
	if view.Description != "" {
		sb.WriteString("\n\n")
		sb.WriteString(view.Description)
	}
	if view.Hint != "" {
		sb.WriteString("\n\n")
		sb.WriteString(view.Hint)
	}
	return sb.String()
}

// FormatQuestion renders view for transports without buttons: numbered options, selection
// markers for multi-select and the keywords the user can reply with.
func FormatQuestion(view models.QuestionView) string {
	var sb strings.Builder
	sb.WriteString(QuestionHeading(view))

	if len(view.Options) > 0 {
		sb.WriteString("\n")
		for i, opt := range view.Options {
			switch {
			case view.Kind != models.InputKindMultiSelect:
				fmt.Fprintf(&sb, optionFormat, i+1, opt)
			case view.IsSelected(opt):
				fmt.Fprintf(&sb, selectedOptionFormat, i+1, opt)
			default:
				fmt.Fprintf(&sb, unselectedFormat, i+1, opt)
			}
		}
		sb.WriteString("\n")
	}

	var help []string
	switch view.Kind {
	case models.InputKindMultiSelect:
		help = append(help, fmt.Sprintf("Reply with option numbers (e.g. 1,3) to select or unselect, then %q to confirm.", KeywordDone))
	case models.InputKindSingleChoice, models.InputKindYesNo:
		help = append(help, "Reply with the option number or text.")
	}
	if view.CanGoBack {
		help = append(help, fmt.Sprintf("Reply %q to return to the previous question.", KeywordBack))
	}
	if len(help) > 0 {
		sb.WriteString("\n")
		sb.WriteString(strings.Join(help, "\n"))
	}
	return strings.TrimRight(sb.String(), "\n")
}
