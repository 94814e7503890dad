package bot

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/FormPipe/internal/channel"
	"github.com/BTreeMap/FormPipe/internal/flow"
	"github.com/BTreeMap/FormPipe/internal/models"
)

// Commands that begin (or restart) the questionnaire.
var startCommands = map[string]bool{"start": true, "quiz": true}

// Notices produced before the engine sees an event.
const (
	StaleButtonNotice    = "Please answer the current question."
	UnknownCommandNotice = "Unknown command. Send /quiz to start the questionnaire."
)

// Input is an inbound message interpreted against the user's current question. Either
// Events or Notice is set.
type Input struct {
	Events []flow.Event
	Notice string
	// Stale is set when a button for another question, or for an option list the question
	// no longer shows, was pressed.
	Stale bool
}

// Normalize maps in to engine events. view is the question the user is on, or nil when
// the user has no active flow.
func Normalize(in models.Inbound, view *models.QuestionView) Input {
	if in.Command != "" {
		if startCommands[strings.ToLower(in.Command)] {
			return events(flow.Start(in.Identity))
		}
		return Input{Notice: UnknownCommandNotice}
	}
	if in.IsCallback() {
		return normalizeCallback(in.Callback, view)
	}
	return normalizeText(in.Text, view)
}

func events(evs ...flow.Event) Input {
	return Input{Events: evs}
}

func normalizeCallback(data string, view *models.QuestionView) Input {
	cb, err := channel.ParseCallback(data)
	if err != nil {
		slog.Warn("Normalizer dropping malformed callback", "error", err, "data", data)
		return Input{}
	}
	if view == nil {
		// Let the engine report that nothing is in progress.
		return events(flow.Back())
	}
	if cb.Position != view.Position {
		slog.Debug("Normalizer stale button", "pressed", cb.Position, "current", view.Position)
		return Input{Notice: StaleButtonNotice, Stale: true}
	}

	switch cb.Action {
	case channel.CallbackBack:
		return events(flow.Back())
	case channel.CallbackConfirm:
		return events(flow.Confirm())
	}
	if cb.Index >= len(view.Options) || cb.Fingerprint != channel.OptionsFingerprint(view.Options) {
		slog.Debug("Normalizer stale option button", "questionID", view.QuestionID, "index", cb.Index)
		return Input{Notice: StaleButtonNotice, Stale: true}
	}
	opt := view.Options[cb.Index]
	if cb.Action == channel.CallbackToggle {
		return events(flow.Toggle(opt))
	}
	return events(flow.Answer(opt))
}

func normalizeText(text string, view *models.QuestionView) Input {
	trimmed := strings.TrimSpace(text)
	if view == nil {
		return events(flow.Answer(trimmed))
	}
	keyword := strings.ToLower(trimmed)
	if keyword == channel.KeywordBack {
		return events(flow.Back())
	}

	switch view.Kind {
	case models.InputKindMultiSelect:
		if keyword == channel.KeywordDone {
			return events(flow.Confirm())
		}
		if picks, ok := optionNumbers(trimmed, view.Options); ok {
			evs := make([]flow.Event, 0, len(picks))
			for _, opt := range picks {
				evs = append(evs, flow.Toggle(opt))
			}
			return events(evs...)
		}
		for _, opt := range view.Options {
			if strings.EqualFold(opt, trimmed) {
				return events(flow.Toggle(opt))
			}
		}
		// The engine rejects free text here with the multi-select help.
		return events(flow.Answer(trimmed))

	case models.InputKindSingleChoice, models.InputKindYesNo:
		if n, err := strconv.Atoi(trimmed); err == nil && n >= 1 && n <= len(view.Options) {
			return events(flow.Answer(view.Options[n-1]))
		}
		return events(flow.Answer(trimmed))

	default:
		return events(flow.Answer(trimmed))
	}
}

// optionNumbers parses "1,3" or "1 3" into options. Every token must be an in-range
// option number.
func optionNumbers(text string, options []string) ([]string, bool) {
	tokens := strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
	if len(tokens) == 0 {
		return nil, false
	}
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		n, err := strconv.Atoi(tok)
		if err != nil || n < 1 || n > len(options) {
			return nil, false
		}
		out = append(out, options[n-1])
	}
	return out, true
}

func (in Input) String() string {
	if in.Notice != "" {
		return fmt.Sprintf("notice(%q)", in.Notice)
	}
	kinds := make([]string, len(in.Events))
	for i, ev := range in.Events {
		kinds[i] = ev.Kind.String()
	}
	return strings.Join(kinds, ",")
}
