package flow

import "fmt"

// Messages holds the user-facing notices produced by the engine.
type Messages struct {
	InvalidNumber  string
	InvalidChoice  string
	EmptyAnswer    string
	EmptySelection string
	FirstQuestion  string
	NotMultiSelect string
	UseConfirm     string
	NoActiveFlow   string
	Disqualified   string
	// RangeBetween, RangeAtLeast and RangeAtMost take the bounds as %d verbs.
	RangeBetween string
	RangeAtLeast string
	RangeAtMost  string
	// TooShort takes the minimum, current length and missing characters.
	TooShort string
	// Ineligible takes the minimum age.
	Ineligible string
}

// DefaultMessages returns the built-in English notices.
func DefaultMessages() Messages {
	return Messages{
		InvalidNumber:  "Please enter a valid number.",
		InvalidChoice:  "Please choose one of the listed options.",
		EmptyAnswer:    "Please type your answer.",
		EmptySelection: "Please select at least one option before confirming.",
		FirstQuestion:  "You are already at the first question.",
		NotMultiSelect: "This question takes a single answer.",
		UseConfirm:     "Select all that apply, then confirm.",
		NoActiveFlow:   "There is no questionnaire in progress. Send /quiz to start.",
		Disqualified:   "Thank you for your time. Based on your answers we are unable to continue.",
		RangeBetween:   "Please enter a number between %d and %d.",
		RangeAtLeast:   "Please enter a number of at least %d.",
		RangeAtMost:    "Please enter a number no greater than %d.",
		TooShort:       "Your response is too short. Please provide at least %d characters.\nCurrent length: %d characters (%d more needed).",
		Ineligible:     "Thank you for your interest. Unfortunately you must be at least %d years old to take part.",
	}
}

func (m Messages) rangeNotice(min, max *int) string {
	switch {
	case min != nil && max != nil:
		return fmt.Sprintf(m.RangeBetween, *min, *max)
	case min != nil:
		return fmt.Sprintf(m.RangeAtLeast, *min)
	default:
		return fmt.Sprintf(m.RangeAtMost, *max)
	}
}
