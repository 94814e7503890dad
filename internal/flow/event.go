// Package flow implements the questionnaire state machine.
//
// The Engine interprets one event at a time against a user's progress.State and the
// catalog, mutates the state and reports what the channel should show next. It performs
// no I/O: loading and saving progress, rendering and submitting records are left to the
// caller.
package flow

import (
	"fmt"

	"github.com/BTreeMap/FormPipe/internal/models"
)

// EventKind enumerates the inputs the engine understands.
type EventKind int

const (
	EventStart EventKind = iota
	EventAnswer
	EventToggle
	EventConfirm
	EventBack
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventAnswer:
		return "answer"
	case EventToggle:
		return "toggle"
	case EventConfirm:
		return "confirm"
	case EventBack:
		return "back"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a normalized user input.
type Event struct {
	Kind EventKind
	// Value carries the answer for EventAnswer and the option for EventToggle.
	Value string
	// Identity is used by EventStart to seed the new flow.
	Identity models.Identity
}

// Start begins a new flow, abandoning any previous one.
func Start(identity models.Identity) Event {
	return Event{Kind: EventStart, Identity: identity}
}

// Answer submits value for the current question.
func Answer(value string) Event {
	return Event{Kind: EventAnswer, Value: value}
}

// Toggle adds or removes value from the pending multi-select buffer.
func Toggle(value string) Event {
	return Event{Kind: EventToggle, Value: value}
}

// Confirm commits the pending multi-select buffer.
func Confirm() Event {
	return Event{Kind: EventConfirm}
}

// Back returns to the previous question.
func Back() Event {
	return Event{Kind: EventBack}
}
