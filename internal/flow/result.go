package flow

import (
	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/progress"
)

// ResultKind tells the caller what to do after an event.
type ResultKind int

const (
	// ResultQuestion: render View. State must be saved.
	ResultQuestion ResultKind = iota
	// ResultRejected: send Notice, then render View again. Position did not change.
	ResultRejected
	// ResultCompleted: the last question was answered. Format and submit the record,
	// then evict the state.
	ResultCompleted
	// ResultDisqualified: a disqualifying answer was given. Send Notice and evict the
	// state without submitting anything.
	ResultDisqualified
	// ResultIneligible: the age gate turned the user away. Send Notice and evict the
	// state without submitting anything.
	ResultIneligible
	// ResultIgnored: there is no flow to apply the event to. Send Notice if set.
	ResultIgnored
)

func (k ResultKind) String() string {
	switch k {
	case ResultQuestion:
		return "question"
	case ResultRejected:
		return "rejected"
	case ResultCompleted:
		return "completed"
	case ResultDisqualified:
		return "disqualified"
	case ResultIneligible:
		return "ineligible"
	case ResultIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the flow ended and its progress should be evicted.
func (k ResultKind) IsTerminal() bool {
	return k == ResultCompleted || k == ResultDisqualified || k == ResultIneligible
}

// Result is the outcome of Engine.Handle.
type Result struct {
	Kind ResultKind
	// State is the progress after the event. For EventStart it is a new State.
	State *progress.State
	// View is set for ResultQuestion and ResultRejected.
	View *models.QuestionView
	// Notice is a user-facing message to send before View.
	Notice string
	// Err is the *ValidationError behind a ResultRejected.
	Err error
	// QuestionID is the question the event was applied to, for logging.
	QuestionID string
}
