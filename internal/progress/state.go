// Package progress holds the per-user state of a questionnaire in flight and the stores
// that keep it between events.
package progress

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/FormPipe/internal/models"
)

// Status is the lifecycle state of a flow.
type Status string

const (
	StatusInProgress   Status = "in_progress"
	StatusCompleted    Status = "completed"
	StatusDisqualified Status = "disqualified"
)

// IsTerminal reports whether no further answers are accepted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDisqualified
}

// Answer is an ordered list of values. Scalar answers have exactly one element.
type Answer []string

// String returns the answer flattened with ", ".
func (a Answer) String() string {
	return strings.Join(a, ", ")
}

// Answers maps question ids to answers.
type Answers map[string]Answer

// Get returns the answer for id.
func (a Answers) Get(id string) ([]string, bool) {
	v, ok := a[id]
	if !ok {
		return nil, false
	}
	return []string(v), true
}

// State is the progress of one user through the catalog.
type State struct {
	// FlowID identifies this traversal. It is regenerated on every start and doubles as
	// the idempotency key of the submitted record.
	FlowID string `json:"flow_id"`
	// Channel names the transport the user arrived on. Together with UserID it forms the
	// storage key, so the same id on two channels keeps two flows.
	Channel  string          `json:"channel,omitempty"`
	UserID   string          `json:"user_id"`
	Identity models.Identity `json:"identity"`
	// Position is the index of the current question; Position == catalog length means done.
	Position  int       `json:"position"`
	Answers   Answers   `json:"answers"`
	Pending   []string  `json:"pending,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Status    Status    `json:"status"`
}

// NewState returns a fresh in-progress state at position 0.
func NewState(identity models.Identity, now time.Time) *State {
	return &State{
		FlowID:    uuid.NewString(),
		UserID:    identity.UserID,
		Identity:  identity,
		Position:  0,
		Answers:   make(Answers),
		StartedAt: now,
		Status:    StatusInProgress,
	}
}

// Key returns the storage key of userID on channel. An empty channel keys by user id alone.
func Key(channel, userID string) string {
	if channel == "" {
		return userID
	}
	return channel + ":" + userID
}

// Key returns the storage key of the state.
func (s *State) Key() string {
	return Key(s.Channel, s.UserID)
}

// IsPending reports whether value is in the multi-select buffer.
func (s *State) IsPending(value string) bool {
	for _, p := range s.Pending {
		if p == value {
			return true
		}
	}
	return false
}

// Toggle adds value to the multi-select buffer, or removes it when already present.
func (s *State) Toggle(value string) {
	for i, p := range s.Pending {
		if p == value {
			s.Pending = append(s.Pending[:i:i], s.Pending[i+1:]...)
			return
		}
	}
	s.Pending = append(s.Pending, value)
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.Answers = make(Answers, len(s.Answers))
	for k, v := range s.Answers {
		c.Answers[k] = append(Answer(nil), v...)
	}
	if s.Pending != nil {
		c.Pending = append([]string(nil), s.Pending...)
	}
	return &c
}
