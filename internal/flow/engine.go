package flow

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/FormPipe/internal/catalog"
	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/progress"
)

// Opts holds configuration options for the Engine.
type Opts struct {
	Messages Messages
}

// Option defines a configuration option for the Engine.
type Option func(*Opts)

// WithMessages replaces the default user-facing notices.
func WithMessages(m Messages) Option {
	return func(o *Opts) {
		o.Messages = m
	}
}

// Engine drives users through a catalog. It is safe for concurrent use as long as each
// State is handled by one goroutine at a time.
type Engine struct {
	catalog  *catalog.Catalog
	messages Messages
}

// NewEngine creates an Engine over cat.
func NewEngine(cat *catalog.Catalog, opts ...Option) *Engine {
	cfg := Opts{Messages: DefaultMessages()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{catalog: cat, messages: cfg.Messages}
}

// Catalog returns the catalog the engine walks.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// Handle applies ev to state and returns what to do next. state may be nil when the
// user has no active flow; only EventStart creates one.
func (e *Engine) Handle(state *progress.State, ev Event, now time.Time) Result {
	if ev.Kind == EventStart {
		return e.start(ev.Identity, now)
	}

	if state == nil || state.Status.IsTerminal() {
		slog.Debug("Engine ignoring event without active flow", "event", ev.Kind)
		return Result{Kind: ResultIgnored, State: state, Notice: e.messages.NoActiveFlow}
	}
	q, ok := e.catalog.At(state.Position)
	if !ok {
		slog.Warn("Engine found progress outside catalog", "userID", state.UserID, "position", state.Position, "questions", e.catalog.Len())
		return Result{Kind: ResultIgnored, State: state, Notice: e.messages.NoActiveFlow}
	}

	switch ev.Kind {
	case EventAnswer:
		return e.answer(state, q, ev.Value)
	case EventToggle:
		return e.toggle(state, q, ev.Value)
	case EventConfirm:
		return e.confirm(state, q)
	case EventBack:
		return e.back(state, q)
	default:
		slog.Error("Engine received unknown event", "event", ev.Kind, "userID", state.UserID)
		return Result{Kind: ResultIgnored, State: state, QuestionID: q.ID}
	}
}

func (e *Engine) start(identity models.Identity, now time.Time) Result {
	state := progress.NewState(identity, now)
	slog.Info("Engine flow started", "userID", state.UserID, "flowID", state.FlowID)
	q, _ := e.catalog.At(0)
	e.enter(state)
	view := e.View(state)
	return Result{Kind: ResultQuestion, State: state, View: &view, QuestionID: q.ID}
}

func (e *Engine) answer(state *progress.State, q catalog.Question, value string) Result {
	options := catalog.ResolveOptions(q, state.Answers)
	canonical, err := e.validate(q, options, value)
	if err != nil {
		var ineligible *ineligibleError
		if errors.As(err, &ineligible) {
			slog.Info("Engine flow ended by age gate", "userID", state.UserID, "questionID", q.ID, "minAge", ineligible.minAge)
			return Result{
				Kind:       ResultIneligible,
				State:      state,
				Notice:     fmt.Sprintf(e.messages.Ineligible, ineligible.minAge),
				QuestionID: q.ID,
			}
		}
		return e.reject(state, q, err)
	}
	return e.commit(state, q, progress.Answer{canonical})
}

func (e *Engine) toggle(state *progress.State, q catalog.Question, value string) Result {
	if _, ok := q.Kind.(catalog.MultiSelect); !ok {
		return e.reject(state, q, &ValidationError{QuestionID: q.ID, Value: value, Notice: e.messages.NotMultiSelect})
	}
	opt, ok := matchOption(catalog.ResolveOptions(q, state.Answers), value)
	if !ok {
		return e.reject(state, q, &ValidationError{QuestionID: q.ID, Value: value, Notice: e.messages.InvalidChoice})
	}
	state.Toggle(opt)
	slog.Debug("Engine toggled selection", "userID", state.UserID, "questionID", q.ID, "value", opt, "pending", state.Pending)

	view := e.View(state)
	view.Refresh = true
	return Result{Kind: ResultQuestion, State: state, View: &view, QuestionID: q.ID}
}

func (e *Engine) confirm(state *progress.State, q catalog.Question) Result {
	if _, ok := q.Kind.(catalog.MultiSelect); !ok {
		return e.reject(state, q, &ValidationError{QuestionID: q.ID, Notice: e.messages.NotMultiSelect})
	}
	selected := orderByOptions(catalog.ResolveOptions(q, state.Answers), state.Pending)
	if len(selected) == 0 {
		return e.reject(state, q, &ValidationError{QuestionID: q.ID, Notice: e.messages.EmptySelection})
	}
	state.Pending = nil
	return e.commit(state, q, progress.Answer(selected))
}

func (e *Engine) back(state *progress.State, q catalog.Question) Result {
	if state.Position == 0 {
		return e.reject(state, q, &ValidationError{QuestionID: q.ID, Notice: e.messages.FirstQuestion})
	}
	state.Position--
	state.Pending = nil
	e.enter(state)
	prev, _ := e.catalog.At(state.Position)
	slog.Debug("Engine went back", "userID", state.UserID, "from", q.ID, "to", prev.ID)

	view := e.View(state)
	return Result{Kind: ResultQuestion, State: state, View: &view, QuestionID: prev.ID}
}

// commit stores answer for q, then disqualifies, completes or advances.
func (e *Engine) commit(state *progress.State, q catalog.Question, answer progress.Answer) Result {
	state.Answers[q.ID] = answer

	for _, v := range answer {
		if q.IsDisqualifying(v) {
			state.Status = progress.StatusDisqualified
			slog.Info("Engine flow disqualified", "userID", state.UserID, "questionID", q.ID)
			return Result{Kind: ResultDisqualified, State: state, Notice: e.messages.Disqualified, QuestionID: q.ID}
		}
	}

	state.Position++
	if state.Position >= e.catalog.Len() {
		state.Position = e.catalog.Len()
		state.Status = progress.StatusCompleted
		slog.Info("Engine flow completed", "userID", state.UserID, "flowID", state.FlowID)
		return Result{Kind: ResultCompleted, State: state, QuestionID: q.ID}
	}

	e.enter(state)
	next, _ := e.catalog.At(state.Position)
	slog.Debug("Engine advanced", "userID", state.UserID, "from", q.ID, "to", next.ID, "position", state.Position)
	view := e.View(state)
	return Result{Kind: ResultQuestion, State: state, View: &view, QuestionID: next.ID}
}

func (e *Engine) reject(state *progress.State, q catalog.Question, err error) Result {
	var verr *ValidationError
	if !errors.As(err, &verr) {
		slog.Error("Engine validation failed unexpectedly", "error", err, "userID", state.UserID, "questionID", q.ID)
		verr = &ValidationError{QuestionID: q.ID, Notice: e.messages.InvalidChoice}
	}
	slog.Debug("Engine rejected answer", "userID", state.UserID, "questionID", q.ID, "notice", verr.Notice)
	view := e.View(state)
	return Result{Kind: ResultRejected, State: state, View: &view, Notice: verr.Notice, Err: verr, QuestionID: q.ID}
}

// enter prepares the pending buffer when landing on a question. A multi-select question
// answered before starts with that answer selected, limited to the current options.
func (e *Engine) enter(state *progress.State) {
	state.Pending = nil
	q, ok := e.catalog.At(state.Position)
	if !ok {
		return
	}
	if _, multi := q.Kind.(catalog.MultiSelect); !multi {
		return
	}
	if prev, answered := state.Answers[q.ID]; answered {
		state.Pending = orderByOptions(catalog.ResolveOptions(q, state.Answers), prev)
	}
}

// View builds the render instruction for the current question of state.
func (e *Engine) View(state *progress.State) models.QuestionView {
	q, ok := e.catalog.At(state.Position)
	if !ok {
		return models.QuestionView{Position: state.Position, Total: e.catalog.Len()}
	}
	view := models.QuestionView{
		Position:    state.Position,
		Total:       e.catalog.Len(),
		QuestionID:  q.ID,
		Prompt:      q.Prompt,
		Description: q.Description,
		Hint:        q.Hint(),
		Kind:        q.Kind.Name(),
		Options:     catalog.ResolveOptions(q, state.Answers),
		CanGoBack:   state.Position > 0,
	}
	if len(state.Pending) > 0 {
		view.Selected = append([]string(nil), state.Pending...)
	}
	return view
}
