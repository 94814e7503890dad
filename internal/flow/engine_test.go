package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/FormPipe/internal/catalog"
	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/progress"
)

var (
	testIdentity = models.Identity{DisplayName: "Ada Lovelace", Handle: "ada", UserID: "42"}
	testNow      = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

func intPtr(v int) *int { return &v }

func mustCatalog(t *testing.T, questions ...catalog.Question) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(questions, nil)
	require.NoError(t, err)
	return c
}

// ageColorCatalog is the two-question example: a bounded age and a colour choice.
func ageColorCatalog(t *testing.T) *catalog.Catalog {
	return mustCatalog(t,
		catalog.Question{ID: "age", Prompt: "How old are you?", Kind: catalog.Number{Min: intPtr(13), Max: intPtr(120)}},
		catalog.Question{ID: "color", Prompt: "Favourite colour?", Kind: catalog.SingleChoice{Options: []string{"Red", "Blue"}}},
	)
}

func multiCatalog(t *testing.T) *catalog.Catalog {
	return mustCatalog(t,
		catalog.Question{ID: "name", Prompt: "Name?", Kind: catalog.Text{}},
		catalog.Question{ID: "skills", Prompt: "Skills?", Kind: catalog.MultiSelect{Options: []string{"A", "B", "C"}}},
		catalog.Question{ID: "done", Prompt: "Anything else?", Kind: catalog.Text{}},
	)
}

func start(t *testing.T, e *Engine) *progress.State {
	t.Helper()
	res := e.Handle(nil, Start(testIdentity), testNow)
	require.Equal(t, ResultQuestion, res.Kind)
	require.NotNil(t, res.State)
	return res.State
}

func TestEngine_ExampleScenario(t *testing.T) {
	e := NewEngine(ageColorCatalog(t))

	res := e.Handle(nil, Start(testIdentity), testNow)
	require.Equal(t, ResultQuestion, res.Kind)
	st := res.State
	assert.Equal(t, 0, st.Position)
	assert.Equal(t, "age", res.View.QuestionID)
	assert.False(t, res.View.CanGoBack)
	assert.Equal(t, "Please enter a number.", res.View.Hint)
	assert.Equal(t, 2, res.View.Total)

	res = e.Handle(st, Answer("15"), testNow)
	require.Equal(t, ResultQuestion, res.Kind)
	assert.Equal(t, 1, st.Position)
	assert.Equal(t, progress.Answers{"age": {"15"}}, st.Answers)
	assert.Equal(t, []string{"Red", "Blue"}, res.View.Options)
	assert.True(t, res.View.CanGoBack)

	res = e.Handle(st, Answer("Blue"), testNow)
	require.Equal(t, ResultCompleted, res.Kind)
	assert.Equal(t, progress.StatusCompleted, st.Status)
	assert.Equal(t, 2, st.Position)
	assert.Equal(t, progress.Answer{"Blue"}, st.Answers["color"])
}

func TestEngine_NumberRejections(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		notice string
	}{
		{"below range", "10", "Please enter a number between 13 and 120."},
		{"above range", "200", "Please enter a number between 13 and 120."},
		{"not a number", "fifteen", "Please enter a valid number."},
		{"decimal", "15.5", "Please enter a valid number."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(ageColorCatalog(t))
			st := start(t, e)

			res := e.Handle(st, Answer(tt.value), testNow)
			require.Equal(t, ResultRejected, res.Kind)
			assert.Equal(t, tt.notice, res.Notice)
			assert.Equal(t, 0, st.Position)
			assert.Empty(t, st.Answers)
			assert.Equal(t, progress.StatusInProgress, st.Status)
			require.NotNil(t, res.View)
			assert.Equal(t, "age", res.View.QuestionID)

			var verr *ValidationError
			require.ErrorAs(t, res.Err, &verr)
			assert.Equal(t, "age", verr.QuestionID)
		})
	}
}

func TestEngine_NumberCanonicalised(t *testing.T) {
	e := NewEngine(ageColorCatalog(t))
	st := start(t, e)
	e.Handle(st, Answer(" 015 "), testNow)
	assert.Equal(t, progress.Answer{"15"}, st.Answers["age"])
}

func TestEngine_AgeGateIsDistinctFromDisqualification(t *testing.T) {
	e := NewEngine(mustCatalog(t,
		catalog.Question{ID: "age", Prompt: "Age?", Kind: catalog.Number{Min: intPtr(0), Max: intPtr(120), MinAge: intPtr(18)}},
		catalog.Question{ID: "name", Prompt: "Name?", Kind: catalog.Text{}},
	))
	st := start(t, e)

	res := e.Handle(st, Answer("16"), testNow)
	require.Equal(t, ResultIneligible, res.Kind)
	assert.True(t, res.Kind.IsTerminal())
	assert.Contains(t, res.Notice, "18")
	assert.NotEqual(t, progress.StatusCompleted, st.Status)
	assert.NotEqual(t, progress.StatusDisqualified, st.Status)
	assert.Empty(t, st.Answers, "nothing is recorded for turned-away users")

	st = start(t, e)
	res = e.Handle(st, Answer("18"), testNow)
	require.Equal(t, ResultQuestion, res.Kind)
	assert.Equal(t, 1, st.Position)
}

func TestEngine_TextMinLength(t *testing.T) {
	e := NewEngine(mustCatalog(t,
		catalog.Question{ID: "why", Prompt: "Why?", Kind: catalog.Text{MinLength: 10}},
	))
	st := start(t, e)

	res := e.Handle(st, Answer("too short"), testNow)
	require.Equal(t, ResultRejected, res.Kind)
	assert.Contains(t, res.Notice, "at least 10 characters")
	assert.Contains(t, res.Notice, "Current length: 9 characters (1 more needed)")
	assert.Equal(t, 0, st.Position)

	res = e.Handle(st, Answer("   "), testNow)
	require.Equal(t, ResultRejected, res.Kind)
	assert.Equal(t, "Please type your answer.", res.Notice)

	res = e.Handle(st, Answer("long enough now"), testNow)
	require.Equal(t, ResultCompleted, res.Kind)
	assert.Equal(t, progress.Answer{"long enough now"}, st.Answers["why"])
}

func TestEngine_ChoiceIsRevalidatedAndCanonicalised(t *testing.T) {
	e := NewEngine(ageColorCatalog(t))
	st := start(t, e)
	e.Handle(st, Answer("20"), testNow)

	res := e.Handle(st, Answer("Green"), testNow)
	require.Equal(t, ResultRejected, res.Kind)
	assert.Equal(t, 1, st.Position)

	res = e.Handle(st, Answer("  blue "), testNow)
	require.Equal(t, ResultCompleted, res.Kind)
	assert.Equal(t, progress.Answer{"Blue"}, st.Answers["color"])
}

func TestEngine_MultiSelectExample(t *testing.T) {
	e := NewEngine(multiCatalog(t))
	st := start(t, e)
	e.Handle(st, Answer("Ada"), testNow)
	require.Equal(t, 1, st.Position)

	for _, v := range []string{"A", "B", "A"} {
		res := e.Handle(st, Toggle(v), testNow)
		require.Equal(t, ResultQuestion, res.Kind)
		assert.True(t, res.View.Refresh)
		assert.Equal(t, 1, st.Position, "toggling never advances")
	}
	assert.Equal(t, []string{"B"}, st.Pending)

	res := e.Handle(st, Confirm(), testNow)
	require.Equal(t, ResultQuestion, res.Kind)
	assert.Equal(t, progress.Answer{"B"}, st.Answers["skills"])
	assert.Empty(t, st.Pending)
	assert.Equal(t, 2, st.Position)
}

func TestEngine_ToggleTwiceIsIdentity(t *testing.T) {
	e := NewEngine(multiCatalog(t))
	st := start(t, e)
	e.Handle(st, Answer("Ada"), testNow)
	e.Handle(st, Toggle("C"), testNow)
	before := append([]string(nil), st.Pending...)

	for _, v := range []string{"A", "B", "C"} {
		e.Handle(st, Toggle(v), testNow)
		e.Handle(st, Toggle(v), testNow)
		assert.Equal(t, before, st.Pending, "toggling %s twice", v)
	}
}

func TestEngine_ConfirmOrdersByOptions(t *testing.T) {
	e := NewEngine(multiCatalog(t))
	st := start(t, e)
	e.Handle(st, Answer("Ada"), testNow)
	e.Handle(st, Toggle("c"), testNow)
	e.Handle(st, Toggle("A"), testNow)
	e.Handle(st, Confirm(), testNow)
	assert.Equal(t, progress.Answer{"A", "C"}, st.Answers["skills"])
}

func TestEngine_EmptyConfirmDoesNotMutate(t *testing.T) {
	e := NewEngine(multiCatalog(t))
	st := start(t, e)
	e.Handle(st, Answer("Ada"), testNow)
	answersBefore := st.Clone().Answers

	res := e.Handle(st, Confirm(), testNow)
	require.Equal(t, ResultRejected, res.Kind)
	assert.Equal(t, "Please select at least one option before confirming.", res.Notice)
	assert.Equal(t, 1, st.Position)
	assert.Equal(t, answersBefore, st.Answers)
}

func TestEngine_MultiSelectRejectsSingleAnswersAndUnknownOptions(t *testing.T) {
	e := NewEngine(multiCatalog(t))
	st := start(t, e)
	e.Handle(st, Answer("Ada"), testNow)

	res := e.Handle(st, Answer("A"), testNow)
	assert.Equal(t, ResultRejected, res.Kind)

	res = e.Handle(st, Toggle("Z"), testNow)
	assert.Equal(t, ResultRejected, res.Kind)
	assert.Empty(t, st.Pending)
}

func TestEngine_ToggleAndConfirmOnlyForMultiSelect(t *testing.T) {
	e := NewEngine(ageColorCatalog(t))
	st := start(t, e)

	assert.Equal(t, ResultRejected, e.Handle(st, Toggle("15"), testNow).Kind)
	assert.Equal(t, ResultRejected, e.Handle(st, Confirm(), testNow).Kind)
	assert.Equal(t, 0, st.Position)
}

func TestEngine_BackKeepsAnswerAndReanswerOverwrites(t *testing.T) {
	e := NewEngine(ageColorCatalog(t))
	st := start(t, e)

	res := e.Handle(st, Back(), testNow)
	require.Equal(t, ResultRejected, res.Kind, "cannot go back from the first question")
	assert.Equal(t, 0, st.Position)

	e.Handle(st, Answer("30"), testNow)
	res = e.Handle(st, Back(), testNow)
	require.Equal(t, ResultQuestion, res.Kind)
	assert.Equal(t, 0, st.Position)
	assert.Equal(t, progress.Answer{"30"}, st.Answers["age"], "going back keeps the answer")

	e.Handle(st, Answer("31"), testNow)
	assert.Equal(t, progress.Answer{"31"}, st.Answers["age"])
	assert.Equal(t, 1, st.Position)
}

func TestEngine_BackUpdatesDynamicOptions(t *testing.T) {
	e := NewEngine(mustCatalog(t,
		catalog.Question{ID: "state", Prompt: "State?", Kind: catalog.SingleChoice{Options: []string{"Texas", "Ohio", "Utah"}}},
		catalog.Question{ID: "city", Prompt: "City?", Kind: catalog.SingleChoice{Options: []string{"Other"}},
			Dynamic: &catalog.DynamicOptions{
				DependsOn: "state",
				Table: map[string][]string{
					"Texas": {"Austin", "Houston"},
					"Ohio":  {"Columbus"},
				},
				Fallback: []string{"Other"},
			}},
	))
	st := start(t, e)

	res := e.Handle(st, Answer("Texas"), testNow)
	assert.Equal(t, []string{"Austin", "Houston"}, res.View.Options)

	e.Handle(st, Back(), testNow)
	res = e.Handle(st, Answer("Ohio"), testNow)
	assert.Equal(t, []string{"Columbus"}, res.View.Options)

	res = e.Handle(st, Answer("Austin"), testNow)
	assert.Equal(t, ResultRejected, res.Kind, "options from the old dependency answer are gone")

	e.Handle(st, Back(), testNow)
	res = e.Handle(st, Answer("Utah"), testNow)
	assert.Equal(t, []string{"Other"}, res.View.Options)
}

func TestEngine_BackOntoMultiSelectRestoresSelection(t *testing.T) {
	e := NewEngine(multiCatalog(t))
	st := start(t, e)
	e.Handle(st, Answer("Ada"), testNow)
	e.Handle(st, Toggle("B"), testNow)
	e.Handle(st, Toggle("C"), testNow)
	e.Handle(st, Confirm(), testNow)

	res := e.Handle(st, Back(), testNow)
	require.Equal(t, ResultQuestion, res.Kind)
	assert.Equal(t, []string{"B", "C"}, res.View.Selected)

	e.Handle(st, Toggle("B"), testNow)
	e.Handle(st, Confirm(), testNow)
	assert.Equal(t, progress.Answer{"C"}, st.Answers["skills"])
}

func TestEngine_Disqualification(t *testing.T) {
	e := NewEngine(mustCatalog(t,
		catalog.Question{ID: "mission", Prompt: "Do you agree?", Kind: catalog.YesNo{}, Disqualifying: []string{"No"}},
		catalog.Question{ID: "skills", Prompt: "Skills?", Kind: catalog.MultiSelect{Options: []string{"A", "B"}}, Disqualifying: []string{"B"}},
		catalog.Question{ID: "name", Prompt: "Name?", Kind: catalog.Text{}},
	))

	st := start(t, e)
	res := e.Handle(st, Answer("no"), testNow)
	require.Equal(t, ResultDisqualified, res.Kind)
	assert.Equal(t, progress.StatusDisqualified, st.Status)
	assert.Equal(t, "mission", res.QuestionID)
	assert.NotEmpty(t, res.Notice)

	// Terminal flows accept nothing but a new start.
	res = e.Handle(st, Answer("Yes"), testNow)
	assert.Equal(t, ResultIgnored, res.Kind)
	assert.Equal(t, progress.StatusDisqualified, st.Status)

	st = start(t, e)
	e.Handle(st, Answer("Yes"), testNow)
	e.Handle(st, Toggle("A"), testNow)
	e.Handle(st, Toggle("B"), testNow)
	res = e.Handle(st, Confirm(), testNow)
	require.Equal(t, ResultDisqualified, res.Kind, "any disqualifying member of a multi-select answer")
}

func TestEngine_StartResetsMidFlow(t *testing.T) {
	e := NewEngine(ageColorCatalog(t))
	st := start(t, e)
	e.Handle(st, Answer("30"), testNow)

	res := e.Handle(st, Start(testIdentity), testNow.Add(time.Minute))
	require.Equal(t, ResultQuestion, res.Kind)
	assert.Equal(t, 0, res.State.Position)
	assert.Empty(t, res.State.Answers)
	assert.NotEqual(t, st.FlowID, res.State.FlowID)
	assert.Equal(t, testNow.Add(time.Minute), res.State.StartedAt)
}

func TestEngine_IgnoresEventsWithoutFlow(t *testing.T) {
	e := NewEngine(ageColorCatalog(t))
	for _, ev := range []Event{Answer("1"), Toggle("A"), Confirm(), Back()} {
		res := e.Handle(nil, ev, testNow)
		assert.Equal(t, ResultIgnored, res.Kind, ev.Kind.String())
		assert.NotEmpty(t, res.Notice)
	}
}

// Walking any catalog with valid answers ends completed with every question answered.
func TestEngine_LinearWalkCompletes(t *testing.T) {
	cat := mustCatalog(t,
		catalog.Question{ID: "name", Prompt: "Name?", Kind: catalog.Text{MinLength: 2}},
		catalog.Question{ID: "age", Prompt: "Age?", Kind: catalog.Number{MinAge: intPtr(13)}},
		catalog.Question{ID: "color", Prompt: "Colour?", Kind: catalog.SingleChoice{Options: []string{"Red"}}},
		catalog.Question{ID: "skills", Prompt: "Skills?", Kind: catalog.MultiSelect{Options: []string{"A", "B"}}},
		catalog.Question{ID: "ok", Prompt: "OK?", Kind: catalog.YesNo{}},
	)
	e := NewEngine(cat)
	st := start(t, e)

	events := []Event{Answer("Ada"), Answer("40"), Answer("Red"), Toggle("A"), Confirm(), Answer("Yes")}
	var res Result
	for _, ev := range events {
		res = e.Handle(st, ev, testNow)
	}
	require.Equal(t, ResultCompleted, res.Kind)
	assert.Equal(t, cat.Len(), st.Position)
	for _, q := range cat.Questions() {
		assert.Contains(t, st.Answers, q.ID)
	}
}

func TestEngine_CustomMessages(t *testing.T) {
	m := DefaultMessages()
	m.InvalidNumber = "Bitte eine Zahl eingeben."
	e := NewEngine(ageColorCatalog(t), WithMessages(m))
	st := start(t, e)
	res := e.Handle(st, Answer("x"), testNow)
	assert.Equal(t, "Bitte eine Zahl eingeben.", res.Notice)
}
