package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputKindIsChoice(t *testing.T) {
	assert.True(t, InputKindSingleChoice.IsChoice())
	assert.True(t, InputKindMultiSelect.IsChoice())
	assert.True(t, InputKindYesNo.IsChoice())
	assert.False(t, InputKindText.IsChoice())
	assert.False(t, InputKindNumber.IsChoice())
}

func TestInboundIsCallback(t *testing.T) {
	assert.True(t, Inbound{Callback: "a:0:1"}.IsCallback())
	assert.False(t, Inbound{Text: "hello"}.IsCallback())
}

func TestQuestionViewIsSelected(t *testing.T) {
	v := QuestionView{Options: []string{"Coding", "Design"}, Selected: []string{"Design"}}
	assert.True(t, v.IsSelected("Design"))
	assert.False(t, v.IsSelected("Coding"))
}

func TestAPIResponseHelpers(t *testing.T) {
	data, err := json.Marshal(Success(map[string]int{"n": 1}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","result":{"n":1}}`, string(data))

	data, err = json.Marshal(Error("boom"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","message":"boom"}`, string(data))

	resp := NewAPIResponseBuilder().WithStatus(APIStatusOK).WithMessage("done").Build()
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "done", resp.Message)
	assert.Nil(t, resp.Result)
}
