package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/FormPipe/internal/models"
)

const sampleJSON = `{
  "quiz": [
    {"id": "age", "question": "How old are you?", "type": "number", "min": 13, "max": 120},
    {"id": "state", "question": "Which state do you live in?", "type": "multiple_choice",
     "options": ["Texas", "Ohio"]},
    {"id": "city", "question": "Closest city?", "type": "multiple_choice", "options": ["Other"],
     "dynamic": true, "depends_on": "state",
     "region_states": {"Texas": ["Austin", "Houston"]}},
    {"id": "skills", "question": "Skills?", "type": "multiple_select",
     "options": ["Writing", "Design", "Outreach"]},
    {"id": "mission", "question": "Do you agree with the mission?", "type": "yes_no",
     "disqualifying": ["No"]},
    {"id": "why", "question": "Why join?", "type": "text", "min_length": 10,
     "description": "A sentence or two."}
  ],
  "links": [
    {"question": "state", "by_value": {"Texas": "Texas chapter: https://example.org/tx"}},
    {"question": "skills", "values": ["Design"], "text": "Design team: https://example.org/design"}
  ]
}`

type answers map[string][]string

func (a answers) Get(id string) ([]string, bool) {
	v, ok := a[id]
	return v, ok
}

func TestParse_JSON(t *testing.T) {
	c, err := Parse([]byte(sampleJSON), FormatJSON)
	require.NoError(t, err)
	require.Equal(t, 6, c.Len())

	ids := make([]string, 0, c.Len())
	for _, q := range c.Questions() {
		ids = append(ids, q.ID)
	}
	assert.Equal(t, []string{"age", "state", "city", "skills", "mission", "why"}, ids, "load order is presentation order")

	age, _ := c.At(0)
	num, ok := age.Kind.(Number)
	require.True(t, ok)
	require.NotNil(t, num.Min)
	require.NotNil(t, num.Max)
	assert.Equal(t, 13, *num.Min)
	assert.Equal(t, 120, *num.Max)
	assert.Nil(t, num.MinAge)

	city, _ := c.At(2)
	require.NotNil(t, city.Dynamic)
	assert.Equal(t, "state", city.Dynamic.DependsOn)
	assert.Equal(t, []string{DefaultFallbackOption}, city.Dynamic.Fallback)

	mission, _ := c.At(4)
	assert.Equal(t, models.InputKindYesNo, mission.Kind.Name())
	assert.Equal(t, []string{"Yes", "No"}, mission.StaticOptions())
	assert.True(t, mission.IsDisqualifying("no"))

	why, _ := c.At(5)
	assert.Equal(t, Text{MinLength: 10}, why.Kind)
	assert.Equal(t, "A sentence or two.", why.Description)

	assert.Len(t, c.Links(), 2)
}

func TestParse_YAMLWithDynamicObject(t *testing.T) {
	doc := `
quiz:
  - id: region
    question: Region?
    type: single_choice
    options: [North, South]
  - id: chapter
    question: Chapter?
    type: single_choice
    options: [Remote]
    dynamic:
      depends_on: region
      options:
        North: [Boston, Chicago]
      fallback: [Remote]
`
	c, err := Parse([]byte(doc), FormatYAML)
	require.NoError(t, err)

	chapter, _ := c.At(1)
	require.NotNil(t, chapter.Dynamic)
	assert.Equal(t, []string{"Boston", "Chicago"}, chapter.Dynamic.Table["North"])
	assert.Equal(t, []string{"Remote"}, chapter.Dynamic.Fallback)
}

func TestParse_BareList(t *testing.T) {
	c, err := Parse([]byte(`[{"id":"name","question":"Name?","type":"text"}]`), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestParse_SchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not a quiz object", `{"questions": []}`},
		{"empty quiz", `{"quiz": []}`},
		{"missing id", `{"quiz": [{"question": "Q", "type": "text"}]}`},
		{"missing question", `{"quiz": [{"id": "a", "type": "text"}]}`},
		{"missing type", `{"quiz": [{"id": "a", "question": "Q"}]}`},
		{"unknown type", `{"quiz": [{"id": "a", "question": "Q", "type": "slider"}]}`},
		{"choice without options", `{"quiz": [{"id": "a", "question": "Q", "type": "multiple_choice"}]}`},
		{"multi-select with empty options", `{"quiz": [{"id": "a", "question": "Q", "type": "multiple_select", "options": []}]}`},
		{"duplicate ids", `{"quiz": [{"id": "a", "question": "Q", "type": "text"}, {"id": "a", "question": "R", "type": "text"}]}`},
		{"reserved id", `{"quiz": [{"id": "user_id", "question": "Q", "type": "text"}]}`},
		{"min above max", `{"quiz": [{"id": "a", "question": "Q", "type": "number", "min": 5, "max": 1}]}`},
		{"dynamic on later question", `{"quiz": [
			{"id": "a", "question": "Q", "type": "single_choice", "options": ["x"], "dynamic": {"depends_on": "b"}},
			{"id": "b", "question": "R", "type": "single_choice", "options": ["y"]}]}`},
		{"dynamic on text", `{"quiz": [
			{"id": "b", "question": "R", "type": "single_choice", "options": ["y"]},
			{"id": "a", "question": "Q", "type": "text", "dynamic": {"depends_on": "b"}}]}`},
		{"link to unknown question", `{"quiz": [{"id": "a", "question": "Q", "type": "text"}], "links": [{"question": "zzz", "text": "t"}]}`},
		{"malformed json", `{"quiz": [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), FormatJSON)
			require.Error(t, err)
			var schemaErr *SchemaError
			assert.True(t, errors.As(err, &schemaErr), "expected SchemaError, got %T", err)
		})
	}
}

func TestResolveOptions(t *testing.T) {
	c, err := Parse([]byte(sampleJSON), FormatJSON)
	require.NoError(t, err)
	city, _ := c.At(2)

	assert.Equal(t, []string{"Other"}, ResolveOptions(city, answers{}), "static options before dependency is answered")
	assert.Equal(t, []string{"Austin", "Houston"}, ResolveOptions(city, answers{"state": {"Texas"}}))
	assert.Equal(t, []string{DefaultFallbackOption}, ResolveOptions(city, answers{"state": {"Ohio"}}))

	// Resolution never writes back into the catalog.
	resolved := ResolveOptions(city, answers{"state": {"Texas"}})
	resolved[0] = "Mutated"
	again, _ := c.At(2)
	assert.Equal(t, []string{"Austin", "Houston"}, ResolveOptions(again, answers{"state": {"Texas"}}))
	assert.Equal(t, []string{"Other"}, again.StaticOptions())
}

func TestLoad_RunsPreLoadHookAndDetectsFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "questions.yaml")
	require.NoError(t, os.WriteFile(path, []byte("quiz:\n  - {id: a, question: Q, type: text}\n"), 0644))

	var hooked string
	c, err := Load(path, WithPreLoadHook(func(p string) error {
		hooked = p
		return errors.New("backup disk full")
	}))
	require.NoError(t, err, "hook failures must not abort loading")
	assert.Equal(t, path, hooked)
	assert.Equal(t, 1, c.Len())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestBackupFileAndLatestBackup(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "questions.json")
	require.NoError(t, os.WriteFile(src, []byte(sampleJSON), 0644))
	backups := filepath.Join(dir, ".history")

	first, err := BackupFile(backups, src, time.Date(2025, 2, 14, 15, 34, 40, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(backups, "questions_20250214153440.json"), first)

	second, err := BackupFile(backups, src, time.Date(2025, 2, 15, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(second, later, later))

	latest, err := LatestBackup(backups, src)
	require.NoError(t, err)
	assert.Equal(t, second, latest)

	data, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, sampleJSON, string(data))

	missing, err := BackupFile(backups, filepath.Join(dir, "absent.json"), time.Now())
	require.NoError(t, err)
	assert.Empty(t, missing)
}
