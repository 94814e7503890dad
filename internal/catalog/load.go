package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Format identifies the encoding of a catalog source.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// PreLoadHook runs before the catalog file is read, e.g. to back it up.
type PreLoadHook func(path string) error

// Opts holds configuration options for Load.
type Opts struct {
	PreLoad PreLoadHook
}

// Option defines a configuration option for Load.
type Option func(*Opts)

// WithPreLoadHook runs hook before the file is read. Hook failures are logged and do not
// prevent loading.
func WithPreLoadHook(hook PreLoadHook) Option {
	return func(o *Opts) {
		o.PreLoad = hook
	}
}

// rawQuestion mirrors one record of the source file.
type rawQuestion struct {
	ID            string              `mapstructure:"id"`
	Question      string              `mapstructure:"question"`
	Type          string              `mapstructure:"type"`
	Description   string              `mapstructure:"description"`
	Options       []string            `mapstructure:"options"`
	MinLength     *int                `mapstructure:"min_length"`
	Min           *int                `mapstructure:"min"`
	Max           *int                `mapstructure:"max"`
	MinAge        *int                `mapstructure:"min_age"`
	Dynamic       interface{}         `mapstructure:"dynamic"`
	DependsOn     string              `mapstructure:"depends_on"`
	RegionStates  map[string][]string `mapstructure:"region_states"`
	Fallback      []string            `mapstructure:"fallback"`
	Disqualifying []string            `mapstructure:"disqualifying"`
}

// rawDynamic is the object form of the "dynamic" field.
type rawDynamic struct {
	DependsOn string              `mapstructure:"depends_on"`
	Options   map[string][]string `mapstructure:"options"`
	Fallback  []string            `mapstructure:"fallback"`
}

type rawLink struct {
	Question string            `mapstructure:"question"`
	Values   []string          `mapstructure:"values"`
	Text     string            `mapstructure:"text"`
	ByValue  map[string]string `mapstructure:"by_value"`
}

// Load reads, decodes and validates the catalog at path. The format is chosen by file
// extension (.yaml/.yml for YAML, anything else JSON).
func Load(path string, opts ...Option) (*Catalog, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Catalog Load invoked", "path", path, "pre_load_hook", cfg.PreLoad != nil)

	if cfg.PreLoad != nil {
		if err := cfg.PreLoad(path); err != nil {
			slog.Warn("Catalog pre-load hook failed, continuing", "error", err, "path", path)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("Catalog Load read failed", "error", err, "path", path)
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}

	c, err := Parse(data, FormatFromPath(path))
	if err != nil {
		slog.Error("Catalog Load validation failed", "error", err, "path", path)
		return nil, err
	}
	slog.Info("Catalog loaded", "path", path, "questions", c.Len(), "link_rules", len(c.links))
	return c, nil
}

// FormatFromPath guesses the source format from the file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Parse decodes a catalog document. The document is either an object with a "quiz" list
// (and optional "links" list) or a bare list of question records.
func Parse(data []byte, format Format) (*Catalog, error) {
	var doc interface{}
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, &SchemaError{Index: -1, Reason: "malformed YAML", Cause: err}
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, &SchemaError{Index: -1, Reason: "malformed JSON", Cause: err}
		}
	}

	var records, links []interface{}
	switch d := doc.(type) {
	case map[string]interface{}:
		quiz, ok := d["quiz"].([]interface{})
		if !ok {
			return nil, &SchemaError{Index: -1, Reason: "document must have a 'quiz' list"}
		}
		records = quiz
		if raw, present := d["links"]; present && raw != nil {
			l, ok := raw.([]interface{})
			if !ok {
				return nil, &SchemaError{Index: -1, Reason: "'links' must be a list"}
			}
			links = l
		}
	case []interface{}:
		records = d
	default:
		return nil, &SchemaError{Index: -1, Reason: "document must be an object or a list"}
	}

	questions := make([]Question, 0, len(records))
	for i, rec := range records {
		q, err := decodeQuestion(i, rec)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}

	rules := make([]LinkRule, 0, len(links))
	for i, rec := range links {
		var rl rawLink
		if err := decode(rec, &rl); err != nil {
			return nil, &SchemaError{Index: -1, Reason: fmt.Sprintf("link rule %d is malformed", i), Cause: err}
		}
		rules = append(rules, LinkRule{
			QuestionID: rl.Question,
			Values:     rl.Values,
			Text:       rl.Text,
			ByValue:    rl.ByValue,
		})
	}

	return New(questions, rules)
}

func decodeQuestion(i int, rec interface{}) (Question, error) {
	if _, ok := rec.(map[string]interface{}); !ok {
		return Question{}, &SchemaError{Index: i, Reason: "record is not an object"}
	}
	var rq rawQuestion
	if err := decode(rec, &rq); err != nil {
		return Question{}, &SchemaError{Index: i, Reason: "record is malformed", Cause: err}
	}
	if rq.Type == "" {
		return Question{}, &SchemaError{Index: i, ID: rq.ID, Reason: "missing required field 'type'"}
	}

	kind, err := kindFromRaw(rq)
	if err != nil {
		return Question{}, &SchemaError{Index: i, ID: rq.ID, Reason: err.Error()}
	}
	dyn, err := dynamicFromRaw(rq)
	if err != nil {
		return Question{}, &SchemaError{Index: i, ID: rq.ID, Reason: err.Error()}
	}

	return Question{
		ID:            strings.TrimSpace(rq.ID),
		Prompt:        rq.Question,
		Description:   rq.Description,
		Kind:          kind,
		Dynamic:       dyn,
		Disqualifying: rq.Disqualifying,
	}, nil
}

func kindFromRaw(rq rawQuestion) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(rq.Type)) {
	case "text":
		k := Text{}
		if rq.MinLength != nil {
			k.MinLength = *rq.MinLength
		}
		return k, nil
	case "number":
		return Number{Min: rq.Min, Max: rq.Max, MinAge: rq.MinAge}, nil
	case "single_choice", "multiple_choice":
		return SingleChoice{Options: rq.Options}, nil
	case "multi_select", "multiple_select":
		return MultiSelect{Options: rq.Options}, nil
	case "yes_no":
		return YesNo{Options: rq.Options}, nil
	default:
		return nil, fmt.Errorf("unknown type %q", rq.Type)
	}
}

func dynamicFromRaw(rq rawQuestion) (*DynamicOptions, error) {
	switch d := rq.Dynamic.(type) {
	case nil:
		return nil, nil
	case bool:
		if !d {
			return nil, nil
		}
		// Legacy form: dynamic: true with sibling depends_on and region_states.
		return &DynamicOptions{
			DependsOn: rq.DependsOn,
			Table:     rq.RegionStates,
			Fallback:  fallbackOrDefault(rq.Fallback),
		}, nil
	case map[string]interface{}:
		var rd rawDynamic
		if err := decode(d, &rd); err != nil {
			return nil, fmt.Errorf("malformed dynamic options: %w", err)
		}
		table := rd.Options
		if table == nil {
			table = rq.RegionStates
		}
		return &DynamicOptions{
			DependsOn: rd.DependsOn,
			Table:     table,
			Fallback:  fallbackOrDefault(rd.Fallback),
		}, nil
	default:
		return nil, fmt.Errorf("field 'dynamic' must be a boolean or an object, got %T", rq.Dynamic)
	}
}

func fallbackOrDefault(f []string) []string {
	if len(f) == 0 {
		return []string{DefaultFallbackOption}
	}
	return f
}

func decode(input interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
