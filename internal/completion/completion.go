// Package completion turns a finished flow into the record submitted to sinks and the
// summary shown to the user.
package completion

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BTreeMap/FormPipe/internal/catalog"
	"github.com/BTreeMap/FormPipe/internal/progress"
)

// TimestampFormat is the layout of the timestamp column.
const TimestampFormat = "2006-01-02 15:04:05"

// IdentityColumns lead every record, before the per-question answers.
var IdentityColumns = []string{"Display Name", "Username", "User ID", "Timestamp"}

// Record is one flattened submission.
type Record struct {
	// SubmissionID is the flow id; sinks that support it use it to drop duplicates.
	SubmissionID string
	UserID       string
	// Fields are aligned with Header: identity, timestamp, then answers in catalog order.
	Fields []string
}

// Header returns the column names matching Record.Fields for cat.
func Header(cat *catalog.Catalog) []string {
	qs := cat.Questions()
	out := make([]string, 0, len(IdentityColumns)+len(qs))
	out = append(out, IdentityColumns...)
	for _, q := range qs {
		out = append(out, q.Prompt)
	}
	return out
}

// Format flattens state into a record and builds the completion summary.
func Format(state *progress.State, cat *catalog.Catalog, now time.Time) (Record, string) {
	qs := cat.Questions()
	fields := make([]string, 0, len(IdentityColumns)+len(qs))
	fields = append(fields,
		state.Identity.DisplayName,
		state.Identity.Handle,
		state.Identity.UserID,
		now.Format(TimestampFormat),
	)
	for _, q := range qs {
		// Missing answers become empty cells so columns stay aligned.
		fields = append(fields, state.Answers[q.ID].String())
	}

	rec := Record{
		SubmissionID: state.FlowID,
		UserID:       state.UserID,
		Fields:       fields,
	}
	return rec, Summary(state, cat, now)
}

// Summary builds the message sent after a successful submission: a thank-you, the
// answers, any matching link lines and the time taken.
func Summary(state *progress.State, cat *catalog.Catalog, now time.Time) string {
	var sb strings.Builder
	sb.WriteString("Thank you for completing the questionnaire! Your responses have been saved.\n")

	sb.WriteString("\nYour answers:\n")
	for _, q := range cat.Questions() {
		if a, ok := state.Answers[q.ID]; ok {
			fmt.Fprintf(&sb, "%s: %s\n", q.Prompt, a.String())
		}
	}

	if lines := Links(cat.Links(), state.Answers); len(lines) > 0 {
		sb.WriteString("\nYou may find these useful:\n")
		for _, l := range lines {
			sb.WriteString(l)
			sb.WriteString("\n")
		}
	}

	if !state.StartedAt.IsZero() {
		fmt.Fprintf(&sb, "\nCompleted in %s.", FormatDuration(now.Sub(state.StartedAt)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Links evaluates the rule table against answers and returns the matching lines in rule
// order without duplicates.
func Links(rules []catalog.LinkRule, answers progress.Answers) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(line string) {
		if line != "" && !seen[line] {
			seen[line] = true
			out = append(out, line)
		}
	}

	for _, r := range rules {
		answer := answers[r.QuestionID]
		if len(answer) == 0 {
			continue
		}
		for _, v := range answer {
			if line, ok := lookup(r.ByValue, v); ok {
				add(line)
			}
		}
		if r.Text != "" && matches(r.Values, answer) {
			add(r.Text)
		}
	}
	return out
}

// lookup finds the line for value in table, ignoring case and surrounding space the way
// trigger values are matched. An exact key wins over a case-folded one.
func lookup(table map[string]string, value string) (string, bool) {
	if line, ok := table[value]; ok {
		return line, true
	}
	value = strings.TrimSpace(value)
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.EqualFold(strings.TrimSpace(k), value) {
			return table[k], true
		}
	}
	return "", false
}

// matches reports whether any answer value is a trigger. No triggers match any answer.
func matches(triggers []string, answer progress.Answer) bool {
	if len(triggers) == 0 {
		return true
	}
	for _, v := range answer {
		for _, t := range triggers {
			if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(t)) {
				return true
			}
		}
	}
	return false
}

// FormatDuration renders d as "1m 5s" style text, truncated to seconds.
func FormatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Second {
		return "under a second"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
