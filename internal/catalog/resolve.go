package catalog

// AnswerSource exposes previously given answers by question id.
type AnswerSource interface {
	Get(id string) ([]string, bool)
}

// ResolveOptions returns the options to show for q given the answers so far.
//
// For a question with dynamic options whose dependency has been answered, the table entry
// for that answer is returned, or the fallback when the answer has no entry. Otherwise the
// static options are returned. The result is computed on every call and must not be cached:
// going back and changing the dependency answer changes the options.
func ResolveOptions(q Question, answers AnswerSource) []string {
	if q.Dynamic != nil && answers != nil {
		if prior, ok := answers.Get(q.Dynamic.DependsOn); ok && len(prior) > 0 {
			if opts, found := q.Dynamic.Table[prior[0]]; found && len(opts) > 0 {
				return cloneStrings(opts)
			}
			return cloneStrings(q.Dynamic.Fallback)
		}
	}
	return cloneStrings(q.StaticOptions())
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
