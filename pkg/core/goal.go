package core

// Goal is the unit of work submitted to an agent run. Text is opaque to the
// runtime; Params carry structured hints for the planner, including the
// prior-iteration digest during re-planning.
type Goal struct {
	Text   string
	Params map[string]any
}

// NewGoal builds a goal from free text.
func NewGoal(text string) Goal {
	return Goal{Text: text}
}

// WithParam returns a copy of the goal with one param set.
func (g Goal) WithParam(key string, value any) Goal {
	params := make(map[string]any, len(g.Params)+1)
	for k, v := range g.Params {
		params[k] = v
	}
	params[key] = value
	g.Params = params
	return g
}
