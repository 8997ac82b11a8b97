package gate

// evalContext is the accumulator threaded through the three evaluation
// stages. Rules never write onto the Input; everything a later stage
// needs lives here.
type evalContext struct {
	input   Input
	results []RuleResult
}

func newEvalContext(in Input) *evalContext {
	return &evalContext{input: in, results: make([]RuleResult, 0, 16)}
}

func (c *evalContext) add(r RuleResult) {
	c.results = append(c.results, r)
}

// cautionCount counts caution outcomes across all recorded results.
// Typed outcome, not reason-text scanning: wording changes must never
// change the completeness verdict.
func (c *evalContext) cautionCount() int {
	n := 0
	for _, r := range c.results {
		if r.Outcome == PassWithCaution {
			n++
		}
	}
	return n
}

func (c *evalContext) totalPenalty() int {
	n := 0
	for _, r := range c.results {
		n += r.Penalty
	}
	return n
}

func (c *evalContext) allPassed() bool {
	for _, r := range c.results {
		if !r.Passed() {
			return false
		}
	}
	return true
}
