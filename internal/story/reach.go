package story

// ReachableSteps returns every step reachable from initial_step through
// transitions, the initial step included.
func ReachableSteps(sc *Scenario) map[string]bool {
	reached := make(map[string]bool)
	if sc.StepIndex(sc.InitialStep) < 0 {
		return reached
	}

	queue := []string{sc.InitialStep}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if reached[current] {
			continue
		}
		reached[current] = true

		idx := sc.StepIndex(current)
		if idx < 0 {
			continue
		}
		for _, tr := range sc.Steps[idx].Transitions {
			if !reached[tr.TargetStepID] {
				queue = append(queue, tr.TargetStepID)
			}
		}
	}
	return reached
}

// UnreachableSteps lists, in step order, the steps no path from
// initial_step leads to. They are legal but usually an authoring slip.
func UnreachableSteps(sc *Scenario) []string {
	reached := ReachableSteps(sc)
	var out []string
	for _, st := range sc.Steps {
		if !reached[st.StepID] {
			out = append(out, st.StepID)
		}
	}
	return out
}
