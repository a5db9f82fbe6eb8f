package soundness

import "github.com/caseflow-xyz/go-caseflow/marking"

// ShortestSequence finds a shortest firing sequence from the initial
// marking to the final marking, useful for generating happy-path test
// cases. Returns nil when the final marking is unreachable within the
// marking budget.
func (v *Verifier) ShortestSequence() []string {
	output := v.net.OutputCondition()
	if output == nil {
		return nil
	}

	type item struct {
		m    marking.Marking
		path []string
	}

	initial := v.InitialMarking()
	visited := map[string]bool{initial.Hash(): true}
	queue := []item{{m: initial}}

	for len(queue) > 0 && len(visited) <= v.maxMarkings {
		current := queue[0]
		queue = queue[1:]

		if current.m.IsFinal(output.ID) {
			return current.path
		}

		for _, taskID := range marking.EnabledTasks(v.net, current.m) {
			task := v.net.Tasks[taskID]
			for _, targets := range marking.AllSplitAlternatives(v.net, task) {
				next, err := marking.FireTo(v.net, taskID, current.m, targets)
				if err != nil {
					continue
				}
				hash := next.Hash()
				if visited[hash] {
					continue
				}
				visited[hash] = true

				path := make([]string, len(current.path)+1)
				copy(path, current.path)
				path[len(current.path)] = taskID
				queue = append(queue, item{m: next, path: path})
			}
		}
	}

	return nil
}

// CanTaskFire performs a targeted search for a firing sequence that
// enables the given task, confirming or refuting a suspected dead
// transition. Returns the witnessing sequence ending with the task.
func (v *Verifier) CanTaskFire(taskID string) (bool, []string) {
	if _, ok := v.net.Tasks[taskID]; !ok {
		return false, nil
	}

	type item struct {
		m    marking.Marking
		path []string
	}

	initial := v.InitialMarking()
	visited := map[string]bool{initial.Hash(): true}
	queue := []item{{m: initial}}

	for len(queue) > 0 && len(visited) <= v.maxMarkings*2 {
		current := queue[0]
		queue = queue[1:]

		if marking.Enabled(v.net, taskID, current.m) {
			return true, append(current.path, taskID)
		}

		for _, id := range marking.EnabledTasks(v.net, current.m) {
			task := v.net.Tasks[id]
			for _, targets := range marking.AllSplitAlternatives(v.net, task) {
				next, err := marking.FireTo(v.net, id, current.m, targets)
				if err != nil {
					continue
				}
				hash := next.Hash()
				if visited[hash] {
					continue
				}
				visited[hash] = true

				path := make([]string, len(current.path)+1)
				copy(path, current.path)
				path[len(current.path)] = id
				queue = append(queue, item{m: next, path: path})
			}
		}
	}

	return false, nil
}
