package soundness

import "github.com/caseflow-xyz/go-caseflow/marking"

// CoverabilityResult reports whether the net stayed within the node
// budget (bounded as far as explored) and the maximum token count
// observed in any single condition.
type CoverabilityResult struct {
	Bounded       bool `json:"bounded"`
	MaxTokens     int  `json:"max_tokens"`
	NodesExplored int  `json:"nodes_explored"`
	// Inconclusive is set when the budget ran out before the frontier
	// was exhausted: unboundedness cannot be ruled out.
	Inconclusive bool `json:"inconclusive"`
}

// Coverability explores the state space up to a node budget, tracking
// the largest token count seen in any single condition. A marking that
// strictly covers one of its ancestors proves unboundedness.
func (v *Verifier) Coverability(maxNodes int) *CoverabilityResult {
	result := &CoverabilityResult{Bounded: true}

	type node struct {
		m         marking.Marking
		ancestors []marking.Marking
	}

	initial := v.InitialMarking()
	visited := map[string]bool{initial.Hash(): true}
	queue := []node{{m: initial}}
	result.MaxTokens = initial.Max()

	for len(queue) > 0 && result.NodesExplored < maxNodes {
		current := queue[0]
		queue = queue[1:]
		result.NodesExplored++

		for _, taskID := range marking.EnabledTasks(v.net, current.m) {
			task := v.net.Tasks[taskID]
			for _, targets := range marking.AllSplitAlternatives(v.net, task) {
				next, err := marking.FireTo(v.net, taskID, current.m, targets)
				if err != nil {
					continue
				}

				if next.Max() > result.MaxTokens {
					result.MaxTokens = next.Max()
				}

				// A successor strictly covering an ancestor can pump
				// tokens forever.
				for _, anc := range current.ancestors {
					if covers(next, anc) && !next.Equals(anc) {
						result.Bounded = false
						return result
					}
				}
				if covers(next, current.m) && !next.Equals(current.m) {
					result.Bounded = false
					return result
				}

				hash := next.Hash()
				if visited[hash] {
					continue
				}
				visited[hash] = true

				ancestors := make([]marking.Marking, len(current.ancestors)+1)
				copy(ancestors, current.ancestors)
				ancestors[len(current.ancestors)] = current.m
				queue = append(queue, node{m: next, ancestors: ancestors})
			}
		}
	}

	if len(queue) > 0 {
		result.Inconclusive = true
	}
	return result
}

// covers reports m >= other componentwise.
func covers(m, other marking.Marking) bool {
	for k, v := range other {
		if m[k] < v {
			return false
		}
	}
	return true
}
