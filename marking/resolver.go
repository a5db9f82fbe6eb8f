package marking

import (
	"math/rand"
	"sort"

	"github.com/caseflow-xyz/go-caseflow/wfnet"
)

// EnabledSet groups the tasks enabled by one marked condition. When the
// set holds more than one offered task, whichever the environment picks
// first wins the token: the deferred-choice pattern.
type EnabledSet struct {
	ConditionID string
	Tasks       []string
}

// Resolution is the outcome of applying the deferred-choice policy to
// one enabled set: either a single composite task selected to fire, or
// the atomic tasks offered for external selection.
type Resolution struct {
	ConditionID string
	// Composite is the task selected to fire immediately, or "" when
	// the set contains no composite task.
	Composite string
	// Offered lists the atomic tasks offered concurrently. More than
	// one offered task constitutes a deferred-choice point.
	Offered []string
}

// IsDeferredChoice reports whether the resolution offers a genuine
// environment-made choice.
func (r Resolution) IsDeferredChoice() bool {
	return r.Composite == "" && len(r.Offered) > 1
}

// EnabledSets groups the currently enabled tasks by each marked
// condition in their preset, sorted by condition id for determinism.
// This must be reevaluated after every firing, since a firing can
// change which tasks a condition enables.
func EnabledSets(n *wfnet.Net, m Marking) []EnabledSet {
	enabled := make(map[string]bool)
	for _, id := range EnabledTasks(n, m) {
		enabled[id] = true
	}

	byCondition := make(map[string][]string)
	for _, c := range m.MarkedConditions() {
		for _, taskID := range n.TasksEnabledBy(c) {
			if enabled[taskID] {
				byCondition[c] = append(byCondition[c], taskID)
			}
		}
	}

	conditions := make([]string, 0, len(byCondition))
	for c := range byCondition {
		conditions = append(conditions, c)
	}
	sort.Strings(conditions)

	sets := make([]EnabledSet, 0, len(conditions))
	for _, c := range conditions {
		tasks := byCondition[c]
		sort.Strings(tasks)
		sets = append(sets, EnabledSet{ConditionID: c, Tasks: tasks})
	}
	return sets
}

// Resolve applies the deferred-choice policy to every enabled set: a
// composite task in a set preempts the whole set (one chosen uniformly
// at random when several compete); otherwise all atomic tasks are
// offered to the environment. The random source is injected so engine
// behavior stays reproducible under a fixed seed.
func Resolve(n *wfnet.Net, m Marking, rng *rand.Rand) []Resolution {
	sets := EnabledSets(n, m)
	resolutions := make([]Resolution, 0, len(sets))

	for _, set := range sets {
		var composites []string
		for _, id := range set.Tasks {
			if t, ok := n.Tasks[id]; ok && t.IsComposite() {
				composites = append(composites, id)
			}
		}

		res := Resolution{ConditionID: set.ConditionID}
		if len(composites) > 0 {
			pick := 0
			if len(composites) > 1 && rng != nil {
				pick = rng.Intn(len(composites))
			}
			res.Composite = composites[pick]
		} else {
			res.Offered = set.Tasks
		}
		resolutions = append(resolutions, res)
	}

	return resolutions
}
