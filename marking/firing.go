package marking

import (
	"fmt"
	"sort"

	"github.com/caseflow-xyz/go-caseflow/wfdata"
	"github.com/caseflow-xyz/go-caseflow/wfnet"
)

// FiringError reports a firing attempt that cannot complete, such as an
// XOR split whose predicates all evaluated false with no default flow.
// The firing is atomic: when an error is returned no tokens moved.
type FiringError struct {
	TaskID string
	Reason string
}

// Error implements the error interface.
func (e *FiringError) Error() string {
	return fmt.Sprintf("firing %s: %s", e.TaskID, e.Reason)
}

// Enabled reports whether the task's join-policy token requirements are
// satisfied in the given marking.
//
// The OR-join uses the "at least one marked preset" approximation. Full
// OR-join semantics would analyze whether empty presets can still
// receive tokens; that is a documented limitation, kept deliberately so
// firing behavior matches the reference semantics.
func Enabled(n *wfnet.Net, taskID string, m Marking) bool {
	t, ok := n.Tasks[taskID]
	if !ok {
		return false
	}
	presets := n.PresetConditions(taskID)
	if len(presets) == 0 {
		return false
	}

	switch t.Join {
	case wfnet.PolicyAND:
		for _, c := range presets {
			if m.Get(c) < 1 {
				return false
			}
		}
		return true
	default: // XOR and OR joins: at least one marked preset.
		for _, c := range presets {
			if m.Get(c) >= 1 {
				return true
			}
		}
		return false
	}
}

// EnabledTasks returns all tasks enabled in the marking, sorted for
// determinism.
func EnabledTasks(n *wfnet.Net, m Marking) []string {
	var enabled []string
	for id := range n.Tasks {
		if Enabled(n, id, m) {
			enabled = append(enabled, id)
		}
	}
	sort.Strings(enabled)
	return enabled
}

// Fire consumes preset tokens per the join policy and produces postset
// tokens per the split policy, returning the successor marking. The
// original marking is never mutated, so a returned error leaves no
// partial state.
func Fire(n *wfnet.Net, taskID string, m Marking, data wfdata.Map) (Marking, error) {
	t, ok := n.Tasks[taskID]
	if !ok {
		return nil, &FiringError{TaskID: taskID, Reason: "unknown task"}
	}
	targets, err := SplitTargets(n, t, data)
	if err != nil {
		return nil, err
	}
	return FireTo(n, taskID, m, targets)
}

// SplitTargets evaluates the task's split policy against case data and
// returns the conditions that receive a token. Predicates are evaluated
// in flow declaration order; the flow marked as default is the fallback
// when no predicate matches.
func SplitTargets(n *wfnet.Net, t *wfnet.Task, data wfdata.Map) ([]string, error) {
	flows := n.PostsetFlows(t.ID)
	if len(flows) == 0 {
		return nil, &FiringError{TaskID: t.ID, Reason: "no outgoing flow"}
	}

	switch t.Split {
	case wfnet.PolicyAND:
		targets := make([]string, 0, len(flows))
		for _, f := range flows {
			targets = append(targets, f.Target)
		}
		return targets, nil

	case wfnet.PolicyXOR:
		var fallback *wfnet.Flow
		for _, f := range flows {
			if f.IsDefault {
				fallback = f
				continue
			}
			if f.Predicate == nil || f.Predicate(data) {
				return []string{f.Target}, nil
			}
		}
		if fallback != nil {
			return []string{fallback.Target}, nil
		}
		return nil, &FiringError{TaskID: t.ID, Reason: "XOR split: no predicate matched and no default flow"}

	default: // OR split: every true predicate, at least one.
		var targets []string
		var fallback *wfnet.Flow
		for _, f := range flows {
			if f.IsDefault {
				fallback = f
				continue
			}
			if f.Predicate == nil || f.Predicate(data) {
				targets = append(targets, f.Target)
			}
		}
		if len(targets) == 0 && fallback != nil {
			targets = append(targets, fallback.Target)
		}
		if len(targets) == 0 {
			return nil, &FiringError{TaskID: t.ID, Reason: "OR split: no predicate matched and no default flow"}
		}
		return targets, nil
	}
}

// AllSplitAlternatives returns every set of postset conditions the task
// could produce to, ignoring predicate truth. The soundness verifier
// explores all alternatives since it has no case data.
func AllSplitAlternatives(n *wfnet.Net, t *wfnet.Task) [][]string {
	flows := n.PostsetFlows(t.ID)
	switch t.Split {
	case wfnet.PolicyAND:
		targets := make([]string, 0, len(flows))
		for _, f := range flows {
			targets = append(targets, f.Target)
		}
		return [][]string{targets}

	case wfnet.PolicyXOR:
		alts := make([][]string, 0, len(flows))
		for _, f := range flows {
			alts = append(alts, []string{f.Target})
		}
		return alts

	default:
		// OR split: the exact subset depends on data. Exploring every
		// nonempty subset explodes; singletons plus the full set cover
		// the marking extremes the soundness criteria care about.
		alts := make([][]string, 0, len(flows)+1)
		full := make([]string, 0, len(flows))
		for _, f := range flows {
			alts = append(alts, []string{f.Target})
			full = append(full, f.Target)
		}
		if len(full) > 1 {
			alts = append(alts, full)
		}
		return alts
	}
}

// FireTo consumes preset tokens per the join policy and produces one
// token to each of the given targets. It backs the soundness verifier,
// which enumerates split alternatives itself instead of evaluating
// predicates.
func FireTo(n *wfnet.Net, taskID string, m Marking, targets []string) (Marking, error) {
	t, ok := n.Tasks[taskID]
	if !ok {
		return nil, &FiringError{TaskID: taskID, Reason: "unknown task"}
	}
	if !Enabled(n, taskID, m) {
		return nil, &FiringError{TaskID: taskID, Reason: "not enabled"}
	}

	next := m.Copy()
	presets := n.PresetConditions(taskID)
	switch t.Join {
	case wfnet.PolicyAND:
		for _, c := range presets {
			next.Sub(c, 1)
		}
	default:
		consumed := false
		for _, c := range presets {
			if next.Get(c) < 1 {
				continue
			}
			next.Sub(c, 1)
			consumed = true
			if t.Join == wfnet.PolicyXOR {
				break
			}
		}
		if !consumed {
			return nil, &FiringError{TaskID: taskID, Reason: "no marked preset"}
		}
	}
	for _, c := range targets {
		next.Add(c, 1)
	}
	return next, nil
}
