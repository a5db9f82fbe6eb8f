package wfnet

import (
	"fmt"
	"strings"
)

// StructuralError reports why a net definition is malformed. Nets with
// structural errors are rejected at load time and never reach the
// engine.
type StructuralError struct {
	NetID    string
	Problems []string
}

// Error implements the error interface.
func (e *StructuralError) Error() string {
	return fmt.Sprintf("net %s: %s", e.NetID, strings.Join(e.Problems, "; "))
}

// Validate checks the structural preconditions every loadable net must
// satisfy: exactly one input and one output condition, well-formed flow
// references, bipartite arcs, and at most one default flow per split.
func Validate(n *Net) error {
	var problems []string

	inputs, outputs := 0, 0
	for _, c := range n.Conditions {
		switch c.Kind {
		case ConditionInput:
			inputs++
		case ConditionOutput:
			outputs++
		}
	}
	if inputs != 1 {
		problems = append(problems, fmt.Sprintf("expected exactly one input condition, found %d", inputs))
	}
	if outputs != 1 {
		problems = append(problems, fmt.Sprintf("expected exactly one output condition, found %d", outputs))
	}

	for _, f := range n.Flows {
		_, srcCond := n.Conditions[f.Source]
		_, srcTask := n.Tasks[f.Source]
		_, tgtCond := n.Conditions[f.Target]
		_, tgtTask := n.Tasks[f.Target]

		if !srcCond && !srcTask {
			problems = append(problems, fmt.Sprintf("flow %s references unknown source %q", f.ID, f.Source))
			continue
		}
		if !tgtCond && !tgtTask {
			problems = append(problems, fmt.Sprintf("flow %s references unknown target %q", f.ID, f.Target))
			continue
		}
		if srcCond == tgtCond {
			problems = append(problems, fmt.Sprintf("flow %s must connect a condition and a task (%s -> %s)", f.ID, f.Source, f.Target))
		}
	}

	for id, t := range n.Tasks {
		if len(n.PresetFlows(id)) == 0 {
			problems = append(problems, fmt.Sprintf("task %s has no incoming flow", id))
		}
		if len(n.PostsetFlows(id)) == 0 {
			problems = append(problems, fmt.Sprintf("task %s has no outgoing flow", id))
		}

		if t.Split == PolicyXOR || t.Split == PolicyOR {
			defaults := 0
			for _, f := range n.PostsetFlows(id) {
				if f.IsDefault {
					defaults++
				}
			}
			if defaults > 1 {
				problems = append(problems, fmt.Sprintf("task %s has %d default flows, at most one allowed", id, defaults))
			}
		}

		if mi := t.MultiInstance; mi != nil {
			if mi.Max > 0 && mi.Min > mi.Max {
				problems = append(problems, fmt.Sprintf("task %s multi-instance min %d exceeds max %d", id, mi.Min, mi.Max))
			}
			if mi.Threshold > mi.Max && mi.Max > 0 {
				problems = append(problems, fmt.Sprintf("task %s multi-instance threshold %d exceeds max %d", id, mi.Threshold, mi.Max))
			}
		}
	}

	if len(problems) > 0 {
		return &StructuralError{NetID: n.ID, Problems: problems}
	}
	return nil
}
