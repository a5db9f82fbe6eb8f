// Package wfnet implements the static workflow net model.
// A workflow net is a Petri net specialization: Conditions (places) hold
// tokens, Tasks (transitions) consume and produce them along Flows
// (directed arcs), and exactly one input and one output condition frame
// the case lifecycle.
package wfnet

import (
	"fmt"

	"github.com/caseflow-xyz/go-caseflow/wfdata"
)

// ConditionKind distinguishes the framing conditions from ordinary ones.
type ConditionKind int

const (
	ConditionOrdinary ConditionKind = iota
	ConditionInput
	ConditionOutput
)

// String returns the kind name.
func (k ConditionKind) String() string {
	switch k {
	case ConditionInput:
		return "input"
	case ConditionOutput:
		return "output"
	default:
		return "ordinary"
	}
}

// Condition represents a place in the workflow net.
type Condition struct {
	ID   string
	Kind ConditionKind
	Name string // Optional display name
}

// Policy selects the join or split behavior of a task.
type Policy int

const (
	PolicyAND Policy = iota
	PolicyXOR
	PolicyOR
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyXOR:
		return "XOR"
	case PolicyOR:
		return "OR"
	default:
		return "AND"
	}
}

// Predicate evaluates routing conditions against case data.
type Predicate func(data wfdata.Map) bool

// Flow is a directed arc between a condition and a task (either
// direction). Predicate and IsDefault only matter on task-to-condition
// arcs leaving XOR/OR splits.
type Flow struct {
	ID        string
	Source    string
	Target    string
	Predicate Predicate
	IsDefault bool
}

// Task represents a transition in the workflow net.
type Task struct {
	ID            string
	Name          string
	Join          Policy
	Split         Policy
	Decomposition Decomposition  // nil for an empty task
	Resourcing    *Resourcing    // nil means system task
	MultiInstance *MultiInstance // nil for single-instance tasks
	Timer         *TimerSpec     // nil when no timer is configured
}

// IsComposite reports whether the task decomposes to a sub-net.
func (t *Task) IsComposite() bool {
	_, ok := t.Decomposition.(*NetDecomposition)
	return ok
}

// RequiresAllocation reports whether the task needs an external
// participant before it can execute.
func (t *Task) RequiresAllocation() bool {
	return t.Resourcing != nil && !t.Resourcing.IsSystem()
}

// Net is a complete workflow net definition.
type Net struct {
	ID         string
	Name       string
	Conditions map[string]*Condition
	Tasks      map[string]*Task
	Flows      []*Flow
}

// NewNet creates an empty workflow net.
func NewNet(id string) *Net {
	return &Net{
		ID:         id,
		Conditions: make(map[string]*Condition),
		Tasks:      make(map[string]*Task),
		Flows:      make([]*Flow, 0),
	}
}

// AddCondition adds a condition to the net.
func (n *Net) AddCondition(id string, kind ConditionKind) *Condition {
	c := &Condition{ID: id, Kind: kind}
	n.Conditions[id] = c
	return c
}

// AddTask adds a task to the net.
func (n *Net) AddTask(t *Task) *Task {
	n.Tasks[t.ID] = t
	return t
}

// AddFlow adds a directed arc to the net and assigns it a flow id.
func (n *Net) AddFlow(source, target string) *Flow {
	f := &Flow{
		ID:     fmt.Sprintf("f%d", len(n.Flows)+1),
		Source: source,
		Target: target,
	}
	n.Flows = append(n.Flows, f)
	return f
}

// InputCondition returns the unique input condition, or nil.
func (n *Net) InputCondition() *Condition {
	for _, c := range n.Conditions {
		if c.Kind == ConditionInput {
			return c
		}
	}
	return nil
}

// OutputCondition returns the unique output condition, or nil.
func (n *Net) OutputCondition() *Condition {
	for _, c := range n.Conditions {
		if c.Kind == ConditionOutput {
			return c
		}
	}
	return nil
}

// PresetFlows returns all flows entering the given task, in declaration
// order.
func (n *Net) PresetFlows(taskID string) []*Flow {
	var result []*Flow
	for _, f := range n.Flows {
		if f.Target == taskID {
			result = append(result, f)
		}
	}
	return result
}

// PostsetFlows returns all flows leaving the given task, in declaration
// order. Declaration order is significant: XOR splits evaluate
// predicates in this order.
func (n *Net) PostsetFlows(taskID string) []*Flow {
	var result []*Flow
	for _, f := range n.Flows {
		if f.Source == taskID {
			result = append(result, f)
		}
	}
	return result
}

// PresetConditions returns the ids of conditions feeding the task.
func (n *Net) PresetConditions(taskID string) []string {
	flows := n.PresetFlows(taskID)
	result := make([]string, 0, len(flows))
	for _, f := range flows {
		result = append(result, f.Source)
	}
	return result
}

// PostsetConditions returns the ids of conditions fed by the task.
func (n *Net) PostsetConditions(taskID string) []string {
	flows := n.PostsetFlows(taskID)
	result := make([]string, 0, len(flows))
	for _, f := range flows {
		result = append(result, f.Target)
	}
	return result
}

// TasksEnabledBy returns the ids of tasks that have the given condition
// in their preset.
func (n *Net) TasksEnabledBy(conditionID string) []string {
	var result []string
	for _, f := range n.Flows {
		if f.Source == conditionID {
			if _, ok := n.Tasks[f.Target]; ok {
				result = append(result, f.Target)
			}
		}
	}
	return result
}
