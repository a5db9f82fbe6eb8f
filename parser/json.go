// Package parser handles JSON import/export for workflow net
// definition files, the format consumed by the CLI.
package parser

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/caseflow-xyz/go-caseflow/wfdata"
	"github.com/caseflow-xyz/go-caseflow/wfnet"
)

// Definition is the JSON document shape of one workflow net:
//
//	{
//	  "id": "order",
//	  "name": "Order fulfilment",
//	  "conditions": [
//	    {"id": "start", "kind": "input"},
//	    {"id": "end", "kind": "output"}
//	  ],
//	  "tasks": [
//	    {"id": "approve", "split": "XOR",
//	     "resourcing": {"roles": ["manager"]}}
//	  ],
//	  "flows": [
//	    {"source": "start", "target": "approve"},
//	    {"source": "approve", "target": "end",
//	     "predicate": {"key": "amount", "op": "lte", "value": 1000}}
//	  ]
//	}
type Definition struct {
	ID         string         `json:"id"`
	Name       string         `json:"name,omitempty"`
	Conditions []ConditionDef `json:"conditions"`
	Tasks      []TaskDef      `json:"tasks"`
	Flows      []FlowDef      `json:"flows"`
}

// ConditionDef declares one condition. Kind is "input", "output", or
// empty/"ordinary".
type ConditionDef struct {
	ID   string `json:"id"`
	Kind string `json:"kind,omitempty"`
	Name string `json:"name,omitempty"`
}

// TaskDef declares one task. Join and Split default to AND.
type TaskDef struct {
	ID            string            `json:"id"`
	Name          string            `json:"name,omitempty"`
	Join          string            `json:"join,omitempty"`
	Split         string            `json:"split,omitempty"`
	Decomposition *DecompositionDef `json:"decomposition,omitempty"`
	Resourcing    *ResourcingDef    `json:"resourcing,omitempty"`
	MultiInstance *MultiInstanceDef `json:"multi_instance,omitempty"`
	Timer         *TimerDef         `json:"timer,omitempty"`
}

// DecompositionDef selects the task variant: "subnet", "gateway",
// "manual", or "automated".
type DecompositionDef struct {
	Type        string `json:"type"`
	NetID       string `json:"net_id,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Operation   string `json:"operation,omitempty"`
	Description string `json:"description,omitempty"`
	Codelet     string `json:"codelet,omitempty"`
}

// ResourcingDef declares who may perform a task.
type ResourcingDef struct {
	Roles        []string `json:"roles,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// MultiInstanceDef configures instance spawning. Creation is "static"
// or "dynamic".
type MultiInstanceDef struct {
	Min             int    `json:"min"`
	Max             int    `json:"max"`
	Threshold       int    `json:"threshold,omitempty"`
	Creation        string `json:"creation,omitempty"`
	SplitExpression string `json:"split_expression,omitempty"`
	JoinExpression  string `json:"join_expression,omitempty"`
}

// TimerDef configures a task timer. Duration and Interval use Go
// duration syntax; Expiry is RFC 3339.
type TimerDef struct {
	Trigger   string `json:"trigger,omitempty"`
	Duration  string `json:"duration,omitempty"`
	Expiry    string `json:"expiry,omitempty"`
	Interval  string `json:"interval,omitempty"`
	LateBound string `json:"late_bound,omitempty"`
}

// FlowDef declares one arc. Predicate and Default only matter on arcs
// leaving XOR/OR splits.
type FlowDef struct {
	Source    string         `json:"source"`
	Target    string         `json:"target"`
	Predicate *PredicateExpr `json:"predicate,omitempty"`
	Default   bool           `json:"default,omitempty"`
}

// PredicateExpr is a single comparison against one case-data key.
// Supported ops: eq, ne, gt, gte, lt, lte, exists.
type PredicateExpr struct {
	Key   string `json:"key"`
	Op    string `json:"op"`
	Value any    `json:"value,omitempty"`
}

// Compile turns the expression into a routing predicate.
func (p *PredicateExpr) Compile() (wfnet.Predicate, error) {
	if p.Key == "" {
		return nil, fmt.Errorf("predicate missing key")
	}
	switch p.Op {
	case "exists":
		key := p.Key
		return func(data wfdata.Map) bool {
			_, ok := data[key]
			return ok
		}, nil
	case "eq", "ne":
		key, want, negate := p.Key, wfdata.FromAny(p.Value), p.Op == "ne"
		return func(data wfdata.Map) bool {
			got, ok := data[key]
			eq := ok && got.Canonical() == want.Canonical()
			return eq != negate
		}, nil
	case "gt", "gte", "lt", "lte":
		num, ok := p.Value.(float64)
		if !ok {
			if n, isInt := p.Value.(int); isInt {
				num, ok = float64(n), true
			}
		}
		if !ok {
			return nil, fmt.Errorf("predicate op %q needs a numeric value, got %T", p.Op, p.Value)
		}
		key, op := p.Key, p.Op
		return func(data wfdata.Map) bool {
			got := data.GetNumber(key)
			switch op {
			case "gt":
				return got > num
			case "gte":
				return got >= num
			case "lt":
				return got < num
			default:
				return got <= num
			}
		}, nil
	default:
		return nil, fmt.Errorf("unknown predicate op %q", p.Op)
	}
}

// ParseDefinition decodes a definition document without compiling it.
func ParseDefinition(data []byte) (*Definition, error) {
	var d Definition
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if d.ID == "" {
		return nil, fmt.Errorf("definition missing id")
	}
	return &d, nil
}

// Net compiles the definition into a workflow net. Structural
// validation is the caller's concern; only the document itself is
// checked here.
func (d *Definition) Net() (*wfnet.Net, error) {
	n := wfnet.NewNet(d.ID)
	n.Name = d.Name

	for _, cd := range d.Conditions {
		kind, err := conditionKind(cd.Kind)
		if err != nil {
			return nil, fmt.Errorf("condition %q: %w", cd.ID, err)
		}
		c := n.AddCondition(cd.ID, kind)
		c.Name = cd.Name
	}

	for _, td := range d.Tasks {
		task, err := td.task()
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", td.ID, err)
		}
		n.AddTask(task)
	}

	for _, fd := range d.Flows {
		f := n.AddFlow(fd.Source, fd.Target)
		f.IsDefault = fd.Default
		if fd.Predicate != nil {
			pred, err := fd.Predicate.Compile()
			if err != nil {
				return nil, fmt.Errorf("flow %s->%s: %w", fd.Source, fd.Target, err)
			}
			f.Predicate = pred
		}
	}

	return n, nil
}

// FromJSON decodes and compiles a definition in one step.
func FromJSON(data []byte) (*wfnet.Net, error) {
	d, err := ParseDefinition(data)
	if err != nil {
		return nil, err
	}
	return d.Net()
}

// ToJSON serializes a definition document.
func ToJSON(d *Definition) ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// Describe renders a compiled net back into a definition document.
// Predicates compiled from Go code have no expression form and are
// omitted; the default flag survives.
func Describe(n *wfnet.Net) *Definition {
	d := &Definition{ID: n.ID, Name: n.Name}

	for _, c := range n.Conditions {
		kind := ""
		if c.Kind != wfnet.ConditionOrdinary {
			kind = c.Kind.String()
		}
		d.Conditions = append(d.Conditions, ConditionDef{ID: c.ID, Kind: kind, Name: c.Name})
	}

	for _, t := range n.Tasks {
		td := TaskDef{ID: t.ID, Name: t.Name}
		if t.Join != wfnet.PolicyAND {
			td.Join = t.Join.String()
		}
		if t.Split != wfnet.PolicyAND {
			td.Split = t.Split.String()
		}
		td.Decomposition = describeDecomposition(t.Decomposition)
		if t.Resourcing != nil {
			td.Resourcing = &ResourcingDef{
				Roles:        t.Resourcing.Roles,
				Participants: t.Resourcing.Participants,
				Capabilities: t.Resourcing.Capabilities,
			}
		}
		if mi := t.MultiInstance; mi != nil {
			td.MultiInstance = &MultiInstanceDef{
				Min:             mi.Min,
				Max:             mi.Max,
				Threshold:       mi.Threshold,
				SplitExpression: mi.SplitExpression,
				JoinExpression:  mi.JoinExpression,
			}
			if mi.Creation == wfnet.CreationDynamic {
				td.MultiInstance.Creation = mi.Creation.String()
			}
		}
		if ts := t.Timer; ts != nil {
			td.Timer = &TimerDef{LateBound: ts.LateBound}
			if ts.Trigger == wfnet.TriggerOnStarted {
				td.Timer.Trigger = ts.Trigger.String()
			}
			if ts.Duration > 0 {
				td.Timer.Duration = ts.Duration.String()
			}
			if !ts.Expiry.IsZero() {
				td.Timer.Expiry = ts.Expiry.Format(time.RFC3339)
			}
			if ts.Interval > 0 {
				td.Timer.Interval = ts.Interval.String()
			}
		}
		d.Tasks = append(d.Tasks, td)
	}

	for _, f := range n.Flows {
		d.Flows = append(d.Flows, FlowDef{
			Source:  f.Source,
			Target:  f.Target,
			Default: f.IsDefault,
		})
	}

	return d
}

func conditionKind(s string) (wfnet.ConditionKind, error) {
	switch s {
	case "", "ordinary":
		return wfnet.ConditionOrdinary, nil
	case "input":
		return wfnet.ConditionInput, nil
	case "output":
		return wfnet.ConditionOutput, nil
	default:
		return 0, fmt.Errorf("unknown condition kind %q", s)
	}
}

func policy(s string) (wfnet.Policy, error) {
	switch s {
	case "", "AND":
		return wfnet.PolicyAND, nil
	case "XOR":
		return wfnet.PolicyXOR, nil
	case "OR":
		return wfnet.PolicyOR, nil
	default:
		return 0, fmt.Errorf("unknown policy %q", s)
	}
}

func (td *TaskDef) task() (*wfnet.Task, error) {
	join, err := policy(td.Join)
	if err != nil {
		return nil, fmt.Errorf("join: %w", err)
	}
	split, err := policy(td.Split)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}

	t := &wfnet.Task{ID: td.ID, Name: td.Name, Join: join, Split: split}

	if td.Decomposition != nil {
		t.Decomposition, err = td.Decomposition.decomposition()
		if err != nil {
			return nil, err
		}
	}
	if td.Resourcing != nil {
		t.Resourcing = &wfnet.Resourcing{
			Roles:        td.Resourcing.Roles,
			Participants: td.Resourcing.Participants,
			Capabilities: td.Resourcing.Capabilities,
		}
	}
	if td.MultiInstance != nil {
		mi := &wfnet.MultiInstance{
			Min:             td.MultiInstance.Min,
			Max:             td.MultiInstance.Max,
			Threshold:       td.MultiInstance.Threshold,
			SplitExpression: td.MultiInstance.SplitExpression,
			JoinExpression:  td.MultiInstance.JoinExpression,
		}
		switch td.MultiInstance.Creation {
		case "", "static":
			mi.Creation = wfnet.CreationStatic
		case "dynamic":
			mi.Creation = wfnet.CreationDynamic
		default:
			return nil, fmt.Errorf("unknown creation mode %q", td.MultiInstance.Creation)
		}
		t.MultiInstance = mi
	}
	if td.Timer != nil {
		t.Timer, err = td.Timer.spec()
		if err != nil {
			return nil, fmt.Errorf("timer: %w", err)
		}
	}

	return t, nil
}

func (dd *DecompositionDef) decomposition() (wfnet.Decomposition, error) {
	switch dd.Type {
	case "subnet":
		if dd.NetID == "" {
			return nil, fmt.Errorf("subnet decomposition missing net_id")
		}
		return &wfnet.NetDecomposition{NetID: dd.NetID}, nil
	case "gateway":
		return &wfnet.WebServiceGateway{Endpoint: dd.Endpoint, Operation: dd.Operation}, nil
	case "manual":
		return &wfnet.Manual{Description: dd.Description}, nil
	case "automated":
		return &wfnet.Automated{Codelet: dd.Codelet}, nil
	default:
		return nil, fmt.Errorf("unknown decomposition type %q", dd.Type)
	}
}

func describeDecomposition(d wfnet.Decomposition) *DecompositionDef {
	switch v := d.(type) {
	case *wfnet.NetDecomposition:
		return &DecompositionDef{Type: "subnet", NetID: v.NetID}
	case *wfnet.WebServiceGateway:
		return &DecompositionDef{Type: "gateway", Endpoint: v.Endpoint, Operation: v.Operation}
	case *wfnet.Manual:
		return &DecompositionDef{Type: "manual", Description: v.Description}
	case *wfnet.Automated:
		return &DecompositionDef{Type: "automated", Codelet: v.Codelet}
	default:
		return nil
	}
}

func (td *TimerDef) spec() (*wfnet.TimerSpec, error) {
	ts := &wfnet.TimerSpec{LateBound: td.LateBound}

	switch td.Trigger {
	case "", "on_enabled":
		ts.Trigger = wfnet.TriggerOnEnabled
	case "on_started":
		ts.Trigger = wfnet.TriggerOnStarted
	default:
		return nil, fmt.Errorf("unknown trigger %q", td.Trigger)
	}

	if td.Duration != "" {
		d, err := time.ParseDuration(td.Duration)
		if err != nil {
			return nil, fmt.Errorf("duration: %w", err)
		}
		ts.Duration = d
	}
	if td.Expiry != "" {
		t, err := time.Parse(time.RFC3339, td.Expiry)
		if err != nil {
			return nil, fmt.Errorf("expiry: %w", err)
		}
		ts.Expiry = t
	}
	if td.Interval != "" {
		d, err := time.ParseDuration(td.Interval)
		if err != nil {
			return nil, fmt.Errorf("interval: %w", err)
		}
		ts.Interval = d
	}

	return ts, nil
}
