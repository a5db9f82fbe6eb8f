// Package temporal layers time-centric features over case execution:
// linear-temporal-logic checks across the event history, and an
// orchestrator that captures execution ticks into the event store and
// answers time-travel and causal queries.
package temporal

import (
	"context"
	"fmt"
	"time"

	"github.com/caseflow-xyz/go-caseflow/eventstore"
)

// Predicate is a boolean property of a single event.
type Predicate func(*eventstore.WorkflowEvent) bool

// KindIs builds a predicate matching one event kind.
func KindIs(kind string) Predicate {
	return func(e *eventstore.WorkflowEvent) bool { return e.Kind == kind }
}

// Operator selects the temporal interpretation of a formula.
type Operator string

const (
	// OpAlways holds when every event satisfies Phi.
	OpAlways Operator = "ALWAYS"
	// OpEventually holds when some event satisfies Phi.
	OpEventually Operator = "EVENTUALLY"
	// OpUntil holds when Phi stays true until an event satisfies Psi.
	OpUntil Operator = "UNTIL"
	// OpNext checks Phi on the single event following AtSequence.
	OpNext Operator = "NEXT"
	// OpPrecedes holds when no KindB event occurs before a KindA event.
	OpPrecedes Operator = "PRECEDES"
)

// Formula is one temporal property: an operator plus one or two event
// predicates (or event kinds, for precedence checks).
type Formula struct {
	Operator Operator
	Phi      Predicate
	Psi      Predicate

	// KindA and KindB parameterize OpPrecedes.
	KindA string
	KindB string

	// AtSequence anchors OpNext.
	AtSequence uint64
}

// CheckResult is the outcome of evaluating a formula over a stream.
type CheckResult struct {
	Holds          bool
	ViolatingEvent string
	EventsChecked  int
	Explanation    string
}

// Check evaluates a formula over events in stream order. Scans exit as
// early as the operator's semantics allow.
func Check(f Formula, events []*eventstore.WorkflowEvent) CheckResult {
	switch f.Operator {
	case OpAlways:
		return checkAlways(f.Phi, events)
	case OpEventually:
		return checkEventually(f.Phi, events)
	case OpUntil:
		return checkUntil(f.Phi, f.Psi, events)
	case OpNext:
		return checkNext(f.Phi, f.AtSequence, events)
	case OpPrecedes:
		return checkPrecedes(f.KindA, f.KindB, events)
	default:
		return CheckResult{Explanation: fmt.Sprintf("unknown operator %q", f.Operator)}
	}
}

func checkAlways(phi Predicate, events []*eventstore.WorkflowEvent) CheckResult {
	r := CheckResult{Holds: true}
	for _, e := range events {
		r.EventsChecked++
		if !phi(e) {
			return CheckResult{
				EventsChecked:  r.EventsChecked,
				ViolatingEvent: e.ID,
				Explanation:    fmt.Sprintf("event %s (kind %s, seq %d) violates the invariant", e.ID, e.Kind, e.Sequence),
			}
		}
	}
	r.Explanation = fmt.Sprintf("all %d events satisfy the invariant", r.EventsChecked)
	return r
}

func checkEventually(phi Predicate, events []*eventstore.WorkflowEvent) CheckResult {
	r := CheckResult{}
	for _, e := range events {
		r.EventsChecked++
		if phi(e) {
			r.Holds = true
			r.Explanation = fmt.Sprintf("satisfied by event %s (kind %s, seq %d)", e.ID, e.Kind, e.Sequence)
			return r
		}
	}
	r.Explanation = fmt.Sprintf("no satisfying event in %d events", r.EventsChecked)
	return r
}

func checkUntil(phi, psi Predicate, events []*eventstore.WorkflowEvent) CheckResult {
	r := CheckResult{}
	for _, e := range events {
		r.EventsChecked++
		if psi(e) {
			r.Holds = true
			r.Explanation = fmt.Sprintf("release condition met at event %s (seq %d)", e.ID, e.Sequence)
			return r
		}
		if !phi(e) {
			r.ViolatingEvent = e.ID
			r.Explanation = fmt.Sprintf("event %s (seq %d) breaks the hold condition before release", e.ID, e.Sequence)
			return r
		}
	}
	r.Explanation = fmt.Sprintf("stream ended after %d events without the release condition", r.EventsChecked)
	return r
}

func checkNext(phi Predicate, atSequence uint64, events []*eventstore.WorkflowEvent) CheckResult {
	r := CheckResult{}
	for _, e := range events {
		if e.Sequence != atSequence+1 {
			continue
		}
		r.EventsChecked = 1
		if phi(e) {
			r.Holds = true
			r.Explanation = fmt.Sprintf("event %s at seq %d satisfies the property", e.ID, e.Sequence)
		} else {
			r.ViolatingEvent = e.ID
			r.Explanation = fmt.Sprintf("event %s at seq %d violates the property", e.ID, e.Sequence)
		}
		return r
	}
	r.Explanation = fmt.Sprintf("no event at sequence %d", atSequence+1)
	return r
}

func checkPrecedes(kindA, kindB string, events []*eventstore.WorkflowEvent) CheckResult {
	r := CheckResult{}
	seenA := false
	for _, e := range events {
		r.EventsChecked++
		if e.Kind == kindA {
			seenA = true
		}
		if e.Kind == kindB && !seenA {
			r.ViolatingEvent = e.ID
			r.Explanation = fmt.Sprintf("%s event %s (seq %d) occurred before any %s event", kindB, e.ID, e.Sequence, kindA)
			return r
		}
	}
	r.Holds = true
	r.Explanation = fmt.Sprintf("no %s event preceded %s across %d events", kindB, kindA, r.EventsChecked)
	return r
}

// Evaluator binds formulas to an event store and an optional workflow
// filter.
type Evaluator struct {
	store      eventstore.Store
	workflowID string
}

// NewEvaluator creates an evaluator over the whole store.
func NewEvaluator(store eventstore.Store) *Evaluator {
	return &Evaluator{store: store}
}

// ForWorkflow restricts evaluation to one workflow's events.
func (ev *Evaluator) ForWorkflow(workflowID string) *Evaluator {
	return &Evaluator{store: ev.store, workflowID: workflowID}
}

// Check replays the selected stream and evaluates the formula.
func (ev *Evaluator) Check(ctx context.Context, f Formula) (CheckResult, error) {
	events, err := ev.store.Replay(ctx, eventstore.ReplayOptions{WorkflowID: ev.workflowID})
	if err != nil {
		return CheckResult{}, fmt.Errorf("ltl check: %w", err)
	}
	return Check(f, events), nil
}

// TimedResult pairs a check outcome with how long it took, for
// SLA-style property audits.
type TimedResult struct {
	CheckResult
	Name    string
	Elapsed time.Duration
}

// Verify runs a named check against the store and times it.
func (ev *Evaluator) Verify(ctx context.Context, name string, f Formula) (TimedResult, error) {
	start := time.Now()
	result, err := ev.Check(ctx, f)
	if err != nil {
		return TimedResult{}, err
	}
	return TimedResult{CheckResult: result, Name: name, Elapsed: time.Since(start)}, nil
}
