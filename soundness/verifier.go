// Package soundness implements the classical workflow-soundness check:
// from the initial marking (one token on the input condition) every
// reachable marking can still complete, completion is proper (no token
// left behind), and no task is dead. The verifier explores the full
// reachability graph breadth-first, bounded by a marking budget so
// unbounded nets terminate with an inconclusive report instead of
// spinning.
package soundness

import (
	"fmt"
	"sort"

	"github.com/caseflow-xyz/go-caseflow/marking"
	"github.com/caseflow-xyz/go-caseflow/wfnet"
)

// ViolationKind classifies soundness violations.
type ViolationKind string

const (
	ViolationStructural         ViolationKind = "structural"
	ViolationDeadlock           ViolationKind = "deadlock"
	ViolationImproperCompletion ViolationKind = "improper_completion"
	ViolationUnreachableSink    ViolationKind = "unreachable_sink"
	ViolationDeadTransition     ViolationKind = "dead_transition"
)

// Violation is one reason a net is unsound.
type Violation struct {
	Kind    ViolationKind `json:"kind"`
	Message string        `json:"message"`
}

// ExplorationStats provides insight into the state-space exploration.
type ExplorationStats struct {
	MarkingsExplored int     `json:"markings_explored"`
	MarkingsLimit    int     `json:"markings_limit"`
	QueueMaxSize     int     `json:"queue_max_size"`
	BranchingFactor  float64 `json:"branching_factor"`
}

// Report is the verifier's verdict plus diagnostics.
type Report struct {
	NetID             string      `json:"net_id"`
	IsSound           bool        `json:"is_sound"`
	Violations        []Violation `json:"violations"`
	Messages          []string    `json:"messages"`
	ReachableMarkings int         `json:"reachable_markings"`
	DeadTransitions   []string    `json:"dead_transitions"`
	DeadlockMarkings  int         `json:"deadlock_markings"`

	// Inconclusive is set when exploration hit the marking budget:
	// soundness can be neither claimed nor denied beyond the explored
	// frontier.
	Inconclusive bool             `json:"inconclusive"`
	Stats        ExplorationStats `json:"stats"`
}

// Verifier performs soundness analysis over an immutable net snapshot.
// It holds no shared mutable state, so verifiers for different nets are
// safely parallelizable.
type Verifier struct {
	net         *wfnet.Net
	maxMarkings int
}

// NewVerifier creates a verifier with a default marking budget.
func NewVerifier(net *wfnet.Net) *Verifier {
	return &Verifier{net: net, maxMarkings: 10000}
}

// WithMaxMarkings sets the maximum number of markings to explore.
func (v *Verifier) WithMaxMarkings(max int) *Verifier {
	v.maxMarkings = max
	return v
}

// InitialMarking returns the canonical start state: one token on the
// input condition, every other condition empty.
func (v *Verifier) InitialMarking() marking.Marking {
	m := make(marking.Marking, len(v.net.Conditions))
	for id := range v.net.Conditions {
		m[id] = 0
	}
	if in := v.net.InputCondition(); in != nil {
		m[in.ID] = 1
	}
	return m
}

// Verify runs the full analysis and returns the report.
func (v *Verifier) Verify() *Report {
	report := &Report{
		NetID: v.net.ID,
		Stats: ExplorationStats{MarkingsLimit: v.maxMarkings},
	}

	// Structural preconditions first: reachability analysis is
	// meaningless without the framing conditions.
	if err := wfnet.Validate(v.net); err != nil {
		report.addViolation(ViolationStructural, err.Error())
		return report
	}

	output := v.net.OutputCondition()

	initial := v.InitialMarking()
	visited := map[string]marking.Marking{initial.Hash(): initial}
	queue := []marking.Marking{initial}
	fired := make(map[string]bool)

	finalSeen := false
	deadlocks := 0
	maxQueue := 1
	totalEnabled := 0
	markingsWithEnabled := 0

	for len(queue) > 0 && len(visited) <= v.maxMarkings {
		current := queue[0]
		queue = queue[1:]

		enabled := marking.EnabledTasks(v.net, current)
		isFinal := current.IsFinal(output.ID)

		if isFinal {
			finalSeen = true
		}

		if !isFinal && current.Get(output.ID) > 0 {
			report.addViolation(ViolationImproperCompletion,
				fmt.Sprintf("improper completion at marking {%s}: output condition marked while other work remains", current))
		}

		if len(enabled) == 0 {
			if !isFinal {
				deadlocks++
				report.addViolation(ViolationDeadlock,
					fmt.Sprintf("deadlock at marking {%s}: no enabled task and not the final marking", current))
			}
			continue
		}

		totalEnabled += len(enabled)
		markingsWithEnabled++

		for _, taskID := range enabled {
			task := v.net.Tasks[taskID]
			for _, targets := range marking.AllSplitAlternatives(v.net, task) {
				next, err := marking.FireTo(v.net, taskID, current, targets)
				if err != nil {
					continue
				}
				fired[taskID] = true

				hash := next.Hash()
				if _, seen := visited[hash]; !seen {
					visited[hash] = next
					queue = append(queue, next)
					if len(queue) > maxQueue {
						maxQueue = len(queue)
					}
				}
			}
		}
	}

	if len(queue) > 0 {
		report.Inconclusive = true
		report.Messages = append(report.Messages,
			fmt.Sprintf("exploration stopped at the %d-marking budget; soundness is inconclusive beyond the explored frontier", v.maxMarkings))
	}

	if !finalSeen && !report.Inconclusive {
		report.addViolation(ViolationUnreachableSink,
			fmt.Sprintf("the final marking (single token at %s) is unreachable", output.ID))
	}

	for id := range v.net.Tasks {
		if !fired[id] {
			report.DeadTransitions = append(report.DeadTransitions, id)
			if !report.Inconclusive {
				report.addViolation(ViolationDeadTransition,
					fmt.Sprintf("task %s never fires in any reachable marking", id))
			}
		}
	}
	sort.Strings(report.DeadTransitions)

	report.ReachableMarkings = len(visited)
	report.DeadlockMarkings = deadlocks
	report.Stats.MarkingsExplored = len(visited)
	report.Stats.QueueMaxSize = maxQueue
	if markingsWithEnabled > 0 {
		report.Stats.BranchingFactor = float64(totalEnabled) / float64(markingsWithEnabled)
	}

	report.IsSound = len(report.Violations) == 0 && !report.Inconclusive
	return report
}

func (r *Report) addViolation(kind ViolationKind, message string) {
	r.Violations = append(r.Violations, Violation{Kind: kind, Message: message})
	r.Messages = append(r.Messages, message)
}
