// Package engine executes cases against workflow nets: it owns the
// specification and case registries, drives the token firing rule, and
// manages work-item lifecycles including deferred choice, multi-instance
// tasks, and composite-task subcases.
package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/caseflow-xyz/go-caseflow/marking"
	"github.com/caseflow-xyz/go-caseflow/soundness"
	"github.com/caseflow-xyz/go-caseflow/wfdata"
	"github.com/caseflow-xyz/go-caseflow/wfnet"
)

// Engine errors.
var (
	ErrSpecNotFound      = errors.New("specification not found")
	ErrSpecNotActive     = errors.New("specification not active")
	ErrSpecNotSound      = errors.New("specification failed soundness verification")
	ErrCaseNotFound      = errors.New("case not found")
	ErrWorkItemNotFound  = errors.New("work item not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotEligible       = errors.New("participant not eligible for task")
	ErrStaticInstances   = errors.New("task does not accept dynamic instances")
)

// SpecStatus is the lifecycle state of a loaded specification.
type SpecStatus string

const (
	SpecStatusLoaded SpecStatus = "loaded"
	SpecStatusActive SpecStatus = "active"
)

// Specification is a loaded workflow net plus its verification state.
// Cases can only be created from active specifications.
type Specification struct {
	Net      *wfnet.Net
	Status   SpecStatus
	LoadedAt time.Time
	// Report holds the soundness verdict computed at activation.
	Report *soundness.Report
}

// CaseStatus is the lifecycle state of a case.
type CaseStatus string

const (
	CaseStatusCreated   CaseStatus = "created"
	CaseStatusRunning   CaseStatus = "running"
	CaseStatusCompleted CaseStatus = "completed"
	CaseStatusCancelled CaseStatus = "cancelled"
)

// WorkItemStatus is the lifecycle state of a work item.
type WorkItemStatus string

const (
	WorkItemEnabled   WorkItemStatus = "enabled"
	WorkItemFired     WorkItemStatus = "fired"
	WorkItemExecuting WorkItemStatus = "executing"
	WorkItemCompleted WorkItemStatus = "completed"
	WorkItemCancelled WorkItemStatus = "cancelled"
	WorkItemFailed    WorkItemStatus = "failed"
)

// live reports whether the status still participates in the case.
func (s WorkItemStatus) live() bool {
	switch s {
	case WorkItemEnabled, WorkItemFired, WorkItemExecuting:
		return true
	}
	return false
}

// WorkItem is one offered or running unit of work.
type WorkItem struct {
	ID     string
	CaseID string
	TaskID string
	// InstanceID distinguishes siblings of a multi-instance task.
	InstanceID string
	Status     WorkItemStatus

	// ChoiceGroup is the condition id whose token this item competes
	// for; items sharing a group form a deferred choice.
	ChoiceGroup string

	AllocatedTo string

	EnabledAt   time.Time
	FiredAt     *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Input  wfdata.Map
	Output wfdata.Map
	Error  string
}

// Case is one running instance of a workflow net.
type Case struct {
	ID     string
	SpecID string
	Status CaseStatus

	// ParentCase and parentItem link a subcase back to the composite
	// work item that launched it.
	ParentCase string
	parentItem string

	Marking   marking.Marking
	Data      wfdata.Map
	WorkItems map[string]*WorkItem

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	// Tick counts engine mutations applied to this case.
	Tick uint64

	// LastError records the most recent firing failure.
	LastError string

	deadlocked bool
	net        *wfnet.Net
	bags       map[string]*instanceBag
	mu         sync.Mutex
}

// IsDeadlocked reports whether the case is stuck: running, no live work
// items, no enabled tasks, and not at the completed marking.
func (c *Case) IsDeadlocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadlocked
}

// LiveWorkItems returns the case's non-terminal work items.
func (c *Case) LiveWorkItems() []*WorkItem {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*WorkItem
	for _, item := range c.WorkItems {
		if item.Status.live() {
			out = append(out, item)
		}
	}
	return out
}

// instanceBag tracks the sibling instances of one multi-instance task
// enabling, keyed by instance id.
type instanceBag struct {
	taskID    string
	threshold int
	items     map[string]*WorkItem
	// spawned counts every instance ever created for this enabling and
	// doubles as the next instance number.
	spawned   int
	completed int
	done      bool
}

func newInstanceBag(taskID string, threshold int) *instanceBag {
	return &instanceBag{
		taskID:    taskID,
		threshold: threshold,
		items:     make(map[string]*WorkItem),
	}
}

func (b *instanceBag) add(item *WorkItem) {
	b.items[item.InstanceID] = item
}

func (b *instanceBag) remove(instanceID string) {
	delete(b.items, instanceID)
}

// completeOne counts one instance completion and reports whether the
// threshold has just been crossed.
func (b *instanceBag) completeOne() bool {
	b.completed++
	if !b.done && b.completed >= b.threshold {
		b.done = true
		return true
	}
	return false
}

// Participant is a registered resource the engine can allocate manual
// work items to.
type Participant struct {
	ID           string
	Roles        []string
	Capabilities []string
}

// Statistics is a point-in-time summary of engine state.
type Statistics struct {
	Status         string `json:"status"`
	SpecsLoaded    int    `json:"specs_loaded"`
	TotalCases     int    `json:"total_cases"`
	RunningCases   int    `json:"running_cases"`
	CompletedCases int    `json:"completed_cases"`
	CancelledCases int    `json:"cancelled_cases"`
	LiveWorkItems  int    `json:"live_work_items"`
}

// Event notification kinds delivered to listeners.
const (
	EventCaseCreated       = "case.created"
	EventCaseStarted       = "case.started"
	EventCaseCompleted     = "case.completed"
	EventCaseCancelled     = "case.cancelled"
	EventCaseDeadlocked    = "case.deadlocked"
	EventWorkItemEnabled   = "workitem.enabled"
	EventWorkItemFired     = "workitem.fired"
	EventWorkItemExecuting = "workitem.executing"
	EventWorkItemCompleted = "workitem.completed"
	EventWorkItemCancelled = "workitem.cancelled"
	EventWorkItemFailed    = "workitem.failed"
)

// Event is a lifecycle notification. Listeners must not mutate engine
// state from within the callback.
type Event struct {
	Kind       string
	CaseID     string
	SpecID     string
	WorkItemID string
	TaskID     string
	Tick       uint64
	Payload    wfdata.Map
}

// Listener receives engine lifecycle notifications.
type Listener func(Event)
