package engine

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caseflow-xyz/go-caseflow/marking"
	"github.com/caseflow-xyz/go-caseflow/soundness"
	"github.com/caseflow-xyz/go-caseflow/wfdata"
	"github.com/caseflow-xyz/go-caseflow/wfnet"
)

// Engine executes cases and manages their lifecycle.
type Engine struct {
	// mu guards the spec and case registries only; listeners and
	// participants have their own locks so paths holding a case lock
	// never wait on registry writers.
	mu    sync.RWMutex
	specs map[string]*Specification
	cases map[string]*Case

	partMu       sync.RWMutex
	participants map[string]*Participant

	listMu    sync.RWMutex
	listeners []Listener

	log zerolog.Logger
	now func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewEngine creates an engine with no loaded specifications.
func NewEngine() *Engine {
	return &Engine{
		specs:        make(map[string]*Specification),
		cases:        make(map[string]*Case),
		participants: make(map[string]*Participant),
		log:          zerolog.Nop(),
		now:          time.Now,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithLogger sets the structured logger.
func (e *Engine) WithLogger(log zerolog.Logger) *Engine {
	e.log = log
	return e
}

// WithTimeSource sets a custom time source (useful for testing).
func (e *Engine) WithTimeSource(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithRand sets the random source used to resolve races between
// composite tasks (useful for deterministic tests).
func (e *Engine) WithRand(rng *rand.Rand) *Engine {
	e.rng = rng
	return e
}

// AddEventListener registers a lifecycle notification callback.
// Listeners must not mutate engine state from within the callback.
func (e *Engine) AddEventListener(l Listener) *Engine {
	e.listMu.Lock()
	defer e.listMu.Unlock()
	e.listeners = append(e.listeners, l)
	return e
}

// RegisterParticipant adds a resource the engine may allocate manual
// work items to.
func (e *Engine) RegisterParticipant(id string, roles, capabilities []string) {
	e.partMu.Lock()
	defer e.partMu.Unlock()
	e.participants[id] = &Participant{ID: id, Roles: roles, Capabilities: capabilities}
}

// emit delivers a notification to all listeners. Called with the
// owning case's lock held so "fire, then capture" is atomic to other
// readers.
func (e *Engine) emit(ev Event) {
	e.listMu.RLock()
	listeners := e.listeners
	e.listMu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}

// resolve runs the deferred-choice resolver under the shared random
// source's lock.
func (e *Engine) resolve(n *wfnet.Net, m marking.Marking) []marking.Resolution {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return marking.Resolve(n, m, e.rng)
}

// LoadSpecification validates a net structurally and registers it in
// loaded state. Structural errors are rejected here and never reach
// case execution.
func (e *Engine) LoadSpecification(n *wfnet.Net) error {
	if err := wfnet.Validate(n); err != nil {
		return fmt.Errorf("load specification %s: %w", n.ID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.specs[n.ID] = &Specification{
		Net:      n,
		Status:   SpecStatusLoaded,
		LoadedAt: e.now(),
	}
	e.log.Debug().Str("spec", n.ID).Msg("specification loaded")
	return nil
}

// ActivateSpecification verifies soundness and marks the specification
// active. Unsound or inconclusive nets are rejected.
func (e *Engine) ActivateSpecification(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	spec, ok := e.specs[id]
	if !ok {
		return fmt.Errorf("activate %s: %w", id, ErrSpecNotFound)
	}

	report := soundness.NewVerifier(spec.Net).Verify()
	spec.Report = report
	if !report.IsSound {
		reasons := strings.Join(report.Messages, "; ")
		if report.Inconclusive {
			reasons = "verification inconclusive within exploration budget"
		}
		return fmt.Errorf("activate %s: %w: %s", id, ErrSpecNotSound, reasons)
	}

	spec.Status = SpecStatusActive
	e.log.Debug().Str("spec", id).Msg("specification activated")
	return nil
}

// GetSpecification returns a loaded specification by net id.
func (e *Engine) GetSpecification(id string) (*Specification, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	spec, ok := e.specs[id]
	if !ok {
		return nil, fmt.Errorf("specification %s: %w", id, ErrSpecNotFound)
	}
	return spec, nil
}

// CreateCase instantiates a case from an active specification. The
// case starts in created state with one token on the input condition.
func (e *Engine) CreateCase(specID string, input wfdata.Map) (*Case, error) {
	return e.createCase(specID, input, "", "")
}

func (e *Engine) createCase(specID string, input wfdata.Map, parentCase, parentItem string) (*Case, error) {
	e.mu.Lock()
	spec, ok := e.specs[specID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("create case from %s: %w", specID, ErrSpecNotFound)
	}
	if spec.Status != SpecStatusActive {
		e.mu.Unlock()
		return nil, fmt.Errorf("create case from %s: %w", specID, ErrSpecNotActive)
	}

	n := spec.Net
	m := marking.Marking{}
	if in := n.InputCondition(); in != nil {
		m.Add(in.ID, 1)
	}

	data := input.Copy()
	if data == nil {
		data = wfdata.Map{}
	}

	c := &Case{
		ID:         uuid.New().String(),
		SpecID:     specID,
		Status:     CaseStatusCreated,
		ParentCase: parentCase,
		parentItem: parentItem,
		Marking:    m,
		Data:       data,
		WorkItems:  make(map[string]*WorkItem),
		CreatedAt:  e.now(),
		net:        n,
		bags:       make(map[string]*instanceBag),
	}
	e.cases[c.ID] = c
	e.mu.Unlock()

	e.log.Debug().Str("case", c.ID).Str("spec", specID).Msg("case created")
	e.emit(Event{Kind: EventCaseCreated, CaseID: c.ID, SpecID: specID, Payload: c.Data})
	return c, nil
}

// StartCase moves a created case to running and offers the initial
// enabled-transition set as work items.
func (e *Engine) StartCase(caseID string) (*Case, error) {
	c, err := e.getCase(caseID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.Status != CaseStatusCreated {
		c.mu.Unlock()
		return nil, fmt.Errorf("start case %s in %s: %w", caseID, c.Status, ErrInvalidTransition)
	}

	now := e.now()
	c.Status = CaseStatusRunning
	c.StartedAt = &now
	c.Tick++
	e.emit(Event{Kind: EventCaseStarted, CaseID: c.ID, SpecID: c.SpecID, Tick: c.Tick})

	followups := e.syncWorkItems(c)
	followups = append(followups, e.checkProgress(c)...)
	c.mu.Unlock()

	e.run(followups)
	return c, nil
}

// StartWorkItem allocates an enabled work item to a participant and
// fires it: the task's input tokens are consumed and deferred-choice
// siblings are withdrawn.
func (e *Engine) StartWorkItem(caseID, itemID, participant string) error {
	c, err := e.getCase(caseID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	item, ok := c.WorkItems[itemID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("work item %s in case %s: %w", itemID, caseID, ErrWorkItemNotFound)
	}
	if item.Status != WorkItemEnabled {
		c.mu.Unlock()
		return fmt.Errorf("start work item %s in %s: %w", itemID, item.Status, ErrInvalidTransition)
	}

	task := c.net.Tasks[item.TaskID]
	if task.RequiresAllocation() {
		if err := e.checkEligibility(task, participant); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	item.AllocatedTo = participant

	followups, err := e.fireWorkItem(c, item)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	e.run(followups)
	return nil
}

// checkEligibility matches a participant against a task's resourcing
// requirements.
func (e *Engine) checkEligibility(task *wfnet.Task, participant string) error {
	e.partMu.RLock()
	p, ok := e.participants[participant]
	e.partMu.RUnlock()

	if !ok {
		return fmt.Errorf("participant %s: %w", participant, ErrNotEligible)
	}
	if !task.Resourcing.Accepts(p.ID, p.Roles, p.Capabilities) {
		return fmt.Errorf("participant %s for task %s: %w", participant, task.ID, ErrNotEligible)
	}
	return nil
}

// CompleteWorkItem finishes an executing work item: output data merges
// into case data, the task's split produces tokens, and the resolver
// re-runs to offer the next enabled set. Completing an unknown item or
// one not in executing state is rejected with no state change.
func (e *Engine) CompleteWorkItem(caseID, itemID string, output wfdata.Map) (*Case, error) {
	c, err := e.getCase(caseID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	item, ok := c.WorkItems[itemID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("work item %s in case %s: %w", itemID, caseID, ErrWorkItemNotFound)
	}
	if item.Status != WorkItemExecuting {
		c.mu.Unlock()
		return nil, fmt.Errorf("complete work item %s in %s: %w", itemID, item.Status, ErrInvalidTransition)
	}

	followups, err := e.completeItemLocked(c, item, output)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	e.run(followups)
	return c, nil
}

// AddInstance adds a sibling work item to a running multi-instance task
// declared with dynamic creation. The new instance starts in executing
// state; the completion threshold stays as fixed at enablement. Tasks
// with static creation, tasks not currently executing, and additions
// past the declared maximum are rejected.
func (e *Engine) AddInstance(caseID, taskID string, input wfdata.Map) (*WorkItem, error) {
	c, err := e.getCase(caseID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Status != CaseStatusRunning {
		return nil, fmt.Errorf("add instance to %s in %s: %w", taskID, c.Status, ErrInvalidTransition)
	}
	task, ok := c.net.Tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("add instance to %s in case %s: unknown task", taskID, caseID)
	}
	mi := task.MultiInstance
	if mi == nil || mi.Creation != wfnet.CreationDynamic {
		return nil, fmt.Errorf("add instance to %s: %w", taskID, ErrStaticInstances)
	}
	bag, ok := c.bags[taskID]
	if !ok {
		return nil, fmt.Errorf("add instance to %s: task is not executing: %w", taskID, ErrInvalidTransition)
	}
	if mi.Max > 0 && bag.spawned >= mi.Max {
		return nil, fmt.Errorf("add instance to %s: limit of %d instances reached: %w", taskID, mi.Max, ErrInvalidTransition)
	}

	now := e.now()
	bag.spawned++
	item := &WorkItem{
		ID:         uuid.New().String(),
		CaseID:     c.ID,
		TaskID:     taskID,
		InstanceID: strconv.Itoa(bag.spawned),
		Status:     WorkItemExecuting,
		EnabledAt:  now,
		FiredAt:    &now,
		StartedAt:  &now,
		Input:      input.Copy(),
	}
	c.WorkItems[item.ID] = item
	bag.add(item)
	c.Tick++
	e.log.Debug().Str("case", c.ID).Str("task", taskID).Str("instance", item.InstanceID).Msg("instance added")
	e.emit(Event{
		Kind: EventWorkItemExecuting, CaseID: c.ID, SpecID: c.SpecID,
		WorkItemID: item.ID, TaskID: taskID, Tick: c.Tick,
	})
	return item, nil
}

// FailWorkItem marks a live work item failed and records the cause on
// the case.
func (e *Engine) FailWorkItem(caseID, itemID string, cause error) error {
	c, err := e.getCase(caseID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.WorkItems[itemID]
	if !ok {
		return fmt.Errorf("work item %s in case %s: %w", itemID, caseID, ErrWorkItemNotFound)
	}
	if !item.Status.live() {
		return fmt.Errorf("fail work item %s in %s: %w", itemID, item.Status, ErrInvalidTransition)
	}

	e.failItemLocked(c, item, cause)
	return nil
}

// CancelCase cancels a created or running case; all live work items are
// withdrawn.
func (e *Engine) CancelCase(caseID string) error {
	c, err := e.getCase(caseID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Status != CaseStatusCreated && c.Status != CaseStatusRunning {
		return fmt.Errorf("cancel case %s in %s: %w", caseID, c.Status, ErrInvalidTransition)
	}

	now := e.now()
	c.Status = CaseStatusCancelled
	c.CompletedAt = &now
	c.Tick++

	for _, item := range c.WorkItems {
		if item.Status.live() {
			e.withdrawItem(c, item)
		}
	}

	e.log.Debug().Str("case", c.ID).Msg("case cancelled")
	e.emit(Event{Kind: EventCaseCancelled, CaseID: c.ID, SpecID: c.SpecID, Tick: c.Tick})
	return nil
}

// ExpireTimers completes live work items whose timers have expired as
// of the given time, returning the affected work item ids. Enabled
// items with expired timers are fired first. Scheduling calls to this
// method is up to the embedding application; timers here are pure
// expiry predicates.
func (e *Engine) ExpireTimers(now time.Time) []string {
	e.mu.RLock()
	cases := make([]*Case, 0, len(e.cases))
	for _, c := range e.cases {
		cases = append(cases, c)
	}
	e.mu.RUnlock()

	var expired []string
	for _, c := range cases {
		c.mu.Lock()
		if c.Status != CaseStatusRunning {
			c.mu.Unlock()
			continue
		}

		var followups []func()
		for _, item := range c.WorkItems {
			if !item.Status.live() {
				continue
			}
			task := c.net.Tasks[item.TaskID]
			if task == nil || task.Timer == nil {
				continue
			}
			if !task.Timer.Expired(e.timerAnchor(task.Timer, item), now) {
				continue
			}

			if item.Status == WorkItemEnabled {
				fs, err := e.fireWorkItem(c, item)
				if err != nil {
					continue
				}
				followups = append(followups, fs...)
			}
			if item.Status == WorkItemExecuting {
				fs, err := e.completeItemLocked(c, item, nil)
				if err != nil {
					continue
				}
				followups = append(followups, fs...)
				expired = append(expired, item.ID)
			}
		}
		c.mu.Unlock()
		e.run(followups)
	}
	return expired
}

// timerAnchor picks the moment a timer started counting from.
func (e *Engine) timerAnchor(spec *wfnet.TimerSpec, item *WorkItem) time.Time {
	if spec.Trigger == wfnet.TriggerOnStarted {
		if item.StartedAt == nil {
			return time.Time{}
		}
		return *item.StartedAt
	}
	return item.EnabledAt
}

// GetCase returns a case by id.
func (e *Engine) GetCase(caseID string) (*Case, error) {
	return e.getCase(caseID)
}

func (e *Engine) getCase(caseID string) (*Case, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	c, ok := e.cases[caseID]
	if !ok {
		return nil, fmt.Errorf("case %s: %w", caseID, ErrCaseNotFound)
	}
	return c, nil
}

// GetStatistics summarizes engine state.
func (e *Engine) GetStatistics() Statistics {
	e.mu.RLock()
	cases := make([]*Case, 0, len(e.cases))
	for _, c := range e.cases {
		cases = append(cases, c)
	}
	stats := Statistics{Status: "running", SpecsLoaded: len(e.specs)}
	e.mu.RUnlock()

	for _, c := range cases {
		stats.TotalCases++
		c.mu.Lock()
		switch c.Status {
		case CaseStatusRunning:
			stats.RunningCases++
		case CaseStatusCompleted:
			stats.CompletedCases++
		case CaseStatusCancelled:
			stats.CancelledCases++
		}
		for _, item := range c.WorkItems {
			if item.Status.live() {
				stats.LiveWorkItems++
			}
		}
		c.mu.Unlock()
	}
	return stats
}

// run executes deferred follow-up actions outside any case lock.
// Follow-ups launch subcases and propagate subcase completion into
// parent work items, both of which need locks the originating mutation
// could not safely take.
func (e *Engine) run(followups []func()) {
	for _, f := range followups {
		f()
	}
}
