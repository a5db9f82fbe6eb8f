package engine

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/caseflow-xyz/go-caseflow/marking"
	"github.com/caseflow-xyz/go-caseflow/wfdata"
	"github.com/caseflow-xyz/go-caseflow/wfnet"
)

// syncGuard bounds the resolve loop against nets whose composite tasks
// keep re-enabling each other.
const syncGuard = 1000

// syncWorkItems reconciles the work-item set with the current marking:
// stale offers are withdrawn, composite tasks fire immediately and
// launch their subcases, atomic tasks are offered, and system tasks
// fire and complete without waiting for allocation. Caller holds the
// case lock.
func (e *Engine) syncWorkItems(c *Case) []func() {
	var followups []func()

	for guard := 0; guard < syncGuard; guard++ {
		if c.Status != CaseStatusRunning {
			break
		}

		resolutions := e.resolve(c.net, c.Marking)
		e.withdrawStale(c)

		progressed := false

		// A composite task preempts its enabled set and fires at once.
		for _, res := range resolutions {
			if res.Composite == "" {
				continue
			}
			if c.liveItemFor(res.Composite) != nil {
				continue
			}
			item := e.newWorkItem(c, res.Composite, res.ConditionID)
			fs, err := e.fireWorkItem(c, item)
			followups = append(followups, fs...)
			if err == nil {
				followups = append(followups, e.launchSubcase(c, item))
			}
			progressed = true
			break
		}
		if progressed {
			continue
		}

		// Offer atomic tasks; system tasks fire and run straight
		// through to completion, producing their output tokens.
		// Multi-instance tasks stay executing until their instances
		// report in.
		for _, res := range resolutions {
			for _, taskID := range res.Offered {
				if c.liveItemFor(taskID) != nil {
					continue
				}
				task := c.net.Tasks[taskID]
				item := e.newWorkItem(c, taskID, res.ConditionID)
				if task.RequiresAllocation() {
					continue
				}
				fs, err := e.fireWorkItem(c, item)
				followups = append(followups, fs...)
				if err != nil {
					continue
				}
				if task.MultiInstance == nil {
					// A failed split is recorded on the item by
					// completeItemLocked.
					cfs, _ := e.completeItemLocked(c, item, nil)
					followups = append(followups, cfs...)
				}
				progressed = true
				break
			}
			if progressed {
				break
			}
		}
		if !progressed {
			break
		}
	}

	return followups
}

// liveItemFor returns the case's live work item for a task, or nil.
func (c *Case) liveItemFor(taskID string) *WorkItem {
	for _, item := range c.WorkItems {
		if item.TaskID == taskID && item.Status.live() {
			return item
		}
	}
	return nil
}

// newWorkItem creates and offers a work item in enabled state.
func (e *Engine) newWorkItem(c *Case, taskID, choiceGroup string) *WorkItem {
	item := &WorkItem{
		ID:          uuid.New().String(),
		CaseID:      c.ID,
		TaskID:      taskID,
		Status:      WorkItemEnabled,
		ChoiceGroup: choiceGroup,
		EnabledAt:   e.now(),
		Input:       c.Data.Copy(),
	}
	c.WorkItems[item.ID] = item
	c.Tick++
	e.emit(Event{
		Kind: EventWorkItemEnabled, CaseID: c.ID, SpecID: c.SpecID,
		WorkItemID: item.ID, TaskID: taskID, Tick: c.Tick,
	})
	return item
}

// fireWorkItem consumes the task's input tokens and moves the item to
// executing. Deferred-choice siblings lose their token and are
// withdrawn. Caller holds the case lock.
func (e *Engine) fireWorkItem(c *Case, item *WorkItem) ([]func(), error) {
	next, err := marking.FireTo(c.net, item.TaskID, c.Marking, nil)
	if err != nil {
		e.withdrawItem(c, item)
		return nil, fmt.Errorf("fire work item %s: %w", item.ID, err)
	}
	c.Marking = next

	now := e.now()
	item.Status = WorkItemFired
	item.FiredAt = &now
	c.Tick++
	e.emit(Event{
		Kind: EventWorkItemFired, CaseID: c.ID, SpecID: c.SpecID,
		WorkItemID: item.ID, TaskID: item.TaskID, Tick: c.Tick,
	})

	item.Status = WorkItemExecuting
	item.StartedAt = &now
	c.Tick++
	e.emit(Event{
		Kind: EventWorkItemExecuting, CaseID: c.ID, SpecID: c.SpecID,
		WorkItemID: item.ID, TaskID: item.TaskID, Tick: c.Tick,
	})
	e.log.Debug().Str("case", c.ID).Str("task", item.TaskID).Str("item", item.ID).Msg("work item executing")

	e.withdrawStale(c)

	task := c.net.Tasks[item.TaskID]
	if task.MultiInstance != nil {
		e.spawnInstances(c, item, task)
	}
	return nil, nil
}

// withdrawStale cancels enabled offers whose task lost its tokens, the
// losing side of a resolved deferred choice.
func (e *Engine) withdrawStale(c *Case) {
	for _, item := range c.WorkItems {
		if item.Status != WorkItemEnabled {
			continue
		}
		if !marking.Enabled(c.net, item.TaskID, c.Marking) {
			e.withdrawItem(c, item)
		}
	}
}

// withdrawItem cancels a live work item. Caller holds the case lock.
func (e *Engine) withdrawItem(c *Case, item *WorkItem) {
	now := e.now()
	item.Status = WorkItemCancelled
	item.CompletedAt = &now
	c.Tick++
	e.emit(Event{
		Kind: EventWorkItemCancelled, CaseID: c.ID, SpecID: c.SpecID,
		WorkItemID: item.ID, TaskID: item.TaskID, Tick: c.Tick,
	})
}

// failItemLocked marks a work item failed and records the cause on the
// case. Caller holds the case lock.
func (e *Engine) failItemLocked(c *Case, item *WorkItem, cause error) {
	now := e.now()
	item.Status = WorkItemFailed
	item.CompletedAt = &now
	if cause != nil {
		item.Error = cause.Error()
		c.LastError = cause.Error()
	}
	c.Tick++
	e.log.Error().Str("case", c.ID).Str("item", item.ID).Str("task", item.TaskID).
		Err(cause).Msg("work item failed")
	e.emit(Event{
		Kind: EventWorkItemFailed, CaseID: c.ID, SpecID: c.SpecID,
		WorkItemID: item.ID, TaskID: item.TaskID, Tick: c.Tick,
		Payload: wfdata.Map{"error": wfdata.String(item.Error)},
	})
}

// spawnInstances turns one fired multi-instance enabling into its
// sibling instances: the fired item becomes instance 1 and the rest are
// created directly in executing state, all tracked in the task's bag.
func (e *Engine) spawnInstances(c *Case, item *WorkItem, task *wfnet.Task) {
	mi := task.MultiInstance

	var list wfdata.List
	if mi.SplitExpression != "" {
		if l, ok := c.Data[mi.SplitExpression].(wfdata.List); ok {
			list = l
		}
	}
	total := mi.InstanceCount(len(list))
	threshold := mi.CompletionThreshold(total)
	if mi.Creation == wfnet.CreationDynamic {
		// Dynamic tasks start at the minimum and grow through
		// AddInstance; the declared threshold is kept as-is since the
		// final instance count is open-ended.
		total = mi.Min
		if total < 1 {
			total = 1
		}
		threshold = mi.Threshold
		if threshold < 1 {
			threshold = total
		}
	}
	bag := newInstanceBag(task.ID, threshold)
	bag.spawned = total
	c.bags[task.ID] = bag

	item.InstanceID = "1"
	if len(list) > 0 {
		item.Input = wfdata.Map{"item": list[0]}
	}
	bag.add(item)

	now := e.now()
	for i := 2; i <= total; i++ {
		sibling := &WorkItem{
			ID:         uuid.New().String(),
			CaseID:     c.ID,
			TaskID:     task.ID,
			InstanceID: strconv.Itoa(i),
			Status:     WorkItemExecuting,
			EnabledAt:  now,
			FiredAt:    &now,
			StartedAt:  &now,
		}
		if i-1 < len(list) {
			sibling.Input = wfdata.Map{"item": list[i-1]}
		}
		c.WorkItems[sibling.ID] = sibling
		bag.add(sibling)
		c.Tick++
		e.emit(Event{
			Kind: EventWorkItemExecuting, CaseID: c.ID, SpecID: c.SpecID,
			WorkItemID: sibling.ID, TaskID: task.ID, Tick: c.Tick,
		})
	}
}

// completeItemLocked finishes an executing work item. For a
// multi-instance sibling this counts toward the threshold; tokens are
// produced only when the threshold is crossed, and remaining siblings
// are withdrawn. Caller holds the case lock; the item is executing.
func (e *Engine) completeItemLocked(c *Case, item *WorkItem, output wfdata.Map) ([]func(), error) {
	task := c.net.Tasks[item.TaskID]

	if bag, ok := c.bags[item.TaskID]; ok && item.InstanceID != "" {
		e.mergeInstanceOutput(c, task, output)
		bag.remove(item.InstanceID)

		if !bag.completeOne() {
			e.finishItem(c, item, output)
			return nil, nil
		}

		// Threshold crossed: the split is evaluated while the item is
		// still live, so a routing failure fails it rather than an
		// already completed item.
		targets, err := marking.SplitTargets(c.net, task, c.Data)
		if err != nil {
			e.failItemLocked(c, item, err)
			return nil, err
		}
		e.finishItem(c, item, output)

		// Siblings still running are withdrawn and the task produces
		// its output tokens once.
		for _, sib := range c.WorkItems {
			if sib.TaskID == item.TaskID && sib.Status.live() {
				e.withdrawItem(c, sib)
				bag.remove(sib.InstanceID)
			}
		}
		delete(c.bags, item.TaskID)
		return e.advance(c, targets), nil
	}

	if output != nil {
		c.Data.Merge(output)
	}
	targets, err := marking.SplitTargets(c.net, task, c.Data)
	if err != nil {
		e.failItemLocked(c, item, err)
		return nil, err
	}
	e.finishItem(c, item, output)
	return e.advance(c, targets), nil
}

// finishItem records completion on the item and notifies listeners.
func (e *Engine) finishItem(c *Case, item *WorkItem, output wfdata.Map) {
	now := e.now()
	item.Status = WorkItemCompleted
	item.CompletedAt = &now
	item.Output = output.Copy()
	c.Tick++
	e.emit(Event{
		Kind: EventWorkItemCompleted, CaseID: c.ID, SpecID: c.SpecID,
		WorkItemID: item.ID, TaskID: item.TaskID, Tick: c.Tick, Payload: output,
	})
	e.log.Debug().Str("case", c.ID).Str("task", item.TaskID).Str("item", item.ID).Msg("work item completed")
}

// mergeInstanceOutput folds one instance's output into case data,
// collecting it under the join expression when one is configured.
func (e *Engine) mergeInstanceOutput(c *Case, task *wfnet.Task, output wfdata.Map) {
	if output == nil {
		return
	}
	join := task.MultiInstance.JoinExpression
	if join == "" {
		c.Data.Merge(output)
		return
	}
	list, _ := c.Data[join].(wfdata.List)
	c.Data[join] = append(list, output.Copy())
}

// advance adds one token to each target condition and reconciles the
// work-item set with the new marking.
func (e *Engine) advance(c *Case, targets []string) []func() {
	next := c.Marking.Copy()
	for _, target := range targets {
		next.Add(target, 1)
	}
	c.Marking = next

	followups := e.syncWorkItems(c)
	return append(followups, e.checkProgress(c)...)
}

// checkProgress applies the runtime completion and deadlock checks:
// the case completes when exactly the output condition holds a token
// (proper completion applied at runtime); a running case with no live
// work and no enabled task is flagged deadlocked.
func (e *Engine) checkProgress(c *Case) []func() {
	if c.Status != CaseStatusRunning {
		return nil
	}

	output := c.net.OutputCondition()
	if output != nil && c.Marking.IsFinal(output.ID) {
		return e.completeCaseLocked(c)
	}

	hasLive := false
	for _, item := range c.WorkItems {
		if item.Status.live() {
			hasLive = true
			break
		}
	}
	if !hasLive && len(marking.EnabledTasks(c.net, c.Marking)) == 0 {
		if !c.deadlocked {
			c.deadlocked = true
			c.Tick++
			e.log.Error().Str("case", c.ID).Str("marking", c.Marking.String()).Msg("case deadlocked")
			e.emit(Event{
				Kind: EventCaseDeadlocked, CaseID: c.ID, SpecID: c.SpecID, Tick: c.Tick,
				Payload: wfdata.Map{"marking": wfdata.String(c.Marking.String())},
			})
		}
	} else {
		c.deadlocked = false
	}
	return nil
}

// completeCaseLocked finishes a case and, for a subcase, schedules the
// completion of the parent composite work item.
func (e *Engine) completeCaseLocked(c *Case) []func() {
	now := e.now()
	c.Status = CaseStatusCompleted
	c.CompletedAt = &now
	c.Tick++

	for _, item := range c.WorkItems {
		if item.Status.live() {
			e.withdrawItem(c, item)
		}
	}

	e.log.Debug().Str("case", c.ID).Str("spec", c.SpecID).Msg("case completed")
	e.emit(Event{Kind: EventCaseCompleted, CaseID: c.ID, SpecID: c.SpecID, Tick: c.Tick, Payload: c.Data})

	if c.ParentCase == "" {
		return nil
	}

	parentCase, parentItem := c.ParentCase, c.parentItem
	result := c.Data.Copy()
	return []func(){func() {
		if _, err := e.CompleteWorkItem(parentCase, parentItem, result); err != nil {
			e.log.Error().Str("case", parentCase).Str("item", parentItem).
				Err(err).Msg("propagating subcase completion failed")
		}
	}}
}

// launchSubcase returns a follow-up that creates and starts the subcase
// behind a fired composite work item. Runs outside the parent's lock.
func (e *Engine) launchSubcase(c *Case, item *WorkItem) func() {
	task := c.net.Tasks[item.TaskID]
	dec, _ := task.Decomposition.(*wfnet.NetDecomposition)
	parentID, itemID := c.ID, item.ID
	input := c.Data.Copy()

	return func() {
		if dec == nil {
			_ = e.FailWorkItem(parentID, itemID, fmt.Errorf("composite task %s has no net decomposition", task.ID))
			return
		}
		child, err := e.createCase(dec.NetID, input, parentID, itemID)
		if err != nil {
			_ = e.FailWorkItem(parentID, itemID, err)
			return
		}
		if _, err := e.StartCase(child.ID); err != nil {
			_ = e.FailWorkItem(parentID, itemID, err)
		}
	}
}
