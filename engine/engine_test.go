package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/caseflow-xyz/go-caseflow/marking"
	"github.com/caseflow-xyz/go-caseflow/wfdata"
	"github.com/caseflow-xyz/go-caseflow/wfnet"
)

// sequentialNet builds start -> A -> mid -> B -> end with system tasks.
func sequentialNet(id string) *wfnet.Net {
	return wfnet.Build(id).Chain("start", "A", "mid", "B", "end").Done()
}

func activatedEngine(t *testing.T, nets ...*wfnet.Net) *Engine {
	t.Helper()
	e := NewEngine().WithRand(rand.New(rand.NewSource(1)))
	for _, n := range nets {
		if err := e.LoadSpecification(n); err != nil {
			t.Fatalf("load %s: %v", n.ID, err)
		}
		if err := e.ActivateSpecification(n.ID); err != nil {
			t.Fatalf("activate %s: %v", n.ID, err)
		}
	}
	return e
}

func TestSequentialCaseRunsToCompletion(t *testing.T) {
	e := activatedEngine(t, sequentialNet("seq"))

	c, err := e.CreateCase("seq", nil)
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	if c.Status != CaseStatusCreated {
		t.Fatalf("status = %s, want created", c.Status)
	}

	if _, err := e.StartCase(c.ID); err != nil {
		t.Fatalf("start case: %v", err)
	}

	// Both tasks are system tasks, so the case runs through on start.
	if c.Status != CaseStatusCompleted {
		t.Fatalf("status = %s, want completed", c.Status)
	}

	completed := 0
	for _, item := range c.WorkItems {
		if item.Status == WorkItemCompleted {
			completed++
		}
	}
	if completed != 2 {
		t.Errorf("completed work items = %d, want 2", completed)
	}

	out := c.net.OutputCondition()
	if !c.Marking.IsFinal(out.ID) {
		t.Errorf("final marking = %v, want single token on %s", c.Marking, out.ID)
	}
}

func TestCreateCaseRequiresActiveSpec(t *testing.T) {
	e := NewEngine()
	n := sequentialNet("seq")
	if err := e.LoadSpecification(n); err != nil {
		t.Fatalf("load: %v", err)
	}

	if _, err := e.CreateCase("seq", nil); !errors.Is(err, ErrSpecNotActive) {
		t.Errorf("create from loaded spec: %v, want ErrSpecNotActive", err)
	}
	if _, err := e.CreateCase("missing", nil); !errors.Is(err, ErrSpecNotFound) {
		t.Errorf("create from unknown spec: %v, want ErrSpecNotFound", err)
	}
}

func TestActivateRejectsUnsoundNet(t *testing.T) {
	// The token in "stuck" can never reach the output.
	n := wfnet.Build("broken").
		Input("start").
		Task("A").
		Condition("stuck").
		Output("end").
		Flow("start", "A").
		Flow("A", "stuck").
		Done()
	// Give the output an incoming task so structure passes.
	n.AddTask(&wfnet.Task{ID: "B", Decomposition: &wfnet.Automated{}})
	n.AddCondition("side", wfnet.ConditionOrdinary)
	n.AddFlow("side", "B")
	n.AddFlow("B", "end")

	e := NewEngine()
	if err := e.LoadSpecification(n); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := e.ActivateSpecification("broken"); !errors.Is(err, ErrSpecNotSound) {
		t.Errorf("activate unsound net: %v, want ErrSpecNotSound", err)
	}
}

// manualNet builds start -> review(manual, role clerk) -> end.
func manualNet(id string) *wfnet.Net {
	return wfnet.Build(id).
		Input("start").
		ManualTask("review", "clerk").
		Output("end").
		Flow("start", "review").
		Flow("review", "end").
		Done()
}

func TestManualWorkItemLifecycle(t *testing.T) {
	e := activatedEngine(t, manualNet("review-flow"))
	e.RegisterParticipant("alice", []string{"clerk"}, nil)

	c, _ := e.CreateCase("review-flow", wfdata.Map{"amount": wfdata.Number(100)})
	if _, err := e.StartCase(c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	items := c.LiveWorkItems()
	if len(items) != 1 || items[0].Status != WorkItemEnabled {
		t.Fatalf("expected one enabled work item, got %v", items)
	}
	item := items[0]

	// An unknown participant cannot take the item.
	if err := e.StartWorkItem(c.ID, item.ID, "mallory"); !errors.Is(err, ErrNotEligible) {
		t.Errorf("unknown participant: %v, want ErrNotEligible", err)
	}

	if err := e.StartWorkItem(c.ID, item.ID, "alice"); err != nil {
		t.Fatalf("start work item: %v", err)
	}
	if item.Status != WorkItemExecuting || item.AllocatedTo != "alice" {
		t.Fatalf("item = %s/%s, want executing/alice", item.Status, item.AllocatedTo)
	}

	if _, err := e.CompleteWorkItem(c.ID, item.ID, wfdata.Map{"approved": wfdata.Bool(true)}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if c.Status != CaseStatusCompleted {
		t.Errorf("case status = %s, want completed", c.Status)
	}
	if !c.Data.GetBool("approved") {
		t.Error("output data not merged into case data")
	}
}

func TestWrongRoleRejected(t *testing.T) {
	e := activatedEngine(t, manualNet("review-flow"))
	e.RegisterParticipant("bob", []string{"manager"}, nil)

	c, _ := e.CreateCase("review-flow", nil)
	e.StartCase(c.ID)
	item := c.LiveWorkItems()[0]

	if err := e.StartWorkItem(c.ID, item.ID, "bob"); !errors.Is(err, ErrNotEligible) {
		t.Errorf("wrong role: %v, want ErrNotEligible", err)
	}
}

func TestInvalidTransitionsRejectedWithoutStateChange(t *testing.T) {
	e := activatedEngine(t, manualNet("review-flow"))
	e.RegisterParticipant("alice", []string{"clerk"}, nil)

	c, _ := e.CreateCase("review-flow", nil)
	e.StartCase(c.ID)
	item := c.LiveWorkItems()[0]

	// Completing an enabled (not executing) item is rejected.
	if _, err := e.CompleteWorkItem(c.ID, item.ID, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("complete enabled item: %v, want ErrInvalidTransition", err)
	}
	if item.Status != WorkItemEnabled {
		t.Errorf("rejected completion changed state to %s", item.Status)
	}

	// Completing an unknown id is rejected.
	if _, err := e.CompleteWorkItem(c.ID, "nope", nil); !errors.Is(err, ErrWorkItemNotFound) {
		t.Errorf("complete unknown item: %v, want ErrWorkItemNotFound", err)
	}

	e.StartWorkItem(c.ID, item.ID, "alice")
	if _, err := e.CompleteWorkItem(c.ID, item.ID, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Double completion is rejected.
	if _, err := e.CompleteWorkItem(c.ID, item.ID, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double completion: %v, want ErrInvalidTransition", err)
	}
}

func TestDeferredChoiceWithdrawsSiblings(t *testing.T) {
	n := wfnet.Build("choice").
		Input("start").
		ManualTask("approve", "clerk").
		ManualTask("reject", "clerk").
		Output("end").
		Flow("start", "approve").
		Flow("start", "reject").
		Flow("approve", "end").
		Flow("reject", "end").
		Done()
	n.Tasks["approve"].Join = wfnet.PolicyXOR
	n.Tasks["reject"].Join = wfnet.PolicyXOR

	e := activatedEngine(t, n)
	e.RegisterParticipant("alice", []string{"clerk"}, nil)

	c, _ := e.CreateCase("choice", nil)
	e.StartCase(c.ID)

	items := c.LiveWorkItems()
	if len(items) != 2 {
		t.Fatalf("offered items = %d, want 2", len(items))
	}
	if items[0].ChoiceGroup != items[1].ChoiceGroup {
		t.Error("deferred-choice siblings should share a choice group")
	}

	var approve, reject *WorkItem
	for _, item := range items {
		switch item.TaskID {
		case "approve":
			approve = item
		case "reject":
			reject = item
		}
	}

	if err := e.StartWorkItem(c.ID, approve.ID, "alice"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if reject.Status != WorkItemCancelled {
		t.Errorf("sibling status = %s, want cancelled", reject.Status)
	}

	e.CompleteWorkItem(c.ID, approve.ID, nil)
	if c.Status != CaseStatusCompleted {
		t.Errorf("case status = %s, want completed", c.Status)
	}
}

func TestXORSplitRoutesOnPredicate(t *testing.T) {
	highValue := func(data wfdata.Map) bool { return data.GetNumber("amount") > 1000 }
	net := wfnet.Build("routing").
		Input("start").
		ManualTask("assess", "clerk").
		Condition("manual-review").
		Condition("auto-approve").
		ManualTask("review", "clerk").
		TaskXORJoin("finish").
		Output("end").
		Flow("start", "assess").
		FlowIf("assess", "manual-review", highValue).
		DefaultFlow("assess", "auto-approve").
		Flow("manual-review", "review").
		Flow("auto-approve", "finish").
		Flow("review", "end").
		Flow("finish", "end").
		Done()
	net.Tasks["assess"].Split = wfnet.PolicyXOR

	e := activatedEngine(t, net)
	e.RegisterParticipant("alice", []string{"clerk"}, nil)

	c, _ := e.CreateCase("routing", wfdata.Map{"amount": wfdata.Number(5000)})
	e.StartCase(c.ID)

	assess := c.LiveWorkItems()[0]
	e.StartWorkItem(c.ID, assess.ID, "alice")
	e.CompleteWorkItem(c.ID, assess.ID, nil)

	// High amount routes to the manual review branch.
	items := c.LiveWorkItems()
	if len(items) != 1 || items[0].TaskID != "review" {
		t.Fatalf("expected review offered, got %v", items)
	}
}

func TestXORSplitWithoutMatchFailsFiring(t *testing.T) {
	never := func(wfdata.Map) bool { return false }
	n := wfnet.Build("nomatch").
		Input("start").
		ManualTask("decide", "clerk").
		Condition("a").
		Condition("b").
		Task("A").
		Task("B").
		Output("end").
		Flow("start", "decide").
		FlowIf("decide", "a", never).
		FlowIf("decide", "b", never).
		Flow("a", "A").
		Flow("b", "B").
		Flow("A", "end").
		Flow("B", "end").
		Done()
	n.Tasks["decide"].Split = wfnet.PolicyXOR

	e := activatedEngine(t, n)
	e.RegisterParticipant("alice", []string{"clerk"}, nil)

	c, _ := e.CreateCase("nomatch", nil)
	e.StartCase(c.ID)
	item := c.LiveWorkItems()[0]
	e.StartWorkItem(c.ID, item.ID, "alice")

	_, err := e.CompleteWorkItem(c.ID, item.ID, nil)
	var firing *marking.FiringError
	if !errors.As(err, &firing) {
		t.Fatalf("complete with no matching arc: %v, want FiringError", err)
	}
	if item.Status != WorkItemFailed {
		t.Errorf("item status = %s, want failed", item.Status)
	}
	if c.LastError == "" {
		t.Error("case should record the firing failure")
	}
}

func TestMultiInstanceThreshold(t *testing.T) {
	n := wfnet.Build("mi").
		Input("start").
		TaskWith(&wfnet.Task{
			ID:            "sign",
			Decomposition: &wfnet.Automated{},
			MultiInstance: &wfnet.MultiInstance{Min: 3, Max: 3, Threshold: 2},
		}).
		Output("end").
		Flow("start", "sign").
		Flow("sign", "end").
		Done()

	e := activatedEngine(t, n)
	c, _ := e.CreateCase("mi", nil)
	e.StartCase(c.ID)

	items := c.LiveWorkItems()
	if len(items) != 3 {
		t.Fatalf("instances = %d, want 3", len(items))
	}

	e.CompleteWorkItem(c.ID, items[0].ID, nil)
	if c.Status != CaseStatusRunning {
		t.Fatal("one completion should not cross the threshold")
	}

	if _, err := e.CompleteWorkItem(c.ID, items[1].ID, nil); err != nil {
		t.Fatalf("complete second instance: %v", err)
	}
	if c.Status != CaseStatusCompleted {
		t.Errorf("case status = %s, want completed after threshold", c.Status)
	}
	if items[2].Status != WorkItemCancelled {
		t.Errorf("remaining instance = %s, want cancelled", items[2].Status)
	}
}

func TestCompositeTaskRunsSubcase(t *testing.T) {
	child := sequentialNet("child")
	parent := wfnet.Build("parent").
		Input("start").
		CompositeTask("sub", "child").
		Output("end").
		Flow("start", "sub").
		Flow("sub", "end").
		Done()

	e := activatedEngine(t, child, parent)
	c, _ := e.CreateCase("parent", wfdata.Map{"ref": wfdata.String("x")})
	if _, err := e.StartCase(c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The child net is all system tasks, so parent completes through it.
	if c.Status != CaseStatusCompleted {
		t.Fatalf("parent status = %s, want completed", c.Status)
	}

	stats := e.GetStatistics()
	if stats.TotalCases != 2 || stats.CompletedCases != 2 {
		t.Errorf("stats = %+v, want 2 total and 2 completed cases", stats)
	}
}

func TestCancelCaseWithdrawsWork(t *testing.T) {
	e := activatedEngine(t, manualNet("review-flow"))
	c, _ := e.CreateCase("review-flow", nil)
	e.StartCase(c.ID)
	item := c.LiveWorkItems()[0]

	if err := e.CancelCase(c.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if c.Status != CaseStatusCancelled {
		t.Errorf("status = %s, want cancelled", c.Status)
	}
	if item.Status != WorkItemCancelled {
		t.Errorf("item status = %s, want cancelled", item.Status)
	}
	if err := e.CancelCase(c.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double cancel: %v, want ErrInvalidTransition", err)
	}
}

func TestEventListenerSeesLifecycle(t *testing.T) {
	var kinds []string
	e := NewEngine().AddEventListener(func(ev Event) {
		kinds = append(kinds, ev.Kind)
	})
	n := sequentialNet("seq")
	e.LoadSpecification(n)
	e.ActivateSpecification("seq")

	c, _ := e.CreateCase("seq", nil)
	e.StartCase(c.ID)

	want := []string{EventCaseCreated, EventCaseStarted}
	for i, k := range want {
		if i >= len(kinds) || kinds[i] != k {
			t.Fatalf("event %d = %v, want %s (all: %v)", i, kinds, k, kinds)
		}
	}
	last := kinds[len(kinds)-1]
	if last != EventCaseCompleted {
		t.Errorf("last event = %s, want %s", last, EventCaseCompleted)
	}
	found := false
	for _, k := range kinds {
		if k == EventWorkItemCompleted {
			found = true
		}
	}
	if !found {
		t.Error("expected work item completion events")
	}
}

func TestSystemTasksCompleteWithoutAllocation(t *testing.T) {
	n := wfnet.Build("prep-flow").
		Input("start").
		Task("prep").
		Condition("ready").
		ManualTask("review", "clerk").
		Output("end").
		Flow("start", "prep").
		Flow("prep", "ready").
		Flow("ready", "review").
		Flow("review", "end").
		Done()

	e := activatedEngine(t, n)
	c, _ := e.CreateCase("prep-flow", nil)
	if _, err := e.StartCase(c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The system task ran through on start and produced its token.
	var prep *WorkItem
	for _, item := range c.WorkItems {
		if item.TaskID == "prep" {
			prep = item
		}
	}
	if prep == nil {
		t.Fatal("no work item recorded for prep")
	}
	if prep.Status != WorkItemCompleted {
		t.Fatalf("prep status = %s, want completed", prep.Status)
	}
	if c.Marking.Get("ready") != 1 {
		t.Fatalf("marking = %s, want token on ready", c.Marking)
	}

	items := c.LiveWorkItems()
	if len(items) != 1 || items[0].TaskID != "review" || items[0].Status != WorkItemEnabled {
		t.Fatalf("offered items = %v, want review enabled", items)
	}
}

func TestMultiInstanceRoutingFailureFailsLiveItem(t *testing.T) {
	never := func(wfdata.Map) bool { return false }
	n := wfnet.Build("mi-route").
		Input("start").
		TaskWith(&wfnet.Task{
			ID:            "sign",
			Split:         wfnet.PolicyXOR,
			Decomposition: &wfnet.Automated{},
			MultiInstance: &wfnet.MultiInstance{Min: 2, Max: 2, Threshold: 1},
		}).
		Condition("routed").
		Task("finish").
		Output("end").
		Flow("start", "sign").
		FlowIf("sign", "routed", never).
		Flow("routed", "finish").
		Flow("finish", "end").
		Done()

	var completions int
	e := activatedEngine(t, n)
	e.AddEventListener(func(ev Event) {
		if ev.Kind == EventWorkItemCompleted {
			completions++
		}
	})

	c, _ := e.CreateCase("mi-route", nil)
	e.StartCase(c.ID)

	items := c.LiveWorkItems()
	if len(items) != 2 {
		t.Fatalf("instances = %d, want 2", len(items))
	}

	// Crossing the threshold evaluates the split; with no matching arc
	// the completing item fails without ever reporting completion.
	_, err := e.CompleteWorkItem(c.ID, items[0].ID, nil)
	var firing *marking.FiringError
	if !errors.As(err, &firing) {
		t.Fatalf("complete with no matching arc: %v, want FiringError", err)
	}
	if items[0].Status != WorkItemFailed {
		t.Errorf("item status = %s, want failed", items[0].Status)
	}
	if completions != 0 {
		t.Errorf("completion events = %d, want none for a failed routing", completions)
	}
}

func TestDynamicMultiInstanceGrowsOnDemand(t *testing.T) {
	n := wfnet.Build("dyn").
		Input("start").
		TaskWith(&wfnet.Task{
			ID:            "gather",
			Decomposition: &wfnet.Automated{},
			MultiInstance: &wfnet.MultiInstance{Min: 1, Max: 3, Threshold: 2, Creation: wfnet.CreationDynamic},
		}).
		Output("end").
		Flow("start", "gather").
		Flow("gather", "end").
		Done()

	e := activatedEngine(t, n)
	c, _ := e.CreateCase("dyn", nil)
	e.StartCase(c.ID)

	items := c.LiveWorkItems()
	if len(items) != 1 || items[0].InstanceID != "1" {
		t.Fatalf("initial instances = %v, want just instance 1", items)
	}

	second, err := e.AddInstance(c.ID, "gather", wfdata.Map{"item": wfdata.String("extra")})
	if err != nil {
		t.Fatalf("add instance: %v", err)
	}
	if second.InstanceID != "2" || second.Status != WorkItemExecuting {
		t.Fatalf("second instance = %s/%s, want 2/executing", second.InstanceID, second.Status)
	}

	third, err := e.AddInstance(c.ID, "gather", nil)
	if err != nil {
		t.Fatalf("add third instance: %v", err)
	}
	if _, err := e.AddInstance(c.ID, "gather", nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("adding past the maximum: %v, want ErrInvalidTransition", err)
	}

	if _, err := e.CompleteWorkItem(c.ID, items[0].ID, nil); err != nil {
		t.Fatalf("complete first: %v", err)
	}
	if c.Status != CaseStatusRunning {
		t.Fatal("one completion should not cross the threshold")
	}

	if _, err := e.CompleteWorkItem(c.ID, second.ID, nil); err != nil {
		t.Fatalf("complete second: %v", err)
	}
	if c.Status != CaseStatusCompleted {
		t.Errorf("case status = %s, want completed after threshold", c.Status)
	}
	if third.Status != WorkItemCancelled {
		t.Errorf("remaining instance = %s, want cancelled", third.Status)
	}
}

func TestAddInstanceRejectsStaticTask(t *testing.T) {
	n := wfnet.Build("mi-static").
		Input("start").
		TaskWith(&wfnet.Task{
			ID:            "sign",
			Decomposition: &wfnet.Automated{},
			MultiInstance: &wfnet.MultiInstance{Min: 2, Max: 2},
		}).
		Output("end").
		Flow("start", "sign").
		Flow("sign", "end").
		Done()

	e := activatedEngine(t, n)
	c, _ := e.CreateCase("mi-static", nil)
	e.StartCase(c.ID)

	if _, err := e.AddInstance(c.ID, "sign", nil); !errors.Is(err, ErrStaticInstances) {
		t.Errorf("static task: %v, want ErrStaticInstances", err)
	}
	if _, err := e.AddInstance(c.ID, "nope", nil); err == nil {
		t.Error("unknown task should be rejected")
	}
}

func TestFailWorkItem(t *testing.T) {
	e := activatedEngine(t, manualNet("review-flow"))
	e.RegisterParticipant("alice", []string{"clerk"}, nil)

	c, _ := e.CreateCase("review-flow", nil)
	e.StartCase(c.ID)
	item := c.LiveWorkItems()[0]
	e.StartWorkItem(c.ID, item.ID, "alice")

	if err := e.FailWorkItem(c.ID, item.ID, fmt.Errorf("backend unavailable")); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if item.Status != WorkItemFailed || item.Error == "" {
		t.Errorf("item = %s/%q, want failed with error", item.Status, item.Error)
	}
	if err := e.FailWorkItem(c.ID, item.ID, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("failing a failed item: %v, want ErrInvalidTransition", err)
	}
}
