package temporal

import (
	"context"
	"fmt"
	"testing"

	"github.com/caseflow-xyz/go-caseflow/eventstore"
)

func stream(kinds ...string) []*eventstore.WorkflowEvent {
	events := make([]*eventstore.WorkflowEvent, len(kinds))
	for i, k := range kinds {
		events[i] = &eventstore.WorkflowEvent{
			ID:       fmt.Sprintf("e%d", i+1),
			Kind:     k,
			Sequence: uint64(i + 1),
		}
	}
	return events
}

func TestAlwaysEarlyExit(t *testing.T) {
	events := stream("ok", "ok", "bad", "ok", "ok", "ok")
	notBad := func(e *eventstore.WorkflowEvent) bool { return e.Kind != "bad" }

	r := Check(Formula{Operator: OpAlways, Phi: notBad}, events)
	if r.Holds {
		t.Fatal("expected violation")
	}
	if r.ViolatingEvent != "e3" {
		t.Fatalf("violating event = %q, want e3", r.ViolatingEvent)
	}
	if r.EventsChecked != 3 {
		t.Fatalf("events checked = %d, want 3 (early exit)", r.EventsChecked)
	}

	r = Check(Formula{Operator: OpAlways, Phi: notBad}, stream("ok", "ok"))
	if !r.Holds || r.EventsChecked != 2 {
		t.Fatalf("clean stream: holds=%v checked=%d", r.Holds, r.EventsChecked)
	}
}

func TestEventuallyEarlyExit(t *testing.T) {
	events := stream("a", "a", "goal", "a")
	r := Check(Formula{Operator: OpEventually, Phi: KindIs("goal")}, events)
	if !r.Holds {
		t.Fatal("expected eventual match")
	}
	if r.EventsChecked != 3 {
		t.Fatalf("events checked = %d, want 3", r.EventsChecked)
	}

	r = Check(Formula{Operator: OpEventually, Phi: KindIs("goal")}, stream("a", "b"))
	if r.Holds {
		t.Fatal("expected failure without satisfying event")
	}
}

func TestUntil(t *testing.T) {
	pending := func(e *eventstore.WorkflowEvent) bool { return e.Kind == "pending" }
	done := KindIs("done")

	r := Check(Formula{Operator: OpUntil, Phi: pending, Psi: done},
		stream("pending", "pending", "done", "other"))
	if !r.Holds {
		t.Fatalf("expected hold: %s", r.Explanation)
	}

	r = Check(Formula{Operator: OpUntil, Phi: pending, Psi: done},
		stream("pending", "other", "done"))
	if r.Holds || r.ViolatingEvent != "e2" {
		t.Fatalf("expected e2 to break the hold, got holds=%v violating=%q", r.Holds, r.ViolatingEvent)
	}

	r = Check(Formula{Operator: OpUntil, Phi: pending, Psi: done},
		stream("pending", "pending"))
	if r.Holds {
		t.Fatal("stream ended without release, expected failure")
	}
}

func TestNextChecksOnlyFollowingSequence(t *testing.T) {
	events := stream("a", "b", "c")

	r := Check(Formula{Operator: OpNext, Phi: KindIs("b"), AtSequence: 1}, events)
	if !r.Holds || r.EventsChecked != 1 {
		t.Fatalf("next(1): holds=%v checked=%d", r.Holds, r.EventsChecked)
	}

	r = Check(Formula{Operator: OpNext, Phi: KindIs("b"), AtSequence: 2}, events)
	if r.Holds || r.ViolatingEvent != "e3" {
		t.Fatalf("next(2): holds=%v violating=%q", r.Holds, r.ViolatingEvent)
	}

	r = Check(Formula{Operator: OpNext, Phi: KindIs("b"), AtSequence: 3}, events)
	if r.Holds {
		t.Fatal("no event past the stream end, expected failure")
	}
}

func TestPrecedes(t *testing.T) {
	r := Check(Formula{Operator: OpPrecedes, KindA: "case.started", KindB: "workitem.completed"},
		stream("case.created", "case.started", "workitem.completed"))
	if !r.Holds {
		t.Fatalf("expected precedence to hold: %s", r.Explanation)
	}

	r = Check(Formula{Operator: OpPrecedes, KindA: "case.started", KindB: "workitem.completed"},
		stream("case.created", "workitem.completed", "case.started"))
	if r.Holds || r.ViolatingEvent != "e2" {
		t.Fatalf("expected e2 violation, got holds=%v violating=%q", r.Holds, r.ViolatingEvent)
	}
}

func TestEvaluatorWorkflowFilter(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore()
	defer store.Close()

	for i, wf := range []string{"wf-a", "wf-a", "wf-b"} {
		kind := "ok"
		if wf == "wf-b" {
			kind = "bad"
		}
		if _, err := store.Append(ctx, eventstore.NewEvent(wf, kind, uint64(i), nil)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	notBad := func(e *eventstore.WorkflowEvent) bool { return e.Kind != "bad" }
	ev := NewEvaluator(store)

	r, err := ev.Check(ctx, Formula{Operator: OpAlways, Phi: notBad})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if r.Holds {
		t.Fatal("global stream contains a bad event")
	}

	r, err = ev.ForWorkflow("wf-a").Check(ctx, Formula{Operator: OpAlways, Phi: notBad})
	if err != nil {
		t.Fatalf("filtered check: %v", err)
	}
	if !r.Holds || r.EventsChecked != 2 {
		t.Fatalf("wf-a: holds=%v checked=%d", r.Holds, r.EventsChecked)
	}
}

func TestVerifyReportsTiming(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewMemoryStore()
	defer store.Close()

	for i := 0; i < 4; i++ {
		if _, err := store.Append(ctx, eventstore.NewEvent("wf", "ok", uint64(i), nil)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	tr, err := NewEvaluator(store).Verify(ctx, "all-ok", Formula{
		Operator: OpAlways,
		Phi:      KindIs("ok"),
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !tr.Holds || tr.Name != "all-ok" {
		t.Fatalf("unexpected result: %+v", tr)
	}
	if tr.EventsChecked != 4 {
		t.Fatalf("events checked = %d, want 4", tr.EventsChecked)
	}
	if tr.Elapsed < 0 {
		t.Fatalf("elapsed = %v", tr.Elapsed)
	}
}
