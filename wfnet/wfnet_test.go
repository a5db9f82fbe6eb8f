package wfnet

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestChainBuildsSequentialNet(t *testing.T) {
	n := Build("seq").Chain("start", "A", "mid", "B", "end").Done()

	if len(n.Conditions) != 3 || len(n.Tasks) != 2 || len(n.Flows) != 4 {
		t.Fatalf("shape: %d conditions, %d tasks, %d flows",
			len(n.Conditions), len(n.Tasks), len(n.Flows))
	}
	if in := n.InputCondition(); in == nil || in.ID != "start" {
		t.Fatalf("input = %v", in)
	}
	if out := n.OutputCondition(); out == nil || out.ID != "end" {
		t.Fatalf("output = %v", out)
	}
	if got := n.PresetConditions("A"); len(got) != 1 || got[0] != "start" {
		t.Fatalf("A preset = %v", got)
	}
	if got := n.PostsetConditions("A"); len(got) != 1 || got[0] != "mid" {
		t.Fatalf("A postset = %v", got)
	}
	if got := n.TasksEnabledBy("mid"); len(got) != 1 || got[0] != "B" {
		t.Fatalf("mid enables %v", got)
	}
	if err := Validate(n); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestChainRejectsMalformedSequences(t *testing.T) {
	if n := Build("bad").Chain("start", "A").Done(); len(n.Conditions) != 0 {
		t.Error("even-length chain should build nothing")
	}
	if n := Build("bad").Chain("start").Done(); len(n.Conditions) != 0 {
		t.Error("single-element chain should build nothing")
	}
}

func TestValidateStructuralErrors(t *testing.T) {
	cases := []struct {
		name string
		net  *Net
		want string
	}{
		{
			name: "no input condition",
			net: Build("x").Condition("a").Output("end").
				Task("t").Flow("a", "t").Flow("t", "end").Done(),
			want: "input condition",
		},
		{
			name: "two output conditions",
			net: Build("x").Input("start").Output("e1").Output("e2").
				Task("t").Flow("start", "t").Flow("t", "e1").Done(),
			want: "output condition",
		},
		{
			name: "unknown flow reference",
			net: Build("x").Input("start").Output("end").
				Task("t").Flow("start", "t").Flow("t", "nowhere").Done(),
			want: "unknown target",
		},
		{
			name: "condition to condition arc",
			net: Build("x").Input("start").Output("end").
				Task("t").Flow("start", "end").Flow("start", "t").Flow("t", "end").Done(),
			want: "must connect",
		},
		{
			name: "task without incoming flow",
			net: Build("x").Input("start").Output("end").
				Task("t").Task("orphan").
				Flow("start", "t").Flow("t", "end").Flow("orphan", "end").Done(),
			want: "no incoming flow",
		},
		{
			name: "two default flows",
			net: Build("x").Input("start").Condition("a").Condition("b").Output("end").
				TaskXORSplit("t").Task("u").
				Flow("start", "t").
				DefaultFlow("t", "a").DefaultFlow("t", "b").
				Flow("a", "u").Flow("b", "u").Flow("u", "end").Done(),
			want: "default flows",
		},
		{
			name: "multi-instance min exceeds max",
			net: Build("x").Input("start").Output("end").
				TaskWith(&Task{ID: "t", MultiInstance: &MultiInstance{Min: 5, Max: 2}}).
				Flow("start", "t").Flow("t", "end").Done(),
			want: "min 5 exceeds max 2",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.net)
			if err == nil {
				t.Fatal("expected structural error")
			}
			var serr *StructuralError
			if !errors.As(err, &serr) {
				t.Fatalf("expected StructuralError, got %T", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err.Error(), tc.want)
			}
		})
	}
}

func TestTaskClassification(t *testing.T) {
	composite := &Task{ID: "c", Decomposition: &NetDecomposition{NetID: "sub"}}
	if !composite.IsComposite() {
		t.Error("net decomposition should classify as composite")
	}
	if composite.RequiresAllocation() {
		t.Error("composite task without resourcing needs no allocation")
	}

	manual := &Task{ID: "m", Decomposition: &Manual{}, Resourcing: &Resourcing{Roles: []string{"clerk"}}}
	if manual.IsComposite() {
		t.Error("manual task is not composite")
	}
	if !manual.RequiresAllocation() {
		t.Error("role-restricted task requires allocation")
	}

	system := &Task{ID: "s", Decomposition: &Automated{Codelet: "charge"}, Resourcing: &Resourcing{}}
	if system.RequiresAllocation() {
		t.Error("empty resourcing means a system task")
	}
}

func TestResourcingAccepts(t *testing.T) {
	r := &Resourcing{Roles: []string{"manager", "director"}}

	if !r.Accepts("alice", []string{"manager"}, nil) {
		t.Error("matching role should be accepted")
	}
	if r.Accepts("bob", []string{"clerk"}, nil) {
		t.Error("non-matching role should be rejected")
	}

	pinned := &Resourcing{Participants: []string{"carol"}, Capabilities: []string{"fr"}}
	if !pinned.Accepts("carol", nil, []string{"fr", "de"}) {
		t.Error("named participant with capability should be accepted")
	}
	if pinned.Accepts("carol", nil, []string{"de"}) {
		t.Error("missing capability should be rejected")
	}
	if pinned.Accepts("dave", nil, []string{"fr"}) {
		t.Error("unnamed participant should be rejected")
	}

	var system *Resourcing
	if !system.Accepts("anyone", nil, nil) {
		t.Error("nil resourcing accepts everyone")
	}
}

func TestMultiInstanceCounts(t *testing.T) {
	mi := &MultiInstance{Min: 2, Max: 5, Threshold: 3, SplitExpression: "items"}

	if got := mi.InstanceCount(4); got != 4 {
		t.Errorf("split list of 4 -> %d instances, want 4", got)
	}
	if got := mi.InstanceCount(10); got != 5 {
		t.Errorf("long split list clamps to max: got %d", got)
	}
	if got := mi.InstanceCount(1); got != 2 {
		t.Errorf("short split list clamps to min: got %d", got)
	}

	noSplit := &MultiInstance{Max: 3}
	if got := noSplit.InstanceCount(0); got != 3 {
		t.Errorf("no split expression spawns max: got %d", got)
	}

	if got := mi.CompletionThreshold(5); got != 3 {
		t.Errorf("threshold = %d, want 3", got)
	}
	if got := mi.CompletionThreshold(2); got != 2 {
		t.Errorf("threshold clamps to instances: got %d", got)
	}
	all := &MultiInstance{Max: 4}
	if got := all.CompletionThreshold(4); got != 4 {
		t.Errorf("zero threshold means all instances: got %d", got)
	}
}

func TestTimerExpired(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	duration := &TimerSpec{Duration: time.Hour}
	if duration.Expired(base, base.Add(30*time.Minute)) {
		t.Error("half-elapsed duration should not expire")
	}
	if !duration.Expired(base, base.Add(time.Hour)) {
		t.Error("exact deadline should expire")
	}
	if duration.Expired(time.Time{}, base.Add(24*time.Hour)) {
		t.Error("untriggered timer never expires")
	}

	expiry := &TimerSpec{Expiry: base.Add(time.Hour), Duration: 10 * time.Minute}
	if expiry.Expired(base, base.Add(30*time.Minute)) {
		t.Error("absolute expiry takes precedence over duration")
	}
	if !expiry.Expired(base, base.Add(time.Hour)) {
		t.Error("absolute expiry should fire at the deadline")
	}

	interval := &TimerSpec{Interval: 15 * time.Minute}
	if !interval.Expired(base, base.Add(15*time.Minute)) {
		t.Error("interval should fire after one period")
	}

	var none *TimerSpec
	if none.Expired(base, base.Add(time.Hour)) {
		t.Error("nil timer never expires")
	}
}
