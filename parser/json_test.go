package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/caseflow-xyz/go-caseflow/soundness"
	"github.com/caseflow-xyz/go-caseflow/wfdata"
	"github.com/caseflow-xyz/go-caseflow/wfnet"
)

const orderNet = `{
  "id": "order",
  "name": "Order fulfilment",
  "conditions": [
    {"id": "start", "kind": "input"},
    {"id": "routed"},
    {"id": "end", "kind": "output"}
  ],
  "tasks": [
    {"id": "triage", "split": "XOR"},
    {"id": "ship"}
  ],
  "flows": [
    {"source": "start", "target": "triage"},
    {"source": "triage", "target": "routed",
     "predicate": {"key": "amount", "op": "lte", "value": 1000}},
    {"source": "triage", "target": "routed", "default": true},
    {"source": "routed", "target": "ship"},
    {"source": "ship", "target": "end"}
  ]
}`

func TestFromJSON(t *testing.T) {
	n, err := FromJSON([]byte(orderNet))
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}

	if n.ID != "order" || n.Name != "Order fulfilment" {
		t.Fatalf("identity: id=%q name=%q", n.ID, n.Name)
	}
	if got := len(n.Conditions); got != 3 {
		t.Fatalf("conditions = %d, want 3", got)
	}
	if in := n.InputCondition(); in == nil || in.ID != "start" {
		t.Fatalf("input condition = %v", in)
	}
	if out := n.OutputCondition(); out == nil || out.ID != "end" {
		t.Fatalf("output condition = %v", out)
	}
	if n.Tasks["triage"].Split != wfnet.PolicyXOR {
		t.Fatalf("triage split = %v", n.Tasks["triage"].Split)
	}

	// Predicate arcs compile against case data.
	flows := n.PostsetFlows("triage")
	if len(flows) != 2 {
		t.Fatalf("triage postset = %d flows", len(flows))
	}
	if !flows[0].Predicate(wfdata.Map{"amount": wfdata.Number(500)}) {
		t.Fatal("amount 500 should satisfy lte 1000")
	}
	if flows[0].Predicate(wfdata.Map{"amount": wfdata.Number(5000)}) {
		t.Fatal("amount 5000 should not satisfy lte 1000")
	}
	if !flows[1].IsDefault {
		t.Fatal("second arc should be the default")
	}

	// The parsed net passes structural validation and verification.
	if err := wfnet.Validate(n); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if report := soundness.NewVerifier(n).Verify(); !report.IsSound {
		t.Fatalf("expected sound net: %+v", report.Violations)
	}
}

func TestTaskExtras(t *testing.T) {
	doc := `{
	  "id": "extras",
	  "conditions": [
	    {"id": "start", "kind": "input"},
	    {"id": "end", "kind": "output"}
	  ],
	  "tasks": [
	    {"id": "review",
	     "decomposition": {"type": "manual", "description": "check totals"},
	     "resourcing": {"roles": ["clerk"]},
	     "multi_instance": {"min": 1, "max": 3, "threshold": 2,
	                        "split_expression": "items", "join_expression": "checked"},
	     "timer": {"trigger": "on_started", "duration": "30m"}}
	  ],
	  "flows": [
	    {"source": "start", "target": "review"},
	    {"source": "review", "target": "end"}
	  ]
	}`

	n, err := FromJSON([]byte(doc))
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	task := n.Tasks["review"]

	if _, ok := task.Decomposition.(*wfnet.Manual); !ok {
		t.Fatalf("decomposition = %T", task.Decomposition)
	}
	if !task.RequiresAllocation() {
		t.Fatal("clerk role should require allocation")
	}
	mi := task.MultiInstance
	if mi == nil || mi.Max != 3 || mi.Threshold != 2 || mi.SplitExpression != "items" {
		t.Fatalf("multi instance = %+v", mi)
	}
	if task.Timer == nil || task.Timer.Trigger != wfnet.TriggerOnStarted || task.Timer.Duration != 30*time.Minute {
		t.Fatalf("timer = %+v", task.Timer)
	}
}

func TestPredicateOps(t *testing.T) {
	data := wfdata.Map{
		"amount": wfdata.Number(100),
		"region": wfdata.String("eu"),
		"rush":   wfdata.Bool(true),
	}

	cases := []struct {
		expr PredicateExpr
		want bool
	}{
		{PredicateExpr{Key: "amount", Op: "gt", Value: 50.0}, true},
		{PredicateExpr{Key: "amount", Op: "gte", Value: 100.0}, true},
		{PredicateExpr{Key: "amount", Op: "lt", Value: 100.0}, false},
		{PredicateExpr{Key: "region", Op: "eq", Value: "eu"}, true},
		{PredicateExpr{Key: "region", Op: "ne", Value: "us"}, true},
		{PredicateExpr{Key: "rush", Op: "eq", Value: true}, true},
		{PredicateExpr{Key: "missing", Op: "exists"}, false},
		{PredicateExpr{Key: "region", Op: "exists"}, true},
		{PredicateExpr{Key: "missing", Op: "eq", Value: "x"}, false},
	}
	for _, tc := range cases {
		pred, err := tc.expr.Compile()
		if err != nil {
			t.Fatalf("compile %+v: %v", tc.expr, err)
		}
		if got := pred(data); got != tc.want {
			t.Errorf("%s %s %v = %v, want %v", tc.expr.Key, tc.expr.Op, tc.expr.Value, got, tc.want)
		}
	}

	if _, err := (&PredicateExpr{Key: "x", Op: "between"}).Compile(); err == nil {
		t.Fatal("expected error for unknown op")
	}
	if _, err := (&PredicateExpr{Key: "x", Op: "gt", Value: "high"}).Compile(); err == nil {
		t.Fatal("expected error for non-numeric comparison")
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := FromJSON([]byte(`{`)); err == nil || !strings.Contains(err.Error(), "invalid JSON") {
		t.Fatalf("malformed JSON: %v", err)
	}
	if _, err := FromJSON([]byte(`{"conditions": []}`)); err == nil {
		t.Fatal("expected missing-id error")
	}
	if _, err := FromJSON([]byte(`{"id": "x", "conditions": [{"id": "c", "kind": "portal"}]}`)); err == nil {
		t.Fatal("expected unknown-kind error")
	}
	if _, err := FromJSON([]byte(`{"id": "x", "tasks": [{"id": "t", "join": "MAYBE"}]}`)); err == nil {
		t.Fatal("expected unknown-policy error")
	}
	if _, err := FromJSON([]byte(`{"id": "x", "tasks": [{"id": "t", "decomposition": {"type": "subnet"}}]}`)); err == nil {
		t.Fatal("expected missing net_id error")
	}
}

func TestDescribeRoundTrip(t *testing.T) {
	n, err := FromJSON([]byte(orderNet))
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}

	out, err := ToJSON(Describe(n))
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	back, err := FromJSON(out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}

	if back.ID != n.ID || len(back.Conditions) != len(n.Conditions) ||
		len(back.Tasks) != len(n.Tasks) || len(back.Flows) != len(n.Flows) {
		t.Fatalf("round trip lost structure: %s", out)
	}
	// Code-compiled predicates have no expression form; the default
	// flag still survives.
	var defaults int
	for _, f := range back.Flows {
		if f.IsDefault {
			defaults++
		}
	}
	if defaults != 1 {
		t.Fatalf("default flows = %d, want 1", defaults)
	}
}
