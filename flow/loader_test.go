package flow

import (
	"bytes"
	"encoding/json"
	"testing"
)

func diagCodes(diags []Diagnostic) map[string]int {
	out := make(map[string]int)
	for _, d := range diags {
		out[d.Code]++
	}
	return out
}

func TestLoadFillsDefaults(t *testing.T) {
	doc := []byte(`{
		"nodes": [
			{"type": "greeting", "config": {}},
			{"id": "ask_name", "type": "NAME"},
			{"id": "bye", "type": "END", "name": "Farewell"}
		],
		"start_node_id": "missing"
	}`)

	g, diags, err := Load(doc)
	if err != nil {
		t.Fatal(err)
	}

	if g.StartNodeID != "node_0" {
		t.Errorf("StartNodeID = %q, want synthesized node_0", g.StartNodeID)
	}

	first := g.Nodes["node_0"]
	if first == nil {
		t.Fatal("node without id must get a synthesized one")
	}
	if first.Kind != KindGreeting {
		t.Errorf("Kind = %s, want GREETING (lowercase type tag)", first.Kind)
	}
	if first.Config["message"] != DefaultGreeting {
		t.Errorf("greeting message = %v, want stock default", first.Config["message"])
	}
	if first.Name != "Node node_0" {
		t.Errorf("Name = %q, want generated", first.Name)
	}

	ask := g.Nodes["ask_name"]
	if ask.Config["field_name"] != "name" || ask.Config["field_type"] != "name" {
		t.Errorf("typed input node must get preset config, got %v", ask.Config)
	}
	if ask.Config["prompt"] == nil {
		t.Error("typed input node must get a preset prompt")
	}

	if g.Nodes["bye"].Config["message"] != DefaultFarewell {
		t.Errorf("END message = %v, want stock farewell", g.Nodes["bye"].Config["message"])
	}

	if codes := diagCodes(diags); codes[DiagAutocorrected] == 0 {
		t.Errorf("expected autocorrection diagnostics, got %v", diags)
	}
}

func TestLoadDropsDanglingReferences(t *testing.T) {
	doc := []byte(`{
		"nodes": [
			{"id": "a", "type": "MESSAGE", "next_node_id": "ghost"},
			{"id": "b", "type": "CONDITION", "config": {"field": "x", "operator": "exists"},
			 "true_node_id": "a", "false_node_id": "ghost"}
		],
		"edges": [
			{"source": "a", "target": "b"},
			{"source": "ghost", "target": "a"}
		],
		"start_node_id": "a"
	}`)

	g, diags, err := Load(doc)
	if err != nil {
		t.Fatal(err)
	}

	if g.Nodes["a"].Next != "" {
		t.Errorf("dangling next_node_id must be cleared, got %q", g.Nodes["a"].Next)
	}
	if g.Nodes["b"].OnFalse != "" {
		t.Errorf("dangling false_node_id must be cleared, got %q", g.Nodes["b"].OnFalse)
	}
	if g.Nodes["b"].OnTrue != "a" {
		t.Errorf("valid true_node_id must survive, got %q", g.Nodes["b"].OnTrue)
	}
	if len(g.Edges) != 1 {
		t.Errorf("edges = %v, want only the valid one", g.Edges)
	}
	if codes := diagCodes(diags); codes[DiagDroppedEdge] != 1 {
		t.Errorf("expected one dropped-edge diagnostic, got %v", diags)
	}
}

func TestLoadEmptyGraph(t *testing.T) {
	g, diags, err := Load([]byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Nodes) != 1 {
		t.Fatalf("empty graph must synthesize one node, got %d", len(g.Nodes))
	}
	start := g.Nodes[g.StartNodeID]
	if start.Kind != KindGreeting {
		t.Errorf("synthesized node kind = %s, want GREETING", start.Kind)
	}
	if codes := diagCodes(diags); codes[DiagEmptyGraph] != 1 {
		t.Errorf("expected EMPTY_GRAPH diagnostic, got %v", diags)
	}
	if HasErrors(diags) {
		t.Errorf("empty graph must still be runnable, got %v", diags)
	}
}

func TestLoadPreservesCaseOrder(t *testing.T) {
	doc := []byte(`{
		"nodes": [
			{"id": "sw", "type": "SWITCH", "config": {"field": "interest"},
			 "case_node_ids": {"casa": "a", "apartamento": "b", "terreno": "c"},
			 "next_node_id": "a"},
			{"id": "a", "type": "END"},
			{"id": "b", "type": "END"},
			{"id": "c", "type": "END"}
		],
		"start_node_id": "sw"
	}`)

	g, _, err := Load(doc)
	if err != nil {
		t.Fatal(err)
	}

	want := []Case{{"casa", "a"}, {"apartamento", "b"}, {"terreno", "c"}}
	got := g.Nodes["sw"].Cases
	if len(got) != len(want) {
		t.Fatalf("cases = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("case %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLoadIdempotent(t *testing.T) {
	doc := []byte(`{
		"nodes": [
			{"type": "MESSAGE", "next_node_id": "ghost"},
			{"id": "q", "type": "QUESTION",
			 "config": {"prompt": "Qual?", "field_name": "x"}}
		],
		"edges": [{"source": "nope", "target": "q"}]
	}`)

	g1, _, err := Load(doc)
	if err != nil {
		t.Fatal(err)
	}
	canonical, err := json.Marshal(g1)
	if err != nil {
		t.Fatal(err)
	}

	g2, diags2, err := Load(canonical)
	if err != nil {
		t.Fatal(err)
	}

	codes := diagCodes(diags2)
	for _, code := range []string{DiagAutocorrected, DiagDroppedEdge, DiagEmptyGraph} {
		if codes[code] != 0 {
			t.Errorf("second load produced %s corrections: %v", code, diags2)
		}
	}

	round, err := json.Marshal(g2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(canonical, round) {
		t.Errorf("canonical form is not a fixed point:\n%s\n%s", canonical, round)
	}
}

func TestValidateRequiredConfig(t *testing.T) {
	tests := []struct {
		name string
		node string
		code string
	}{
		{"question without prompt", `{"id": "n", "type": "QUESTION", "config": {"field_name": "x"}}`, DiagMissingConfigField},
		{"condition without field", `{"id": "n", "type": "CONDITION", "config": {"operator": "equals"}}`, DiagMissingConfigField},
		{"condition unknown operator", `{"id": "n", "type": "CONDITION", "config": {"field": "x", "operator": "sounds_like"}}`, DiagUnknownOperator},
		{"webhook without url", `{"id": "n", "type": "WEBHOOK_CALL", "config": {}}`, DiagMissingConfigField},
		{"handoff without message", `{"id": "n", "type": "HANDOFF", "config": {}}`, DiagMissingConfigField},
		{"notification without channel", `{"id": "n", "type": "NOTIFICATION", "config": {}}`, DiagMissingConfigField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, diags, err := Load([]byte(`{"nodes": [` + tt.node + `], "start_node_id": "n"}`))
			if err != nil {
				t.Fatal(err)
			}
			if !HasErrors(diags) {
				t.Fatalf("expected ERROR diagnostics, got %v", diags)
			}
			if diagCodes(diags)[tt.code] == 0 {
				t.Errorf("expected %s, got %v", tt.code, diags)
			}
		})
	}
}

func TestValidateWarnings(t *testing.T) {
	doc := []byte(`{
		"nodes": [
			{"id": "a", "type": "MESSAGE", "next_node_id": "b"},
			{"id": "b", "type": "MESSAGE", "next_node_id": "a"},
			{"id": "island", "type": "MESSAGE"}
		],
		"start_node_id": "a"
	}`)

	_, diags, err := Load(doc)
	if err != nil {
		t.Fatal(err)
	}
	if HasErrors(diags) {
		t.Fatalf("cycles and orphans are warnings, got errors: %v", diags)
	}

	codes := diagCodes(diags)
	if codes[DiagCycleDetected] == 0 {
		t.Errorf("expected CYCLE_DETECTED, got %v", diags)
	}
	if codes[DiagOrphanNode] == 0 {
		t.Errorf("expected ORPHAN_NODE for island, got %v", diags)
	}
	if codes[DiagMissingNextNode] == 0 {
		t.Errorf("expected MISSING_NEXT_NODE for island, got %v", diags)
	}
}

func TestValidateConditionMissingBranch(t *testing.T) {
	doc := []byte(`{
		"nodes": [
			{"id": "c", "type": "CONDITION",
			 "config": {"field": "x", "operator": "exists"},
			 "true_node_id": "end"},
			{"id": "end", "type": "END"}
		],
		"start_node_id": "c"
	}`)

	_, diags, err := Load(doc)
	if err != nil {
		t.Fatal(err)
	}
	if diagCodes(diags)[DiagMissingBranch] == 0 {
		t.Errorf("expected MISSING_BRANCH warning, got %v", diags)
	}
	if HasErrors(diags) {
		t.Errorf("missing branch is a warning, got errors: %v", diags)
	}
}
