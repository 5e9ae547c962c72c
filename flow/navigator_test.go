package flow

import "testing"

func TestNextNode(t *testing.T) {
	node := &Node{
		ID:      "n",
		Next:    "seq",
		OnTrue:  "yes",
		OnFalse: "no",
		Cases: []Case{
			{Key: "casa", NodeID: "house"},
			{Key: "apto", NodeID: "flat"},
		},
		Parallel: []string{"p0", "p1"},
	}

	tests := []struct {
		name   string
		out    Outcome
		want   string
		wantOK bool
	}{
		{"sequential", Sequential(), "seq", true},
		{"true branch", TrueBranch(), "yes", true},
		{"false branch", FalseBranch(), "no", true},
		{"switch match", SwitchCase("apto"), "flat", true},
		{"switch miss falls to default", SwitchCase("barco"), "seq", true},
		{"parallel first", ParallelPath(0), "p0", true},
		{"parallel second", ParallelPath(1), "p1", true},
		{"parallel out of range", ParallelPath(5), "", false},
		{"stay", Stay(), "", false},
		{"terminal", Terminal(), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NextNode(node, tt.out)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("NextNode = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestNextNodeEmptySlots(t *testing.T) {
	node := &Node{ID: "bare"}
	for name, out := range map[string]Outcome{
		"sequential": Sequential(),
		"true":       TrueBranch(),
		"false":      FalseBranch(),
		"switch":     SwitchCase("x"),
	} {
		if _, ok := NextNode(node, out); ok {
			t.Errorf("%s on empty slots must report no transition", name)
		}
	}
}

func TestRenderTemplate(t *testing.T) {
	data := map[string]any{
		"name":   "Joao Silva",
		"budget": float64(1234.5),
		"count":  float64(3),
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"substitution", "Olá {name}!", "Olá Joao Silva!"},
		{"number trimmed", "Valor: {budget}", "Valor: 1234.5"},
		{"integer clean", "{count} itens", "3 itens"},
		{"unresolved removed", "Olá {nome_completo}, tudo bem?", "Olá , tudo bem?"},
		{"double space collapsed", "A {missing} B", "A B"},
		{"empty template", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderTemplate(tt.template, data); got != tt.want {
				t.Errorf("RenderTemplate(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

func TestRenderTemplateMap(t *testing.T) {
	data := map[string]any{"name": "Ana"}
	payload := map[string]any{
		"greeting": "Olá {name}",
		"nested":   map[string]any{"inner": "{name} aqui"},
		"number":   float64(7),
	}

	out := renderTemplateMap(payload, data)
	if out["greeting"] != "Olá Ana" {
		t.Errorf("greeting = %v", out["greeting"])
	}
	nested := out["nested"].(map[string]any)
	if nested["inner"] != "Ana aqui" {
		t.Errorf("nested = %v", nested["inner"])
	}
	if out["number"] != float64(7) {
		t.Errorf("non-strings must pass through, got %v", out["number"])
	}
}
