package flow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Severity grades a Diagnostic. The engine refuses to run a graph only
// when an ERROR-level diagnostic is present; warnings are informational.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

// Diagnostic codes.
const (
	DiagMissingNextNode    = "MISSING_NEXT_NODE"
	DiagMissingBranch      = "MISSING_BRANCH"
	DiagMissingReference   = "MISSING_REFERENCE"
	DiagMissingConfigField = "MISSING_CONFIG_FIELD"
	DiagUnknownOperator    = "UNKNOWN_OPERATOR"
	DiagUnknownNodeKind    = "UNKNOWN_NODE_KIND"
	DiagOrphanNode         = "ORPHAN_NODE"
	DiagCycleDetected      = "CYCLE_DETECTED"
	DiagInvalidValue       = "INVALID_CONFIG_VALUE"
	DiagAutocorrected      = "AUTOCORRECTED"
	DiagDroppedEdge        = "DROPPED_EDGE"
	DiagEmptyGraph         = "EMPTY_GRAPH"
)

// Diagnostic is one finding from graph autocorrection or validation.
type Diagnostic struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	NodeID   string   `json:"node_id,omitempty"`
	Message  string   `json:"message"`
}

// HasErrors reports whether any diagnostic is ERROR-level.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// rawGraph and rawNode accept the lenient wire schema: fields may be
// missing or wrongly typed, so everything lands in RawMessage and is
// coerced afterwards.
type rawGraph struct {
	Nodes        []json.RawMessage `json:"nodes"`
	Edges        []json.RawMessage `json:"edges"`
	StartNodeID  json.RawMessage   `json:"start_node_id"`
	Version      json.RawMessage   `json:"version"`
	Name         json.RawMessage   `json:"name"`
	Description  json.RawMessage   `json:"description"`
	GlobalConfig json.RawMessage   `json:"global_config"`
}

type rawNode struct {
	ID       json.RawMessage `json:"id"`
	Type     json.RawMessage `json:"type"`
	Name     json.RawMessage `json:"name"`
	Config   json.RawMessage `json:"config"`
	Next     json.RawMessage `json:"next_node_id"`
	OnTrue   json.RawMessage `json:"true_node_id"`
	OnFalse  json.RawMessage `json:"false_node_id"`
	Cases    json.RawMessage `json:"case_node_ids"`
	Parallel json.RawMessage `json:"parallel_node_ids"`
}

type rawEdge struct {
	Source json.RawMessage `json:"source"`
	Target json.RawMessage `json:"target"`
}

// Load parses a lenient graph document, autocorrects it into canonical
// form, and validates it structurally. The returned diagnostics include
// both autocorrection notes and validation findings; the graph is usable
// unless HasErrors reports true. A non-nil error means the payload was
// not JSON at all.
func Load(data []byte) (*Graph, []Diagnostic, error) {
	var raw rawGraph
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("graph is not valid JSON: %w", err)
	}

	g, diags := autocorrect(&raw)
	diags = append(diags, Validate(g)...)
	return g, diags, nil
}

// autocorrect builds a canonical Graph from lenient input, filling
// defaults and dropping dangling references. Running it over the output
// of a previous run produces no further corrections.
func autocorrect(raw *rawGraph) (*Graph, []Diagnostic) {
	var diags []Diagnostic
	note := func(code, nodeID, msg string) {
		diags = append(diags, Diagnostic{Code: code, Severity: SeverityInfo, NodeID: nodeID, Message: msg})
	}

	g := &Graph{
		Nodes:       make(map[string]*Node),
		Version:     coerceString(raw.Version, "1.0"),
		Name:        coerceString(raw.Name, ""),
		Description: coerceString(raw.Description, ""),
	}

	// Rule 8: global config defaults.
	g.Global = coerceGlobalConfig(raw.GlobalConfig)

	// Rules 2-5: per-node defaults.
	for i, rn := range raw.Nodes {
		var node rawNode
		if err := json.Unmarshal(rn, &node); err != nil {
			note(DiagAutocorrected, "", fmt.Sprintf("node %d is not an object, dropped", i))
			continue
		}

		id := coerceString(node.ID, "")
		if id == "" {
			id = "node_" + strconv.Itoa(i)
			note(DiagAutocorrected, id, "node without id, synthesized")
		}
		if _, dup := g.Nodes[id]; dup {
			id = id + "_" + strconv.Itoa(i)
			note(DiagAutocorrected, id, "duplicate node id, renamed")
		}

		kind := NodeKind(strings.ToUpper(coerceString(node.Type, "")))
		if kind == "" {
			kind = KindMessage
			note(DiagAutocorrected, id, "node without type, defaulted to MESSAGE")
		}

		name := coerceString(node.Name, "")
		if name == "" {
			name = "Node " + id
		}

		config := coerceMap(node.Config)
		if config == nil {
			config = map[string]any{}
		}
		fillConfigDefaults(kind, config, &g.Global)

		n := &Node{
			ID:       id,
			Kind:     kind,
			Name:     name,
			Config:   config,
			Next:     coerceString(node.Next, ""),
			OnTrue:   coerceString(node.OnTrue, ""),
			OnFalse:  coerceString(node.OnFalse, ""),
			Cases:    coerceCases(node.Cases),
			Parallel: coerceStringList(node.Parallel),
		}
		g.Nodes[id] = n
		g.Order = append(g.Order, id)
	}

	// Rule 6: start node.
	start := coerceString(raw.StartNodeID, "")
	if _, ok := g.Nodes[start]; !ok {
		if len(g.Order) > 0 {
			if start != "" {
				note(DiagAutocorrected, start, "start_node_id points at a missing node, moved to first node")
			}
			start = g.Order[0]
		} else {
			// Rule 6b: empty graph gets a stock greeting.
			start = "greeting"
			g.Nodes[start] = &Node{
				ID:     start,
				Kind:   KindGreeting,
				Name:   "Node " + start,
				Config: map[string]any{"message": g.Global.GreetingMessage},
			}
			g.Order = append(g.Order, start)
			diags = append(diags, Diagnostic{
				Code: DiagEmptyGraph, Severity: SeverityWarning,
				Message: "graph had no nodes, synthesized a greeting",
			})
		}
	}
	g.StartNodeID = start

	// Rule 7: drop edges and transition slots pointing at missing nodes.
	for i, re := range raw.Edges {
		var e rawEdge
		if err := json.Unmarshal(re, &e); err != nil {
			note(DiagDroppedEdge, "", fmt.Sprintf("edge %d is not an object, dropped", i))
			continue
		}
		src := coerceString(e.Source, "")
		dst := coerceString(e.Target, "")
		if _, ok := g.Nodes[src]; !ok {
			diags = append(diags, Diagnostic{Code: DiagDroppedEdge, Severity: SeverityWarning,
				Message: fmt.Sprintf("edge source %q does not exist, dropped", src)})
			continue
		}
		if _, ok := g.Nodes[dst]; !ok {
			diags = append(diags, Diagnostic{Code: DiagDroppedEdge, Severity: SeverityWarning,
				Message: fmt.Sprintf("edge target %q does not exist, dropped", dst)})
			continue
		}
		g.Edges = append(g.Edges, Edge{Source: src, Target: dst})
	}

	for _, id := range g.Order {
		n := g.Nodes[id]
		prune := func(slot *string, label string) {
			if *slot == "" {
				return
			}
			if _, ok := g.Nodes[*slot]; !ok {
				diags = append(diags, Diagnostic{Code: DiagAutocorrected, Severity: SeverityWarning, NodeID: id,
					Message: fmt.Sprintf("%s points at missing node %q, cleared", label, *slot)})
				*slot = ""
			}
		}
		prune(&n.Next, "next_node_id")
		prune(&n.OnTrue, "true_node_id")
		prune(&n.OnFalse, "false_node_id")

		kept := n.Cases[:0]
		for _, cs := range n.Cases {
			if _, ok := g.Nodes[cs.NodeID]; !ok {
				diags = append(diags, Diagnostic{Code: DiagAutocorrected, Severity: SeverityWarning, NodeID: id,
					Message: fmt.Sprintf("case %q points at missing node %q, dropped", cs.Key, cs.NodeID)})
				continue
			}
			kept = append(kept, cs)
		}
		n.Cases = kept

		keptPaths := n.Parallel[:0]
		for _, pid := range n.Parallel {
			if _, ok := g.Nodes[pid]; !ok {
				diags = append(diags, Diagnostic{Code: DiagAutocorrected, Severity: SeverityWarning, NodeID: id,
					Message: fmt.Sprintf("parallel path points at missing node %q, dropped", pid)})
				continue
			}
			keptPaths = append(keptPaths, pid)
		}
		n.Parallel = keptPaths
	}

	return g, diags
}

// fillConfigDefaults applies kind-specific config defaults (rule 5).
func fillConfigDefaults(kind NodeKind, config map[string]any, global *GlobalConfig) {
	setIfMissing := func(key string, value any) {
		if v, ok := config[key]; !ok || v == nil || v == "" {
			config[key] = value
		}
	}

	switch kind {
	case KindGreeting:
		setIfMissing("message", global.GreetingMessage)
	case KindEnd:
		setIfMissing("message", global.FarewellMessage)
	}

	if d, ok := inputDefaults[kind]; ok {
		setIfMissing("field_name", d.Field)
		setIfMissing("field_type", d.FieldKind)
		setIfMissing("prompt", d.Prompt)
	}
}

func coerceString(raw json.RawMessage, def string) string {
	if len(raw) == 0 {
		return def
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return def
}

func coerceMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func coerceStringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// coerceCases reads a JSON object preserving key order through the
// token stream, since SWITCH tie-breaking depends on definition order.
func coerceCases(raw json.RawMessage) []Case {
	if len(raw) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil
	}

	var cases []Case
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return cases
		}
		key, _ := keyTok.(string)

		var target any
		if err := dec.Decode(&target); err != nil {
			return cases
		}
		if id, ok := target.(string); ok && id != "" {
			cases = append(cases, Case{Key: key, NodeID: id})
		}
	}
	return cases
}

func coerceGlobalConfig(raw json.RawMessage) GlobalConfig {
	cfg := DefaultGlobalConfig()
	if len(raw) == 0 {
		return cfg
	}

	var w struct {
		MandatoryFields        []string       `json:"mandatory_fields"`
		MessageTimeoutSeconds  *int           `json:"message_timeout_seconds"`
		SessionTimeoutSeconds  *int           `json:"session_timeout_seconds"`
		IdleFollowupSeconds    *int           `json:"idle_followup_seconds"`
		MaxRetries             *int           `json:"max_retries"`
		Weights                map[string]int `json:"qualification_weights"`
		QualificationThreshold *int           `json:"qualification_threshold"`
		TimeoutMessage         string         `json:"timeout_message"`
		ValidationErrorMessage string         `json:"validation_error_message"`
		FarewellMessage        string         `json:"farewell_message"`
		GreetingMessage        string         `json:"greeting_message"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return cfg
	}

	cfg.MandatoryFields = w.MandatoryFields
	if w.MessageTimeoutSeconds != nil {
		cfg.MessageTimeoutSeconds = *w.MessageTimeoutSeconds
	}
	if w.SessionTimeoutSeconds != nil {
		cfg.SessionTimeoutSeconds = *w.SessionTimeoutSeconds
	}
	if w.IdleFollowupSeconds != nil {
		cfg.IdleFollowupSeconds = *w.IdleFollowupSeconds
	}
	if w.MaxRetries != nil {
		cfg.MaxRetries = *w.MaxRetries
	}
	if w.Weights != nil {
		cfg.Weights = w.Weights
	}
	if w.QualificationThreshold != nil {
		cfg.QualificationThreshold = *w.QualificationThreshold
	}
	if w.TimeoutMessage != "" {
		cfg.TimeoutMessage = w.TimeoutMessage
	}
	if w.ValidationErrorMessage != "" {
		cfg.ValidationErrorMessage = w.ValidationErrorMessage
	}
	if w.FarewellMessage != "" {
		cfg.FarewellMessage = w.FarewellMessage
	}
	if w.GreetingMessage != "" {
		cfg.GreetingMessage = w.GreetingMessage
	}
	return cfg
}
