package flow

import (
	"fmt"
	"strings"

	"github.com/leadflowhq/leadflow/flow/cond"
)

// Validate runs the structural checks on a canonical graph. ERROR-level
// findings make the graph unrunnable; warnings surface suspicious but
// tolerated shapes (dead ends, orphans, cycles).
func Validate(g *Graph) []Diagnostic {
	var diags []Diagnostic

	diags = append(diags, checkNodes(g)...)
	diags = append(diags, checkGlobal(&g.Global)...)
	diags = append(diags, checkReachability(g)...)
	diags = append(diags, checkCycles(g)...)

	return diags
}

func checkNodes(g *Graph) []Diagnostic {
	var diags []Diagnostic
	errf := func(code, nodeID, format string, args ...any) {
		diags = append(diags, Diagnostic{Code: code, Severity: SeverityError, NodeID: nodeID,
			Message: fmt.Sprintf(format, args...)})
	}
	warnf := func(code, nodeID, format string, args ...any) {
		diags = append(diags, Diagnostic{Code: code, Severity: SeverityWarning, NodeID: nodeID,
			Message: fmt.Sprintf(format, args...)})
	}

	for _, n := range g.NodesInOrder() {
		if !KnownKind(n.Kind) {
			warnf(DiagUnknownNodeKind, n.ID, "unknown node type %q", n.Kind)
		}

		for _, target := range n.transitionTargets() {
			if _, ok := g.Nodes[target]; !ok {
				errf(DiagMissingReference, n.ID, "transition points at missing node %q", target)
			}
		}

		requireConfig := func(keys ...string) {
			for _, key := range keys {
				if n.ConfigString(key, "") == "" {
					errf(DiagMissingConfigField, n.ID, "%s node requires config %q", n.Kind, key)
				}
			}
		}

		switch n.Kind {
		case KindQuestion:
			requireConfig("prompt", "field_name")
		case KindCondition:
			if n.ConfigString("expression", "") == "" {
				requireConfig("field", "operator")
				if op := n.ConfigString("operator", ""); op != "" && !cond.Known(cond.Operator(strings.ToLower(op))) {
					errf(DiagUnknownOperator, n.ID, "unknown operator %q", op)
				}
			}
			if n.OnTrue == "" || n.OnFalse == "" {
				warnf(DiagMissingBranch, n.ID, "CONDITION node is missing a branch, the missing side ends the flow")
			}
		case KindWebhookCall, KindAPIIntegration:
			requireConfig("url")
		case KindHandoff:
			requireConfig("client_message")
		case KindNotification, KindAlert:
			requireConfig("channel")
		case KindLoop:
			if n.ConfigInt("max_iterations", 1) < 0 {
				errf(DiagInvalidValue, n.ID, "max_iterations must be non-negative")
			}
		case KindDelay:
			if n.ConfigInt("delay_seconds", 0) < 0 {
				errf(DiagInvalidValue, n.ID, "delay_seconds must be non-negative")
			}
			if n.ConfigInt("delay_ms", 0) < 0 {
				errf(DiagInvalidValue, n.ID, "delay_ms must be non-negative")
			}
		}

		if n.Kind.InputKind() {
			if r := n.ConfigInt("max_retries", 0); r < 0 {
				errf(DiagInvalidValue, n.ID, "max_retries must be non-negative")
			}
		}

		if !n.Kind.Terminal() && !n.hasOutgoing() {
			warnf(DiagMissingNextNode, n.ID, "non-terminal node has no outgoing transition, the flow ends here")
		}
	}
	return diags
}

func checkGlobal(cfg *GlobalConfig) []Diagnostic {
	var diags []Diagnostic
	errNeg := func(name string, v int) {
		if v < 0 {
			diags = append(diags, Diagnostic{Code: DiagInvalidValue, Severity: SeverityError,
				Message: fmt.Sprintf("%s must be non-negative, got %d", name, v)})
		}
	}
	errNeg("message_timeout_seconds", cfg.MessageTimeoutSeconds)
	errNeg("session_timeout_seconds", cfg.SessionTimeoutSeconds)
	errNeg("idle_followup_seconds", cfg.IdleFollowupSeconds)
	errNeg("max_retries", cfg.MaxRetries)
	for field, w := range cfg.Weights {
		if w < 0 {
			diags = append(diags, Diagnostic{Code: DiagInvalidValue, Severity: SeverityError,
				Message: fmt.Sprintf("qualification weight for %q must be non-negative, got %d", field, w)})
		}
	}
	return diags
}

// checkReachability walks from the start node and flags every node the
// walk never reaches.
func checkReachability(g *Graph) []Diagnostic {
	reached := make(map[string]bool, len(g.Nodes))
	queue := []string{g.StartNodeID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if reached[id] {
			continue
		}
		n, ok := g.Nodes[id]
		if !ok {
			continue
		}
		reached[id] = true
		queue = append(queue, n.transitionTargets()...)
	}

	var diags []Diagnostic
	for _, id := range g.Order {
		if !reached[id] {
			diags = append(diags, Diagnostic{Code: DiagOrphanNode, Severity: SeverityWarning, NodeID: id,
				Message: fmt.Sprintf("node %q is unreachable from the start node", id)})
		}
	}
	return diags
}

// checkCycles reports every cycle found by depth-first search. Cycles
// are legitimate (retry loops, LOOP nodes) so they warn rather than
// fail; the runtime step cap is what actually bounds execution.
func checkCycles(g *Graph) []Diagnostic {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(g.Nodes))
	var stack []string
	var diags []Diagnostic

	var visit func(id string)
	visit = func(id string) {
		n, ok := g.Nodes[id]
		if !ok {
			return
		}
		state[id] = inStack
		stack = append(stack, id)
		for _, target := range n.transitionTargets() {
			switch state[target] {
			case unvisited:
				visit(target)
			case inStack:
				// Slice the stack from the first occurrence of the
				// target to show the full cycle path.
				start := 0
				for i, sid := range stack {
					if sid == target {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, stack[start:]...), target)
				diags = append(diags, Diagnostic{Code: DiagCycleDetected, Severity: SeverityWarning, NodeID: target,
					Message: fmt.Sprintf("cycle: %s", strings.Join(cycle, " -> "))})
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
	}

	for _, id := range g.Order {
		if state[id] == unvisited {
			visit(id)
		}
	}
	return diags
}
