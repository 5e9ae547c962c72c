package flow

import (
	"strings"
	"time"

	"github.com/leadflowhq/leadflow/flow/cond"
)

// handleCondition evaluates either a boolean expression or a single
// (field, operator, value) triple and routes to the matching branch.
// Evaluation is fail-closed: anything malformed takes the false branch.
func handleCondition(e *Engine, st *step) *StepResult {
	data := st.data()

	var outcome bool
	if expr := st.node.ConfigString("expression", ""); expr != "" {
		outcome = cond.EvalExpression(expr, data)
	} else {
		op := cond.Operator(strings.ToLower(st.node.ConfigString("operator", "")))
		outcome = cond.EvaluateField(data, st.node.ConfigString("field", ""), op, st.node.Config["value"])
	}

	e.emitEvent(st.conv, conditionEvaluatedEvent(st.node.ID, outcome))

	route := FalseBranch()
	if outcome {
		route = TrueBranch()
	}
	return &StepResult{Kind: ResultContinue, Route: route}
}

// handleSwitch matches a field value against the ordered case keys:
// exact match first (case-insensitive), then the first case whose key is
// a substring of the value, then the default transition.
func handleSwitch(e *Engine, st *step) *StepResult {
	fieldName := st.node.ConfigString("field", st.node.ConfigString("field_name", ""))
	raw, _ := st.data()[fieldName]
	value := strings.ToLower(strings.TrimSpace(displayString(raw)))

	matched := ""
	for _, c := range st.node.Cases {
		if strings.ToLower(strings.TrimSpace(c.Key)) == value && value != "" {
			matched = c.Key
			break
		}
	}
	if matched == "" && value != "" {
		for _, c := range st.node.Cases {
			key := strings.ToLower(strings.TrimSpace(c.Key))
			if key != "" && strings.Contains(value, key) {
				matched = c.Key
				break
			}
		}
	}

	e.emitEvent(st.conv, switchBranchEvent(st.node.ID, fieldName, matched))

	if matched == "" {
		return &StepResult{Kind: ResultContinue, Route: Sequential()}
	}
	return &StepResult{Kind: ResultContinue, Route: SwitchCase(matched)}
}

// handleQualification scores the conversation against the configured
// weights and threshold and branches on the verdict. The score and
// verdict are persisted on the context.
func handleQualification(e *Engine, st *step) *StepResult {
	weights := st.graph.Global.Weights
	if override := st.node.ConfigMap("weights"); len(override) > 0 {
		weights = make(map[string]int, len(override))
		for k, v := range override {
			switch f := v.(type) {
			case float64:
				weights[k] = int(f)
			case int:
				weights[k] = f
			}
		}
	}
	if only := st.node.ConfigStrings("fields_evaluated"); len(only) > 0 {
		restricted := make(map[string]int, len(only))
		for _, f := range only {
			if w, ok := weights[f]; ok {
				restricted[f] = w
			}
		}
		weights = restricted
	}
	threshold := st.node.ConfigInt("min_score",
		st.node.ConfigInt("threshold", st.graph.Global.QualificationThreshold))

	qualified, total := st.conv.CheckQualified(weights, threshold)
	st.conv.QualificationScore = total
	st.conv.IsQualified = qualified

	breakdown := make(map[string]any, len(weights))
	for f, w := range weights {
		if st.conv.Collected.Has(f) {
			breakdown[f] = w
		}
	}
	st.conv.Metadata["score_breakdown"] = breakdown

	// The detailed scorer runs alongside the weighted sum: its
	// temperature and recommendations land in metadata for the caller
	// and the analytics stream.
	detailed := ScoreLead(st.conv, e.now())
	prev, _ := st.conv.Metadata["lead_temperature"].(string)
	st.conv.Metadata["lead_temperature"] = string(detailed.Temperature)
	st.conv.Metadata["lead_score_total"] = detailed.Total
	if prev != "" && prev != string(detailed.Temperature) {
		e.emitEvent(st.conv, temperatureChangedEvent(prev, string(detailed.Temperature)))
	}

	e.emitEvent(st.conv, leadScoredEvent(total, threshold, qualified))
	if qualified {
		e.emitEvent(st.conv, qualifiedEvent(total))
	} else {
		e.emitEvent(st.conv, disqualifiedEvent(total))
	}

	route := FalseBranch()
	if qualified {
		route = TrueBranch()
	}
	return &StepResult{
		Kind:          ResultContinue,
		Qualification: &Qualification{Qualified: qualified, Score: total},
		Route:         route,
	}
}

// handleLoop counts iterations in a conversation variable and takes the
// true branch while the count is within max_iterations and the loop
// condition (when configured) holds.
func handleLoop(e *Engine, st *step) *StepResult {
	max := st.node.ConfigInt("max_iterations", 3)
	varName := "_loop_" + st.node.ID + "_count"

	count := 0
	if v, ok := st.conv.Variables[varName].(float64); ok {
		count = int(v)
	} else if v, ok := st.conv.Variables[varName].(int); ok {
		count = v
	}
	count++
	st.conv.Variables[varName] = count

	again := count <= max
	if expr := st.node.ConfigString("loop_condition", ""); again && expr != "" {
		again = cond.EvalExpression(expr, st.data())
	}

	route := FalseBranch()
	if again {
		route = TrueBranch()
	}
	return &StepResult{Kind: ResultContinue, Route: route}
}

// handleParallel fans the conversation into its first path and reports
// the remaining paths for the caller to schedule. A PARALLEL node with
// no paths degrades to a plain message.
func handleParallel(e *Engine, st *step) *StepResult {
	if len(st.node.Parallel) == 0 {
		return handleUtterance(e, st)
	}

	st.conv.Metadata["_parallel_"+st.node.ID] = map[string]any{
		"remaining_paths": append([]string{}, st.node.Parallel[1:]...),
		"wait_for_all":    st.node.ConfigBool("wait_for_all", false),
		"merge_node_id":   st.node.ConfigString("merge_node_id", ""),
	}

	return &StepResult{
		Kind:               ResultParallel,
		ReplyText:          st.render(st.node.ConfigString("message", "")),
		NextNodeOverride:   st.node.Parallel[0],
		ParallelExtraPaths: append([]string{}, st.node.Parallel[1:]...),
		Route:              Sequential(),
	}
}

// handleDelay pauses before continuing. The duration comes from
// delay_seconds; delay_ms is the shared per-node jitter and still
// applies when no delay_seconds is set. The sleep is injectable so
// tests run instantly.
func handleDelay(e *Engine, st *step) *StepResult {
	if secs := st.node.ConfigInt("delay_seconds", 0); secs > 0 {
		e.sleep(time.Duration(secs) * time.Second)
	} else if ms := st.node.ConfigInt("delay_ms", 0); ms > 0 {
		e.sleep(time.Duration(ms) * time.Millisecond)
	}
	return &StepResult{
		Kind:      ResultContinue,
		ReplyText: st.render(st.node.ConfigString("message", "")),
		Route:     Sequential(),
	}
}

func displayString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ValueOf(v).Display()
}
