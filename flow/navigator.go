package flow

// Outcome is a handler's routing decision, resolved against the current
// node's transition slots by NextNode. It mirrors the closed set of ways
// a node can hand control onward; handlers construct outcomes through
// the helpers below, never directly.
type Outcome struct {
	Kind outcomeKind

	// Key selects a SWITCH case.
	Key string

	// Index selects a PARALLEL path.
	Index int
}

type outcomeKind int

const (
	outcomeSequential outcomeKind = iota
	outcomeTrue
	outcomeFalse
	outcomeSwitch
	outcomeParallel
	outcomeStay
	outcomeTerminal
)

// Sequential advances through the node's next slot.
func Sequential() Outcome { return Outcome{Kind: outcomeSequential} }

// TrueBranch advances through on_true.
func TrueBranch() Outcome { return Outcome{Kind: outcomeTrue} }

// FalseBranch advances through on_false.
func FalseBranch() Outcome { return Outcome{Kind: outcomeFalse} }

// SwitchCase advances through the named case.
func SwitchCase(key string) Outcome { return Outcome{Kind: outcomeSwitch, Key: key} }

// ParallelPath advances through parallel[index].
func ParallelPath(index int) Outcome { return Outcome{Kind: outcomeParallel, Index: index} }

// Stay keeps the conversation on the current node (waiting for input or
// re-prompting).
func Stay() Outcome { return Outcome{Kind: outcomeStay} }

// Terminal ends the conversation.
func Terminal() Outcome { return Outcome{Kind: outcomeTerminal} }

// NextNode resolves the handler outcome to the next node ID. The second
// return is false when the flow has no onward transition (terminal, a
// wait, or an empty slot).
//
// NextNode is pure graph-level position tracking: it emits no side
// effects and never consults collected data — the handler already did.
func NextNode(node *Node, out Outcome) (string, bool) {
	switch out.Kind {
	case outcomeSequential:
		return nonEmpty(node.Next)
	case outcomeTrue:
		return nonEmpty(node.OnTrue)
	case outcomeFalse:
		return nonEmpty(node.OnFalse)
	case outcomeSwitch:
		for _, c := range node.Cases {
			if c.Key == out.Key {
				return nonEmpty(c.NodeID)
			}
		}
		// Unmatched keys fall back to the default (next) slot.
		return nonEmpty(node.Next)
	case outcomeParallel:
		if out.Index >= 0 && out.Index < len(node.Parallel) {
			return nonEmpty(node.Parallel[out.Index])
		}
		return "", false
	}
	return "", false
}

func nonEmpty(id string) (string, bool) {
	if id == "" {
		return "", false
	}
	return id, true
}
