package flow

import (
	"bytes"
	"encoding/json"
)

// nodeJSON is the canonical node wire shape, minus case_node_ids which
// needs order-preserving hand encoding.
type nodeJSON struct {
	ID       string         `json:"id"`
	Type     NodeKind       `json:"type"`
	Name     string         `json:"name,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
	Next     string         `json:"next_node_id,omitempty"`
	OnTrue   string         `json:"true_node_id,omitempty"`
	OnFalse  string         `json:"false_node_id,omitempty"`
	Parallel []string       `json:"parallel_node_ids,omitempty"`
}

// MarshalJSON encodes a node in the canonical wire shape. Cases keep
// their definition order.
func (n *Node) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(nodeJSON{
		ID:       n.ID,
		Type:     n.Kind,
		Name:     n.Name,
		Config:   n.Config,
		Next:     n.Next,
		OnTrue:   n.OnTrue,
		OnFalse:  n.OnFalse,
		Parallel: n.Parallel,
	})
	if err != nil {
		return nil, err
	}
	if len(n.Cases) == 0 {
		return base, nil
	}

	var buf bytes.Buffer
	buf.Write(base[:len(base)-1]) // strip closing brace
	buf.WriteString(`,"case_node_ids":{`)
	for i, c := range n.Cases {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(c.NodeID)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// MarshalJSON encodes the graph in canonical form: loading the output
// again produces an identical graph with no further autocorrections.
func (g *Graph) MarshalJSON() ([]byte, error) {
	nodes := g.NodesInOrder()
	edges := g.Edges
	if edges == nil {
		edges = []Edge{}
	}
	return json.Marshal(struct {
		Nodes       []*Node      `json:"nodes"`
		Edges       []Edge       `json:"edges"`
		StartNodeID string       `json:"start_node_id"`
		Version     string       `json:"version"`
		Name        string       `json:"name,omitempty"`
		Description string       `json:"description,omitempty"`
		Global      GlobalConfig `json:"global_config"`
	}{
		Nodes:       nodes,
		Edges:       edges,
		StartNodeID: g.StartNodeID,
		Version:     g.Version,
		Name:        g.Name,
		Description: g.Description,
		Global:      g.Global,
	})
}
