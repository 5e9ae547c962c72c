// Package flow is the conversation-flow execution engine: it drives
// chat-style lead-qualification dialogues described by a directed graph
// of typed nodes.
//
// A Graph is loaded once (see Load), autocorrected and validated, and
// thereafter shared read-only across conversations. The Engine advances
// one conversation Context per inbound message, dispatching the current
// node to its handler, validating collected fields, branching on
// conditions, invoking side-effect actions, and scoring the lead.
package flow

import (
	"fmt"
	"strings"
)

// NodeKind selects a node handler. The set is closed; unknown tags are
// tolerated at the loading boundary and handled by the unknown-kind
// handler at runtime.
type NodeKind string

const (
	// Utterance.
	KindGreeting NodeKind = "GREETING"
	KindMessage  NodeKind = "MESSAGE"
	KindEnd      NodeKind = "END"

	// Input.
	KindQuestion    NodeKind = "QUESTION"
	KindName        NodeKind = "NAME"
	KindEmail       NodeKind = "EMAIL"
	KindPhone       NodeKind = "PHONE"
	KindCity        NodeKind = "CITY"
	KindAddress     NodeKind = "ADDRESS"
	KindTaxIDPerson NodeKind = "TAXID_PERSON"
	KindBirthDate   NodeKind = "BIRTHDATE"
	KindInterest    NodeKind = "INTEREST"
	KindBudget      NodeKind = "BUDGET"
	KindUrgency     NodeKind = "URGENCY"

	// Branching.
	KindCondition     NodeKind = "CONDITION"
	KindSwitch        NodeKind = "SWITCH"
	KindQualification NodeKind = "QUALIFICATION"

	// Side-effect.
	KindAction         NodeKind = "ACTION"
	KindWebhookCall    NodeKind = "WEBHOOK_CALL"
	KindAPIIntegration NodeKind = "API_INTEGRATION"
	KindNotification   NodeKind = "NOTIFICATION"
	KindAlert          NodeKind = "ALERT"
	KindFollowUp       NodeKind = "FOLLOWUP"
	KindProposal       NodeKind = "PROPOSAL"
	KindNegotiation    NodeKind = "NEGOTIATION"
	KindScheduling     NodeKind = "SCHEDULING"
	KindVisit          NodeKind = "VISIT"

	// Media.
	KindImage    NodeKind = "IMAGE"
	KindDocument NodeKind = "DOCUMENT"
	KindAudio    NodeKind = "AUDIO"
	KindVideo    NodeKind = "VIDEO"

	// Control.
	KindDelay    NodeKind = "DELAY"
	KindLoop     NodeKind = "LOOP"
	KindParallel NodeKind = "PARALLEL"
	KindHandoff  NodeKind = "HANDOFF"
)

// knownKinds is the closed set used by the loader to flag unknown tags.
var knownKinds = map[NodeKind]bool{
	KindGreeting: true, KindMessage: true, KindEnd: true,
	KindQuestion: true, KindName: true, KindEmail: true, KindPhone: true,
	KindCity: true, KindAddress: true, KindTaxIDPerson: true,
	KindBirthDate: true, KindInterest: true, KindBudget: true, KindUrgency: true,
	KindCondition: true, KindSwitch: true, KindQualification: true,
	KindAction: true, KindWebhookCall: true, KindAPIIntegration: true,
	KindNotification: true, KindAlert: true, KindFollowUp: true,
	KindProposal: true, KindNegotiation: true, KindScheduling: true, KindVisit: true,
	KindImage: true, KindDocument: true, KindAudio: true, KindVideo: true,
	KindDelay: true, KindLoop: true, KindParallel: true, KindHandoff: true,
}

// KnownKind reports membership in the closed node-kind set.
func KnownKind(kind NodeKind) bool { return knownKinds[kind] }

// Terminal reports whether the kind never transitions onward.
func (k NodeKind) Terminal() bool { return k == KindEnd || k == KindHandoff }

// MediaKind reports whether the kind is a media node.
func (k NodeKind) MediaKind() bool {
	return k == KindImage || k == KindDocument || k == KindAudio || k == KindVideo
}

// inputDefaults maps typed input kinds to their preset field name and
// validator kind. QUESTION configures both explicitly.
var inputDefaults = map[NodeKind]struct {
	Field     string
	FieldKind string
	Prompt    string
}{
	KindName:        {"name", "name", "Qual é o seu nome?"},
	KindEmail:       {"email", "email", "Qual é o seu e-mail?"},
	KindPhone:       {"phone", "phone", "Qual é o seu telefone com DDD?"},
	KindCity:        {"city", "city", "Em qual cidade você está?"},
	KindAddress:     {"address", "address", "Qual é o seu endereço?"},
	KindTaxIDPerson: {"taxid", "taxid_person", "Qual é o seu CPF?"},
	KindBirthDate:   {"birthdate", "birth_date", "Qual é a sua data de nascimento?"},
	KindInterest:    {"interest", "text", "O que você está procurando?"},
	KindBudget:      {"budget", "currency", "Qual é o seu orçamento?"},
	KindUrgency:     {"urgency", "text", "Para quando você precisa?"},
}

// InputKind reports whether the kind collects a field from the user.
func (k NodeKind) InputKind() bool {
	if k == KindQuestion {
		return true
	}
	_, ok := inputDefaults[k]
	return ok
}

// Case is one ordered entry of a SWITCH node's case map.
type Case struct {
	Key    string
	NodeID string
}

// Node is one vertex of the conversation graph. Transition slots point
// at other nodes by ID; which slots a node uses depends on its kind, and
// unused slots are empty.
type Node struct {
	ID     string
	Kind   NodeKind
	Name   string
	Config map[string]any

	// Transition slots.
	Next     string
	OnTrue   string
	OnFalse  string
	Cases    []Case
	Parallel []string
}

// Edge is an advisory connection kept for visual tooling. Transitions
// authoritatively come from node slots.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// GlobalConfig carries graph-wide settings with the documented defaults.
type GlobalConfig struct {
	MandatoryFields        []string       `json:"mandatory_fields,omitempty"`
	MessageTimeoutSeconds  int            `json:"message_timeout_seconds"`
	SessionTimeoutSeconds  int            `json:"session_timeout_seconds"`
	IdleFollowupSeconds    int            `json:"idle_followup_seconds"`
	MaxRetries             int            `json:"max_retries"`
	Weights                map[string]int `json:"qualification_weights,omitempty"`
	QualificationThreshold int            `json:"qualification_threshold"`

	TimeoutMessage         string `json:"timeout_message"`
	ValidationErrorMessage string `json:"validation_error_message"`
	FarewellMessage        string `json:"farewell_message"`
	GreetingMessage        string `json:"greeting_message"`
}

// Stock prompt defaults.
const (
	DefaultMessageTimeout  = 300
	DefaultSessionTimeout  = 1800
	DefaultIdleFollowup    = 600
	DefaultMaxRetries      = 3
	DefaultThreshold       = 70
	DefaultTimeoutMessage  = "Nossa conversa expirou por inatividade. Quando quiser, é só mandar uma nova mensagem!"
	DefaultValidationError = "Desculpe, não consegui entender. Pode tentar novamente?"
	DefaultFarewell        = "Obrigado pelo contato! Até logo."
	DefaultGreeting        = "Olá! Seja bem-vindo. Vou te fazer algumas perguntas rápidas, tudo bem?"
)

// DefaultGlobalConfig returns the documented defaults.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		MessageTimeoutSeconds:  DefaultMessageTimeout,
		SessionTimeoutSeconds:  DefaultSessionTimeout,
		IdleFollowupSeconds:    DefaultIdleFollowup,
		MaxRetries:             DefaultMaxRetries,
		QualificationThreshold: DefaultThreshold,
		TimeoutMessage:         DefaultTimeoutMessage,
		ValidationErrorMessage: DefaultValidationError,
		FarewellMessage:        DefaultFarewell,
		GreetingMessage:        DefaultGreeting,
	}
}

// Graph is the immutable conversation flow shared across conversations.
type Graph struct {
	Nodes       map[string]*Node
	Order       []string // node IDs in definition order
	Edges       []Edge
	StartNodeID string
	Version     string
	Name        string
	Description string
	Global      GlobalConfig
}

// Node looks a node up by ID.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

// NodesInOrder returns nodes in definition order.
func (g *Graph) NodesInOrder() []*Node {
	out := make([]*Node, 0, len(g.Order))
	for _, id := range g.Order {
		out = append(out, g.Nodes[id])
	}
	return out
}

// transitionTargets lists every node ID the node's slots point at.
func (n *Node) transitionTargets() []string {
	var out []string
	for _, id := range []string{n.Next, n.OnTrue, n.OnFalse} {
		if id != "" {
			out = append(out, id)
		}
	}
	for _, c := range n.Cases {
		if c.NodeID != "" {
			out = append(out, c.NodeID)
		}
	}
	for _, id := range n.Parallel {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// hasOutgoing reports whether any transition slot is set.
func (n *Node) hasOutgoing() bool {
	return len(n.transitionTargets()) > 0
}

// Config accessors. Node configs come from lenient JSON, so values may
// be missing or carry a different type; accessors coerce what they can.

// ConfigString returns a string config value, or def when absent.
func (n *Node) ConfigString(key, def string) string {
	v, ok := n.Config[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return def
		}
		return t
	}
	return fmt.Sprint(v)
}

// ConfigInt returns an integer config value, or def when absent or not
// numeric.
func (n *Node) ConfigInt(key string, def int) int {
	v, ok := n.Config[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		var i int
		if _, err := fmt.Sscanf(strings.TrimSpace(t), "%d", &i); err == nil {
			return i
		}
	}
	return def
}

// ConfigBool returns a boolean config value, or def.
func (n *Node) ConfigBool(key string, def bool) bool {
	v, ok := n.Config[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "sim":
			return true
		case "false", "0", "no", "não", "nao":
			return false
		}
	}
	return def
}

// ConfigStrings returns a list config value; scalar strings become a
// one-element list, comma separation is honoured.
func (n *Node) ConfigStrings(key string) []string {
	v, ok := n.Config[key]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		parts := strings.Split(t, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ConfigMap returns a nested object config value.
func (n *Node) ConfigMap(key string) map[string]any {
	if v, ok := n.Config[key].(map[string]any); ok {
		return v
	}
	return nil
}
