// Package score classifies leads from the data a conversation collected.
//
// Compute is a pure function: given equal inputs it produces identical
// output, including the order of category breakdowns, factors, reasons,
// and recommendations. The result strings are part of the product
// contract consumed by dashboards and CRM automations.
package score

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Temperature buckets a lead by total score.
type Temperature string

const (
	Hot  Temperature = "HOT"  // total >= 80
	Warm Temperature = "WARM" // total >= 50
	Cold Temperature = "COLD"
)

// Category caps. The five category scores are capped individually before
// the clamped 0-100 total is formed.
const (
	maxCompleteness = 50
	maxEngagement   = 20
	maxUrgency      = 20
	maxBonus        = 30
	maxBehavior     = 10
	minBehavior     = -10
)

// Metrics carries conversation-level measurements that feed the
// engagement and behavior categories. All fields are optional; a nil
// *Metrics scores as a neutral conversation.
type Metrics struct {
	// MessagesSent counts inbound messages from the lead.
	MessagesSent int

	// QuestionsAsked counts messages from the lead containing a question.
	QuestionsAsked int

	// AvgResponseSeconds is the lead's mean reply latency.
	AvgResponseSeconds float64

	// SessionDurationMinutes is the wall-clock span of the conversation.
	SessionDurationMinutes float64

	// RetriesPerField maps field name to failed validation attempts,
	// sourced from the context's field_validations records.
	RetriesPerField map[string]int

	// SentimentTags holds sentiment labels detected upstream.
	SentimentTags []string
}

// CategoryScore is one of the five breakdown rows in a Score.
type CategoryScore struct {
	Name      string   `json:"name"`
	Points    int      `json:"points"`
	MaxPoints int      `json:"max_points"`
	Factors   []string `json:"factors"`
}

// Score is the scorer's full output.
type Score struct {
	Total           int             `json:"total"`
	Temperature     Temperature     `json:"temperature"`
	Categories      []CategoryScore `json:"categories"`
	Reasons         []string        `json:"reasons"`
	Recommendations []string        `json:"recommendations"`
}

// scoredFields is the canonical field order for completeness scoring and
// default weights. Iteration over this slice, never over the weight map,
// keeps factor ordering deterministic.
var scoredFields = []string{
	"name", "phone", "email", "city", "interest", "budget",
	"urgency", "cep", "address", "taxid", "birthdate", "product", "model",
}

var defaultWeights = map[string]int{
	"name":      10,
	"phone":     15,
	"email":     10,
	"city":      5,
	"interest":  20,
	"budget":    25,
	"urgency":   15,
	"cep":       5,
	"address":   5,
	"taxid":     5,
	"birthdate": 3,
	"product":   10,
	"model":     8,
}

// DefaultWeights returns a copy of the built-in per-field weight table.
// Tenants may override any subset.
func DefaultWeights() map[string]int {
	out := make(map[string]int, len(defaultWeights))
	for k, v := range defaultWeights {
		out[k] = v
	}
	return out
}

// urgencyKeywords maps urgency phrases to points. Checked in order; the
// first phrase contained in the urgency field wins.
var urgencyKeywords = []struct {
	phrase string
	points int
}{
	{"imediata", 20},
	{"urgente", 20},
	{"agora", 20},
	{"hoje", 20},
	{"amanhã", 15},
	{"amanha", 15},
	{"esta semana", 12},
	{"essa semana", 12},
	{"este mês", 8},
	{"este mes", 8},
	{"sem pressa", 1},
}

var interestUrgencyHints = []string{"urgente", "preciso", "rápido", "rapido", "imediato"}

var topUrgency = []string{"imediata", "urgente", "agora", "hoje"}

// Compute scores a lead. weights may be nil to use DefaultWeights; fields
// present in weights but absent from the default table are appended to
// the completeness scan in sorted order.
func Compute(data map[string]any, metrics *Metrics, weights map[string]int) Score {
	if weights == nil {
		weights = defaultWeights
	}

	completeness := scoreCompleteness(data, weights)
	engagement := scoreEngagement(data, metrics)
	urgency := scoreUrgency(data)
	bonus := scoreBonuses(data)
	behavior := scoreBehavior(metrics)

	total := completeness.Points + engagement.Points + urgency.Points + bonus.Points + behavior.Points
	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}

	temp := Cold
	switch {
	case total >= 80:
		temp = Hot
	case total >= 50:
		temp = Warm
	}

	s := Score{
		Total:       total,
		Temperature: temp,
		Categories:  []CategoryScore{completeness, engagement, urgency, bonus, behavior},
	}
	s.Reasons = buildReasons(s, data)
	s.Recommendations = buildRecommendations(s, data)
	return s
}

func scoreCompleteness(data map[string]any, weights map[string]int) CategoryScore {
	cat := CategoryScore{Name: "completude_dados", MaxPoints: maxCompleteness, Factors: []string{}}

	for _, f := range fieldScanOrder(weights) {
		w := weights[f]
		if w <= 0 || !hasValue(data, f) {
			continue
		}
		cat.Points += w
		cat.Factors = append(cat.Factors, fmt.Sprintf("%s informado (+%d)", f, w))
	}

	if cat.Points > maxCompleteness {
		cat.Points = maxCompleteness
	}
	return cat
}

// fieldScanOrder lists weighted fields in canonical order, then any
// tenant-specific extras sorted by name.
func fieldScanOrder(weights map[string]int) []string {
	order := make([]string, 0, len(weights))
	seen := make(map[string]bool, len(weights))
	for _, f := range scoredFields {
		if _, ok := weights[f]; ok {
			order = append(order, f)
			seen[f] = true
		}
	}
	var extras []string
	for f := range weights {
		if !seen[f] {
			extras = append(extras, f)
		}
	}
	sort.Strings(extras)
	return append(order, extras...)
}

func scoreEngagement(data map[string]any, metrics *Metrics) CategoryScore {
	cat := CategoryScore{Name: "engajamento", MaxPoints: maxEngagement, Factors: []string{}}

	if metrics != nil {
		if metrics.AvgResponseSeconds > 0 && metrics.AvgResponseSeconds < 60 {
			cat.Points += 5
			cat.Factors = append(cat.Factors, "respostas rápidas (+5)")
		}
		if metrics.QuestionsAsked >= 2 {
			cat.Points += 5
			cat.Factors = append(cat.Factors, "fez perguntas (+5)")
		}
		if metrics.MessagesSent >= 5 {
			cat.Points += 5
			cat.Factors = append(cat.Factors, "conversa ativa (+5)")
		}
	}
	if countValues(data) >= 5 {
		cat.Points += 5
		cat.Factors = append(cat.Factors, "muitos dados fornecidos (+5)")
	}

	if cat.Points > maxEngagement {
		cat.Points = maxEngagement
	}
	return cat
}

func scoreUrgency(data map[string]any) CategoryScore {
	cat := CategoryScore{Name: "urgencia", MaxPoints: maxUrgency, Factors: []string{}}

	urgency := lowerString(data["urgency"])
	if urgency != "" {
		for _, kw := range urgencyKeywords {
			if strings.Contains(urgency, kw.phrase) {
				cat.Points += kw.points
				cat.Factors = append(cat.Factors, fmt.Sprintf("urgência %q (+%d)", kw.phrase, kw.points))
				break
			}
		}
	}

	interest := lowerString(data["interest"])
	for _, hint := range interestUrgencyHints {
		if strings.Contains(interest, hint) {
			cat.Points += 5
			cat.Factors = append(cat.Factors, "interesse menciona urgência (+5)")
			break
		}
	}

	if cat.Points > maxUrgency {
		cat.Points = maxUrgency
	}
	return cat
}

func scoreBonuses(data map[string]any) CategoryScore {
	cat := CategoryScore{Name: "bonus_qualificacao", MaxPoints: maxBonus, Factors: []string{}}

	urgency := lowerString(data["urgency"])
	for _, kw := range topUrgency {
		if strings.Contains(urgency, kw) {
			cat.Points += 15
			cat.Factors = append(cat.Factors, "urgência alta (+15)")
			break
		}
	}

	if budget, ok := budgetValue(data["budget"]); ok {
		switch {
		case budget > 50000:
			cat.Points += 10
			cat.Factors = append(cat.Factors, "orçamento alto (+10)")
		case budget >= 10000:
			cat.Points += 5
			cat.Factors = append(cat.Factors, "orçamento médio (+5)")
		}
	}

	if len(lowerString(data["interest"])) > 20 {
		cat.Points += 8
		cat.Factors = append(cat.Factors, "interesse detalhado (+8)")
	}
	if hasValue(data, "phone") && hasValue(data, "email") {
		cat.Points += 10
		cat.Factors = append(cat.Factors, "telefone e e-mail (+10)")
	}
	if hasValue(data, "name") && hasValue(data, "taxid") {
		cat.Points += 5
		cat.Factors = append(cat.Factors, "nome e documento (+5)")
	}
	if hasValue(data, "city") && (hasValue(data, "cep") || hasValue(data, "address")) {
		cat.Points += 5
		cat.Factors = append(cat.Factors, "localização completa (+5)")
	}

	if cat.Points > maxBonus {
		cat.Points = maxBonus
	}
	return cat
}

func scoreBehavior(metrics *Metrics) CategoryScore {
	cat := CategoryScore{Name: "comportamento", MaxPoints: maxBehavior, Factors: []string{}}
	cat.Points = maxBehavior

	if metrics == nil {
		return cat
	}

	for _, f := range sortedKeys(metrics.RetriesPerField) {
		if metrics.RetriesPerField[f] > 3 {
			cat.Points -= 5
			cat.Factors = append(cat.Factors, fmt.Sprintf("muitas tentativas em %s (-5)", f))
			break
		}
	}
	if metrics.AvgResponseSeconds > 0 && metrics.AvgResponseSeconds < 2 {
		cat.Points -= 10
		cat.Factors = append(cat.Factors, "respostas suspeitas de automação (-10)")
	}
	if metrics.AvgResponseSeconds > 300 {
		cat.Points -= 5
		cat.Factors = append(cat.Factors, "respostas muito lentas (-5)")
	}
	if metrics.SessionDurationMinutes > 60 {
		cat.Points -= 5
		cat.Factors = append(cat.Factors, "sessão muito longa (-5)")
	}
	for _, tag := range metrics.SentimentTags {
		if strings.Contains(strings.ToLower(tag), "negativ") {
			cat.Points -= 10
			cat.Factors = append(cat.Factors, "sentimento negativo (-10)")
			break
		}
	}

	if cat.Points < minBehavior {
		cat.Points = minBehavior
	}
	return cat
}

func buildReasons(s Score, data map[string]any) []string {
	reasons := []string{}

	switch s.Temperature {
	case Hot:
		reasons = append(reasons, "lead quente: alta probabilidade de conversão")
	case Warm:
		reasons = append(reasons, "lead morno: precisa de acompanhamento")
	default:
		reasons = append(reasons, "lead frio: baixo engajamento até o momento")
	}

	for _, cat := range s.Categories {
		if cat.Points > 0 && len(cat.Factors) > 0 {
			reasons = append(reasons, fmt.Sprintf("%s: %d/%d pontos", cat.Name, cat.Points, cat.MaxPoints))
		}
	}
	return reasons
}

func buildRecommendations(s Score, data map[string]any) []string {
	recs := []string{}

	switch s.Temperature {
	case Hot:
		recs = append(recs, "entrar em contato imediatamente")
	case Warm:
		recs = append(recs, "agendar follow-up em até 24 horas")
	default:
		recs = append(recs, "incluir em campanha de nutrição")
	}

	if !hasValue(data, "phone") {
		recs = append(recs, "coletar telefone de contato")
	}
	if !hasValue(data, "email") {
		recs = append(recs, "coletar e-mail")
	}
	if !hasValue(data, "budget") {
		recs = append(recs, "investigar orçamento disponível")
	}
	if !hasValue(data, "urgency") {
		recs = append(recs, "entender o prazo de decisão")
	}
	return recs
}

func hasValue(data map[string]any, field string) bool {
	v, ok := data[field]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

func countValues(data map[string]any) int {
	n := 0
	for f := range data {
		if hasValue(data, f) {
			n++
		}
	}
	return n
}

func lowerString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(t))
	case nil:
		return ""
	}
	return strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// budgetValue parses a budget that may be stored as a number or as a
// formatted currency string ("R$ 800.000", "1,234.56").
func budgetValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		s := strings.NewReplacer("R$", "", "r$", "", "$", "", " ", "").Replace(strings.TrimSpace(t))
		lastComma := strings.LastIndex(s, ",")
		lastDot := strings.LastIndex(s, ".")
		switch {
		case lastComma >= 0 && lastDot >= 0:
			if lastComma > lastDot {
				s = strings.ReplaceAll(s, ".", "")
				s = strings.Replace(s, ",", ".", 1)
			} else {
				s = strings.ReplaceAll(s, ",", "")
			}
		case lastComma >= 0:
			if len(s)-lastComma-1 == 3 && strings.Count(s, ",") == 1 {
				s = strings.ReplaceAll(s, ",", "")
			} else {
				s = strings.Replace(s, ",", ".", 1)
			}
		case lastDot >= 0:
			// Dots with three trailing digits read as thousands markers.
			if len(s)-lastDot-1 == 3 {
				s = strings.ReplaceAll(s, ".", "")
			}
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
