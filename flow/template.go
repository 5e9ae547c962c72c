package flow

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderPattern matches {field} occurrences in message templates.
var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// RenderTemplate substitutes {field} placeholders from the collected
// data. Unresolved placeholders are removed, and leftover double spaces
// from removals are collapsed.
func RenderTemplate(template string, data map[string]any) string {
	if template == "" {
		return ""
	}

	out := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		v, ok := data[name]
		if !ok || v == nil {
			return ""
		}
		switch t := v.(type) {
		case string:
			return t
		case float64:
			return trimFloat(t)
		}
		return fmt.Sprint(v)
	})

	out = strings.ReplaceAll(out, "  ", " ")
	return strings.TrimSpace(out)
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%.2f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

// renderTemplateMap templates every string value of a payload object,
// recursing into nested objects. Used for webhook bodies and action
// payloads.
func renderTemplateMap(payload map[string]any, data map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch t := v.(type) {
		case string:
			out[k] = RenderTemplate(t, data)
		case map[string]any:
			out[k] = renderTemplateMap(t, data)
		default:
			out[k] = v
		}
	}
	return out
}
