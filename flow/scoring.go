package flow

import (
	"strings"
	"time"

	"github.com/leadflowhq/leadflow/flow/score"
)

// ScoreLead runs the full lead scorer over a conversation, deriving the
// engagement metrics from the visit history and validation records.
func ScoreLead(conv *Context, now time.Time) score.Score {
	metrics := &score.Metrics{
		SessionDurationMinutes: conv.SessionDuration(now).Minutes(),
		RetriesPerField:        make(map[string]int, len(conv.FieldValidations)),
	}

	var latencies []time.Duration
	var lastInbound time.Time
	for _, v := range conv.Visits {
		if strings.TrimSpace(v.UserInput) == "" {
			continue
		}
		metrics.MessagesSent++
		if strings.Contains(v.UserInput, "?") {
			metrics.QuestionsAsked++
		}
		if !lastInbound.IsZero() {
			latencies = append(latencies, v.EnteredAt.Sub(lastInbound))
		}
		lastInbound = v.EnteredAt
	}
	if len(latencies) > 0 {
		var total time.Duration
		for _, d := range latencies {
			total += d
		}
		metrics.AvgResponseSeconds = (total / time.Duration(len(latencies))).Seconds()
	}

	for field, fv := range conv.FieldValidations {
		if retries := fv.Attempts - 1; retries > 0 {
			metrics.RetriesPerField[field] = retries
		}
	}

	return score.Compute(conv.Collected.Map(), metrics, nil)
}
