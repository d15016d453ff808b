package catalog

import (
	"context"
	"sort"
	"strings"

	"actionhub/internal/models"
)

// Ranked is one match candidate with the confidence it was ranked under.
type Ranked struct {
	Definition models.ActionDefinition
	Confidence float64
}

// Match returns the action templates that qualify for the message, best
// first. Built-ins qualify on keyword triggers against the raw text;
// dynamic create-entity templates qualify on a confident
// new_request/new_workflow classification, since keyword triggers are
// unreliable across arbitrary entity names.
func (c *Catalog) Match(ctx context.Context, message string, analysis *models.IntentAnalysis) []Ranked {
	if analysis == nil {
		analysis = &models.IntentAnalysis{}
	}

	lowered := strings.ToLower(message)
	creationIntent := analysis.Intent == models.IntentNewRequest || analysis.Intent == models.IntentNewWorkflow

	type candidate struct {
		def       models.ActionDefinition
		index     int
		suggested bool
		conf      float64
		nameHit   bool
	}

	var cands []candidate
	for i, def := range c.Discover(ctx) {
		suggested := analysis.SuggestedActionID != "" && analysis.SuggestedActionID == def.ID

		qualifies := suggested
		if !qualifies {
			if def.Executor == models.ExecutorEntityCreate {
				qualifies = creationIntent && analysis.Confidence >= c.cfg.MinDynamicConfidence
			} else {
				qualifies = triggerHit(lowered, def.Triggers)
			}
		}
		if !qualifies {
			continue
		}

		conf := analysis.Confidence
		if suggested {
			conf = 1.0
		}
		cands = append(cands, candidate{
			def:       def,
			index:     i,
			suggested: suggested,
			conf:      conf,
			nameHit:   entityNameInMessage(def, lowered),
		})
	}

	// Index compare last keeps the order total: equal-confidence,
	// equal-name-score candidates fall through to registration order.
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.suggested != b.suggested {
			return a.suggested
		}
		if a.conf != b.conf {
			return a.conf > b.conf
		}
		if a.nameHit != b.nameHit {
			return a.nameHit
		}
		return a.index < b.index
	})

	out := make([]Ranked, 0, len(cands))
	for _, cand := range cands {
		out = append(out, Ranked{Definition: cand.def, Confidence: cand.conf})
	}
	return out
}

func triggerHit(lowered string, triggers []string) bool {
	for _, t := range triggers {
		if t == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// entityNameInMessage reports whether the target entity's own class name
// appears literally in the message text.
func entityNameInMessage(def models.ActionDefinition, lowered string) bool {
	class := def.EntityClass
	if class == "" {
		return false
	}
	if i := strings.IndexByte(class, ':'); i >= 0 {
		class = class[i+1:]
	}
	return strings.Contains(lowered, strings.ToLower(class))
}
