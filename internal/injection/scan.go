package injection

import "github.com/ppiankov/mailwarden/internal/model"

// maxSpan caps the matched span recorded in a DetectionMatch.
const maxSpan = 120

// Scan checks text against every signature in catalog order.
// A single input can produce multiple matches; the result order is the
// catalog order, not discovery order.
func (c *Catalog) Scan(text string) []model.DetectionMatch {
	var matches []model.DetectionMatch
	for _, s := range c.sigs {
		loc := s.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		span := text[loc[0]:loc[1]]
		if len(span) > maxSpan {
			span = span[:maxSpan]
		}
		matches = append(matches, model.DetectionMatch{
			PatternID:   s.ID,
			Severity:    s.Severity,
			Span:        span,
			Description: s.Description,
		})
	}
	return matches
}

// AggregateSeverity returns the maximum severity among matches,
// or SevLow for an empty match list.
func AggregateSeverity(matches []model.DetectionMatch) model.Severity {
	sev := model.SevLow
	for _, m := range matches {
		sev = model.MaxSeverity(sev, m.Severity)
	}
	return sev
}
