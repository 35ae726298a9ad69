// Package commitment scans outbound draft text for language that implies
// a binding commitment: monetary amounts, contractual vocabulary, and
// explicit deadlines. Any match forces the safeguard decision down from
// send to draft-for-approval — a hard override, not a weighted score.
package commitment

import "regexp"

// Category labels a commitment family.
type Category string

const (
	Money    Category = "money"
	Legal    Category = "legal"
	Deadline Category = "deadline"
)

// rule binds a category to its matcher. The table is iterated generically;
// adding a category never adds control flow.
type rule struct {
	Category Category
	re       *regexp.Regexp
}

var rules = []rule{
	{Money, regexp.MustCompile(`(?i)(?:[$€£¥]\s?\d[\d,]*(?:\.\d+)?|\d[\d,]*(?:\.\d+)?\s?(?:usd|eur|gbp|dollars|euros|pounds)\b|(?:pay|wire|transfer|send|refund|invoice)\s+(?:you\s+|them\s+)?[$€£¥]?\d)`)},
	{Legal, regexp.MustCompile(`(?i)\b(?:contract|agreement|terms\s+and\s+conditions|legally\s+binding|liabilit(?:y|ies)|indemnif(?:y|ication)|warrant(?:y|ies)|non-disclosure|nda\b|sign(?:ed|ing)?\s+(?:the\s+)?(?:contract|agreement)|we\s+(?:agree|commit|guarantee)\s+to)`)},
	{Deadline, regexp.MustCompile(`(?i)\b(?:by\s+(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday|tomorrow|end\s+of\s+(?:day|week|month)|eod|eow|eom)|no\s+later\s+than|deadline\s+(?:is|of)|due\s+(?:date|on|by)|by\s+\d{1,2}[:/]\d{1,2}|before\s+\d{1,2}(?::\d{2})?\s?(?:am|pm))`)},
}

// Result is the outcome of one commitment scan.
type Result struct {
	Found      bool       `json:"found"`
	Categories []Category `json:"categories,omitempty"`
}

// Detect scans text against every category. Output order is table order.
func Detect(text string) Result {
	var r Result
	for _, rule := range rules {
		if rule.re.MatchString(text) {
			r.Found = true
			r.Categories = append(r.Categories, rule.Category)
		}
	}
	return r
}
