// Package sanitize strips executable and markup hazards from raw message
// content and wraps inbound text in explicit untrusted-content delimiters.
// Sanitization is pure and deterministic: the same raw input always yields
// byte-identical output. Unparseable input fails closed — an empty body
// with the parse-failure flag set, never raw bytes passed through.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/mailwarden/internal/model"
)

// Isolation delimiters wrapping inbound content. Applied strictly after
// stripping so the stripping rules can never eat them.
const (
	IsolationStart = "=== UNTRUSTED CONTENT START ==="
	IsolationEnd   = "=== UNTRUSTED CONTENT END ==="
)

// maxInvalidRatio is the fraction of invalid UTF-8 bytes above which the
// input is treated as binary garbage rather than text.
const maxInvalidRatio = 0.05

var (
	reComment      = regexp.MustCompile(`(?s)<!--.*?-->`)
	reScript       = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	reStyle        = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>`)
	reEventHandler = regexp.MustCompile(`(?i)\son[a-z]+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
)

// Sanitize produces an immutable ContentUnit from raw content.
// Inbound content is wrapped in isolation delimiters; outbound is not.
func Sanitize(raw string, provenance model.Provenance) model.ContentUnit {
	unit := model.ContentUnit{
		Raw:        raw,
		Provenance: provenance,
	}

	if !parsesAsText(raw) {
		unit.ParseFailed = true
		if provenance == model.Inbound {
			unit.Sanitized = isolate("")
			unit.Isolated = true
		}
		return unit
	}

	text := stripMarkup(raw)
	text = stripHazardousRunes(text)
	text = strings.TrimSpace(text)

	if provenance == model.Inbound {
		text = isolate(text)
		unit.Isolated = true
	}

	unit.Sanitized = text
	return unit
}

// parsesAsText rejects input with NUL bytes or a high share of invalid
// UTF-8 sequences.
func parsesAsText(raw string) bool {
	if strings.ContainsRune(raw, 0) {
		return false
	}
	if utf8.ValidString(raw) {
		return true
	}
	invalid := 0
	for i := 0; i < len(raw); {
		r, size := utf8.DecodeRuneInString(raw[i:])
		if r == utf8.RuneError && size == 1 {
			invalid++
		}
		i += size
	}
	return float64(invalid)/float64(len(raw)) <= maxInvalidRatio
}

func stripMarkup(text string) string {
	text = reScript.ReplaceAllString(text, "")
	text = reStyle.ReplaceAllString(text, "")
	text = reComment.ReplaceAllString(text, "")
	text = reEventHandler.ReplaceAllString(text, "")
	return text
}

func stripHazardousRunes(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == utf8.RuneError {
			// Stray invalid sequence below the garbage threshold — drop it.
			continue
		}
		if isHazardousRune(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isolate(text string) string {
	return IsolationStart + "\n" + text + "\n" + IsolationEnd
}

// Inner returns the sanitized body without the outer isolation delimiters.
// Detectors scan the inner body, so a delimiter string appearing inside
// the content is an attack signal, not sanitizer output.
func Inner(unit model.ContentUnit) string {
	if !unit.Isolated {
		return unit.Sanitized
	}
	body := strings.TrimPrefix(unit.Sanitized, IsolationStart+"\n")
	body = strings.TrimSuffix(body, "\n"+IsolationEnd)
	return body
}
