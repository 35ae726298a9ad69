// Package injection scans sanitized message text against a declarative
// catalog of prompt-injection signatures. Matchers are case-insensitive
// regular expressions, not semantic analysis. Matching is exhaustive —
// every signature is checked regardless of earlier hits — and the output
// order is catalog order, so identical input always yields an identical
// match list.
package injection

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/mailwarden/internal/model"
)

// Signature is one catalog entry: identifier, severity, matcher.
// Adding a signature never requires new control flow.
type Signature struct {
	ID          string
	Severity    model.Severity
	Pattern     string
	Description string

	re *regexp.Regexp
}

// defaultSignatures is the built-in catalog, ordered by family then severity.
var defaultSignatures = []Signature{
	// Direct instruction override
	{
		ID:          "override.ignore_instructions",
		Severity:    model.SevCritical,
		Pattern:     `(?:ignore|disregard|forget)\s+(?:all\s+|any\s+)?(?:previous|prior|above|earlier|your)\s+(?:instructions|directives|prompts|rules|guidance)`,
		Description: "direct instruction override",
	},
	{
		ID:          "override.new_instructions",
		Severity:    model.SevCritical,
		Pattern:     `(?:new|updated|revised)\s+instructions\s*:`,
		Description: "instruction replacement attempt",
	},
	// Role / system-tag hijack
	{
		ID:          "hijack.system_tag",
		Severity:    model.SevCritical,
		Pattern:     `(?:\[system\]|<system>|<\|im_start\|>\s*system|<<sys>>|^\s*system\s*:)`,
		Description: "embedded system-level directive tag",
	},
	{
		ID:          "hijack.role_reassignment",
		Severity:    model.SevHigh,
		Pattern:     `(?:you\s+are\s+now|act\s+as\s+(?:the\s+)?(?:system|admin|administrator|developer)|pretend\s+(?:to\s+be|you\s+are))`,
		Description: "role reassignment attempt",
	},
	// Delimiter / escape confusion
	{
		ID:          "escape.fake_delimiter",
		Severity:    model.SevHigh,
		Pattern:     `untrusted\s+content\s+(?:start|end)`,
		Description: "fake isolation delimiter inside content",
	},
	{
		ID:          "escape.block_terminator",
		Severity:    model.SevHigh,
		Pattern:     `(?:end\s+of\s+(?:untrusted|quoted|user)\s+(?:content|input|message)|---+\s*end\s+---+)`,
		Description: "untrusted-block terminator spoofing",
	},
	// Encoded-payload smuggling
	{
		ID:          "smuggle.base64_directive",
		Severity:    model.SevHigh,
		Pattern:     `(?:decode|execute|run|eval)\b[^\n]{0,80}[A-Za-z0-9+/]{40,}={0,2}`,
		Description: "base64-looking blob adjacent to directive language",
	},
	{
		ID:          "smuggle.base64_blob",
		Severity:    model.SevMedium,
		Pattern:     `[A-Za-z0-9+/]{120,}={0,2}`,
		Description: "large base64-looking blob",
	},
	// Urgency / authority social engineering
	{
		ID:          "social.authority_claim",
		Severity:    model.SevMedium,
		Pattern:     `(?:this\s+is\s+(?:your|the)\s+(?:ceo|boss|administrator|it\s+department)|on\s+behalf\s+of\s+(?:the\s+)?(?:ceo|management|security\s+team))`,
		Description: "authority impersonation phrasing",
	},
	{
		ID:          "social.urgency",
		Severity:    model.SevLow,
		Pattern:     `(?:urgent(?:ly)?|immediately|right\s+away|act\s+now|within\s+the\s+hour|before\s+it'?s\s+too\s+late)`,
		Description: "urgency pressure phrasing",
	},
	{
		ID:          "social.secrecy",
		Severity:    model.SevMedium,
		Pattern:     `(?:do\s+not\s+(?:tell|inform|mention\s+this\s+to)|keep\s+this\s+(?:between\s+us|confidential\s+from)|without\s+(?:telling|asking)\s+(?:the\s+)?(?:user|owner|human))`,
		Description: "secrecy pressure phrasing",
	},
}

// Catalog holds compiled signatures in evaluation order.
type Catalog struct {
	sigs []Signature
}

// catalogFile is the YAML shape for user-supplied signature overlays.
type catalogFile struct {
	Signatures []struct {
		ID          string `yaml:"id"`
		Severity    string `yaml:"severity"`
		Pattern     string `yaml:"pattern"`
		Description string `yaml:"description"`
	} `yaml:"signatures"`
}

// NewDefault compiles the built-in catalog.
func NewDefault() *Catalog {
	c, err := compile(defaultSignatures)
	if err != nil {
		// Built-in patterns are covered by tests; a compile failure here
		// is a programming error.
		panic(err)
	}
	return c
}

// Load reads extra signatures from a YAML file and appends them to the
// built-in catalog. Missing file returns the defaults. Invalid YAML or an
// uncompilable pattern returns an error so the caller can fail closed.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return NewDefault(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDefault(), nil
		}
		return nil, fmt.Errorf("read signature catalog: %w", err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse signature catalog: %w", err)
	}

	sigs := make([]Signature, 0, len(defaultSignatures)+len(f.Signatures))
	sigs = append(sigs, defaultSignatures...)
	for _, s := range f.Signatures {
		sev := model.Severity(s.Severity)
		if _, ok := model.SevRank[sev]; !ok {
			return nil, fmt.Errorf("signature %q: unknown severity %q", s.ID, s.Severity)
		}
		sigs = append(sigs, Signature{
			ID:          s.ID,
			Severity:    sev,
			Pattern:     s.Pattern,
			Description: s.Description,
		})
	}

	return compile(sigs)
}

func compile(sigs []Signature) (*Catalog, error) {
	compiled := make([]Signature, len(sigs))
	for i, s := range sigs {
		re, err := regexp.Compile("(?i)" + s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("signature %q: %w", s.ID, err)
		}
		s.re = re
		compiled[i] = s
	}
	return &Catalog{sigs: compiled}, nil
}

// Len returns the number of signatures in the catalog.
func (c *Catalog) Len() int {
	return len(c.sigs)
}
