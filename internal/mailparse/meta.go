package mailparse

import (
	"strings"

	"github.com/ppiankov/mailwarden/internal/model"
	"github.com/ppiankov/mailwarden/internal/trust"
)

// SafeDomains is a set of link hosts considered safe for trust scoring.
// Subdomains of a listed host are also safe.
type SafeDomains struct {
	hosts map[string]bool
}

// NewSafeDomains builds a set from lowercase host names.
func NewSafeDomains(hosts []string) *SafeDomains {
	s := &SafeDomains{hosts: make(map[string]bool, len(hosts))}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			s.hosts[h] = true
		}
	}
	return s
}

// Contains reports whether host or one of its parent domains is listed.
func (s *SafeDomains) Contains(host string) bool {
	host = strings.ToLower(host)
	for {
		if s.hosts[host] {
			return true
		}
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			return false
		}
		host = host[idx+1:]
	}
}

// BuildMeta assembles the trust-scoring inputs for a parsed email.
// priorThreads is the count of completed threads with this sender and
// patternMatches the number of injection signatures found in the body.
// Attachments are never scanned, so any attachment counts as unsafe.
func BuildMeta(e *Email, known *trust.KnownSenders, safe *SafeDomains, priorThreads, patternMatches int) model.MessageMeta {
	meta := model.MessageMeta{
		Sender:         e.From,
		KnownSender:    known != nil && known.IsKnown(e.From),
		PriorThreads:   priorThreads,
		HasLinks:       len(e.Links) > 0,
		HasAttachments: e.HasAttachments,
		PatternMatches: patternMatches,
	}

	if meta.HasLinks {
		meta.SafeLinks = true
		for _, host := range e.LinkDomains() {
			if safe == nil || !safe.Contains(host) {
				meta.SafeLinks = false
				break
			}
		}
	}

	// SafeAttachments stays false whenever attachments are present.
	return meta
}
