package trust

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// KnownSenders is the registry of addresses the human has corresponded
// with. Matching is case-insensitive; patterns are exact addresses or
// @domain.com wildcards.
type KnownSenders struct {
	mu       sync.RWMutex
	patterns []string
}

// NewKnownSenders creates a registry from initial patterns.
func NewKnownSenders(patterns []string) *KnownSenders {
	ks := &KnownSenders{}
	for _, p := range patterns {
		ks.patterns = append(ks.patterns, strings.ToLower(strings.TrimSpace(p)))
	}
	return ks
}

// LoadKnownSenders reads a registry file. One pattern per line, lines
// starting with # are comments, empty lines are skipped.
func LoadKnownSenders(path string) (*KnownSenders, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open known senders: %w", err)
	}
	defer func() { _ = f.Close() }()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read known senders: %w", err)
	}
	return NewKnownSenders(patterns), nil
}

// IsKnown returns true if the sender matches any registered pattern.
func (ks *KnownSenders) IsKnown(sender string) bool {
	sender = strings.ToLower(strings.TrimSpace(sender))
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	for _, p := range ks.patterns {
		if p == sender {
			return true
		}
		if strings.HasPrefix(p, "@") && strings.HasSuffix(sender, p) {
			return true
		}
	}
	return false
}

// Patterns returns a copy of the registered patterns.
func (ks *KnownSenders) Patterns() []string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	out := make([]string, len(ks.patterns))
	copy(out, ks.patterns)
	return out
}

// Replace swaps the full pattern set. Used by hot-reload.
func (ks *KnownSenders) Replace(patterns []string) {
	next := make([]string, 0, len(patterns))
	for _, p := range patterns {
		next = append(next, strings.ToLower(strings.TrimSpace(p)))
	}
	ks.mu.Lock()
	ks.patterns = next
	ks.mu.Unlock()
}

// Add registers a sender pattern at runtime.
func (ks *KnownSenders) Add(pattern string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.patterns = append(ks.patterns, strings.ToLower(strings.TrimSpace(pattern)))
}
