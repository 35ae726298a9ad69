// Package blocklist holds addresses that must never receive
// agent-initiated sends. Membership is set-based — exact addresses or
// @domain wildcards — and changes only by explicit human action.
package blocklist

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Patterns is the raw YAML shape of a blocklist file.
type Patterns struct {
	Addresses []string `yaml:"addresses"`
}

// Blocklist answers set-membership queries over address patterns.
type Blocklist struct {
	mu       sync.RWMutex
	patterns map[string]bool
}

// New creates a Blocklist from raw patterns.
func New(p Patterns) *Blocklist {
	b := &Blocklist{patterns: make(map[string]bool, len(p.Addresses))}
	for _, a := range p.Addresses {
		b.patterns[normalize(a)] = true
	}
	return b
}

// Load reads a blocklist from a YAML file. A missing file yields an
// empty blocklist; invalid YAML is an error so the caller can fail closed.
func Load(path string) (*Blocklist, error) {
	if path == "" {
		return New(Patterns{}), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(Patterns{}), nil
		}
		return nil, fmt.Errorf("read blocklist: %w", err)
	}

	var p Patterns
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse blocklist: %w", err)
	}

	return New(p), nil
}

// IsBlocked checks a single address. Matching is case-insensitive;
// @domain patterns match any address at that domain.
func (b *Blocklist) IsBlocked(address string) (bool, string) {
	addr := normalize(address)
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.patterns[addr] {
		return true, addr
	}
	if at := strings.LastIndexByte(addr, '@'); at >= 0 {
		domain := addr[at:]
		if b.patterns[domain] {
			return true, domain
		}
	}
	return false, ""
}

// AnyBlocked checks a target list and returns the first blocked address
// and the pattern that matched it.
func (b *Blocklist) AnyBlocked(addresses []string) (string, string, bool) {
	for _, a := range addresses {
		if blocked, pattern := b.IsBlocked(a); blocked {
			return a, pattern, true
		}
	}
	return "", "", false
}

// Add registers a pattern at runtime.
func (b *Blocklist) Add(pattern string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.patterns[normalize(pattern)] = true
}

// Remove deletes a pattern. Returns false if it was not present.
func (b *Blocklist) Remove(pattern string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := normalize(pattern)
	if !b.patterns[key] {
		return false
	}
	delete(b.patterns, key)
	return true
}

// Replace swaps the full pattern set. Used by hot-reload so readers
// holding the Blocklist pointer see the new file contents.
func (b *Blocklist) Replace(p Patterns) {
	next := make(map[string]bool, len(p.Addresses))
	for _, a := range p.Addresses {
		next[normalize(a)] = true
	}
	b.mu.Lock()
	b.patterns = next
	b.mu.Unlock()
}

// List returns all patterns in sorted order.
func (b *Blocklist) List() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.patterns))
	for p := range b.patterns {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Save writes the blocklist to a YAML file.
func (b *Blocklist) Save(path string) error {
	data, err := yaml.Marshal(Patterns{Addresses: b.List()})
	if err != nil {
		return fmt.Errorf("marshal blocklist: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write blocklist: %w", err)
	}
	return os.Rename(tmp, path)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
