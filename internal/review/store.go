// Package review holds drafted actions awaiting human approval and
// applies human resolutions to security events. Drafts live as one JSON
// file each under a spool directory, so a reviewer can inspect them
// with nothing but cat.
package review

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/mailwarden/internal/model"
)

// validKey matches alphanumeric, dash, underscore, and dot characters only.
var validKey = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// validateKey rejects keys that could cause path traversal.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key must not be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("key must not contain '..'")
	}
	if !validKey.MatchString(key) {
		return fmt.Errorf("key contains invalid characters: only alphanumeric, dash, underscore, and dot are allowed")
	}
	return nil
}

// Status represents the state of a pending draft.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// Draft is one downgraded action waiting for a reviewer.
type Draft struct {
	ID        string     `json:"id"`
	ThreadID  string     `json:"thread_id"`
	Kind      string     `json:"kind"`
	Targets   []string   `json:"targets"`
	Body      string     `json:"body"`
	Reasons   []string   `json:"reasons"`
	EventIDs  []string   `json:"event_ids,omitempty"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	DecidedBy string     `json:"decided_by,omitempty"`
}

// Store manages draft files on disk.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a Store backed by the given directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create review directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// DefaultDir returns the default draft spool directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "mailwarden-pending")
	}
	return filepath.Join(home, ".mailwarden", "pending")
}

// Put files a new pending draft. No-op if the draft already exists.
func (s *Store) Put(d Draft) error {
	if err := validateKey(d.ID); err != nil {
		return fmt.Errorf("invalid draft id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(d.ID)
	if _, err := os.Stat(path); err == nil {
		return nil // already filed
	}

	d.Status = StatusPending
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	return s.writeAtomic(path, d)
}

// Get reads one draft by ID.
func (s *Store) Get(id string) (*Draft, error) {
	if err := validateKey(id); err != nil {
		return nil, fmt.Errorf("invalid draft id: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

// Decide marks a pending draft approved or denied. Deciding a draft
// that is not pending is an error.
func (s *Store) Decide(id string, status Status, reviewer string) (*Draft, error) {
	if err := validateKey(id); err != nil {
		return nil, fmt.Errorf("invalid draft id: %w", err)
	}
	if status != StatusApproved && status != StatusDenied {
		return nil, fmt.Errorf("decision must be approved or denied, got %q", status)
	}
	if reviewer == "" {
		return nil, fmt.Errorf("decision requires a reviewer")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.read(id)
	if err != nil {
		return nil, fmt.Errorf("draft %q not found: %w", id, err)
	}
	if d.Status != StatusPending {
		return nil, fmt.Errorf("draft %q already %s", id, d.Status)
	}

	now := time.Now().UTC()
	d.Status = status
	d.DecidedAt = &now
	d.DecidedBy = reviewer
	if err := s.writeAtomic(s.path(id), *d); err != nil {
		return nil, err
	}
	return d, nil
}

// Pending lists all pending drafts, oldest first.
func (s *Store) Pending() ([]Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read review directory: %w", err)
	}

	var out []Draft
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		d, err := s.read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue // skip unreadable files rather than losing the rest
		}
		if d.Status == StatusPending {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) read(id string) (*Draft, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, err
	}
	var d Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse draft %q: %w", id, err)
	}
	return &d, nil
}

func (s *Store) writeAtomic(path string, d Draft) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write draft: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit draft: %w", err)
	}
	return nil
}

// FromDecision builds a pending draft from a downgraded decision.
func FromDecision(id string, req *model.ActionRequest, d *model.Decision) Draft {
	var eventIDs []string
	for _, ev := range d.Events {
		eventIDs = append(eventIDs, ev.ID)
	}
	return Draft{
		ID:       id,
		ThreadID: req.ThreadID,
		Kind:     string(req.Kind),
		Targets:  req.Targets,
		Body:     req.Body.Sanitized,
		Reasons:  d.Reasons,
		EventIDs: eventIDs,
	}
}
