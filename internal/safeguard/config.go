// Package safeguard is the single authority allowed to approve an
// ActionRequest. It composes the detectors, the blocklist, the rate
// ledger, and the thread state machine into one serialized
// decision-and-commit step per thread.
package safeguard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/mailwarden/internal/alert"
	"github.com/ppiankov/mailwarden/internal/anomaly"
	"github.com/ppiankov/mailwarden/internal/model"
)

// Topic is one sensitive-topic keyword family. Any keyword hit in an
// outbound body downgrades the verdict to draft.
type Topic struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Config holds all configurable safeguard parameters.
type Config struct {
	// Budgets maps actor → sends per hour. The "*" key is the fallback
	// for unlisted actors.
	Budgets map[string]int `yaml:"budgets"`

	FollowUpAfter time.Duration `yaml:"follow_up_after"`
	MaxFollowUps  int           `yaml:"max_follow_ups"`

	Anomaly anomaly.Tolerances `yaml:"anomaly"`

	SensitiveTopics []Topic `yaml:"sensitive_topics"`

	// SafeDomains are link hosts that do not cost trust points.
	SafeDomains []string `yaml:"safe_domains"`

	// Alerts are webhook destinations notified on matching verdicts or
	// security event types.
	Alerts []alert.Config `yaml:"alerts"`

	BlocklistFile    string `yaml:"blocklist_file"`
	KnownSendersFile string `yaml:"known_senders_file"`
	SignaturesFile   string `yaml:"signatures_file"`
	AuditLog         string `yaml:"audit_log"`
	StatePath        string `yaml:"state_path"`
	PendingDir       string `yaml:"pending_dir"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Budgets:       map[string]int{"*": 10},
		FollowUpAfter: 72 * time.Hour,
		MaxFollowUps:  3,
		Anomaly:       anomaly.DefaultTolerances(),
		SensitiveTopics: []Topic{
			{
				Name:     "legal",
				Keywords: []string{"lawsuit", "litigation", "attorney", "legal action", "settlement", "subpoena"},
			},
			{
				Name:     "medical",
				Keywords: []string{"diagnosis", "medical record", "prescription", "patient", "health condition"},
			},
			{
				Name:     "financial",
				Keywords: []string{"bank account", "routing number", "credit card", "wire transfer", "tax return", "ssn", "social security"},
			},
		},
	}
}

// BudgetsByActor converts the YAML budget map to the ledger's key type.
func (c *Config) BudgetsByActor() map[model.Actor]int {
	out := make(map[model.Actor]int, len(c.Budgets))
	for k, v := range c.Budgets {
		out[model.Actor(k)] = v
	}
	return out
}

// LoadConfig loads configuration from a YAML file.
// Empty path falls back to ~/.mailwarden/config.yaml.
// Missing file returns defaults. Invalid YAML returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads configuration and returns its SHA-256 hash.
// The hash is computed over the raw YAML bytes on disk and is stamped
// into every audit entry so a replay can tell which policy was active.
// When no file exists (defaults used), the hash is the SHA-256 of
// empty input.
func LoadConfigWithHash(path string) (*Config, string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return DefaultConfig(), emptyHash(), nil
		}
		path = filepath.Join(home, ".mailwarden", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), emptyHash(), nil
		}
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, "", err
	}

	return cfg, hash, nil
}

func (c *Config) validate() error {
	for actor, budget := range c.Budgets {
		if budget < 0 {
			return fmt.Errorf("budget for %q must not be negative", actor)
		}
	}
	if c.FollowUpAfter < 0 {
		return fmt.Errorf("follow_up_after must not be negative")
	}
	if c.MaxFollowUps < 0 {
		return fmt.Errorf("max_follow_ups must not be negative")
	}
	return nil
}

func emptyHash() string {
	h := sha256.Sum256(nil)
	return "sha256:" + hex.EncodeToString(h[:])
}
