package trust

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/mailwarden/internal/model"
)

func cleanMeta() model.MessageMeta {
	return model.MessageMeta{
		Sender:       "alice@example.com",
		KnownSender:  true,
		PriorThreads: 10,
	}
}

func TestPerfectScore(t *testing.T) {
	// Known sender with 10 prior threads, no links, no attachments:
	// 30+20+20+15+15 = 100.
	if got := Score(cleanMeta()); got != 100 {
		t.Errorf("Score = %d, want 100", got)
	}
}

func TestUnknownColdSender(t *testing.T) {
	meta := model.MessageMeta{Sender: "stranger@evil.com"}
	// No sender credit, no history credit; still clean content: 20+15+15.
	if got := Score(meta); got != 50 {
		t.Errorf("Score = %d, want 50", got)
	}
}

func TestMonotonicRiskFactors(t *testing.T) {
	base := Score(cleanMeta())
	cases := []struct {
		name   string
		mutate func(*model.MessageMeta)
	}{
		{"unknown sender", func(m *model.MessageMeta) { m.KnownSender = false }},
		{"no history", func(m *model.MessageMeta) { m.PriorThreads = 0 }},
		{"pattern matches", func(m *model.MessageMeta) { m.PatternMatches = 2 }},
		{"unsafe links", func(m *model.MessageMeta) { m.HasLinks = true; m.SafeLinks = false }},
		{"unsafe attachment", func(m *model.MessageMeta) { m.HasAttachments = true; m.SafeAttachments = false }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			meta := cleanMeta()
			c.mutate(&meta)
			if got := Score(meta); got >= base {
				t.Errorf("adding risk factor %q did not lower score: %d >= %d", c.name, got, base)
			}
		})
	}
}

func TestSafeLinksKeepCredit(t *testing.T) {
	meta := cleanMeta()
	meta.HasLinks = true
	meta.SafeLinks = true
	if got := Score(meta); got != 100 {
		t.Errorf("vetted links should keep full credit, got %d", got)
	}
}

func TestLevels(t *testing.T) {
	cases := []struct {
		score int
		want  Level
	}{
		{100, Normal},
		{80, Normal},
		{79, Caution},
		{50, Caution},
		{49, Quarantine},
		{0, Quarantine},
	}
	for _, c := range cases {
		if got := LevelFor(c.score); got != c.want {
			t.Errorf("LevelFor(%d) = %s, want %s", c.score, got, c.want)
		}
	}
}

func TestThreadScore(t *testing.T) {
	if got := ThreadScore(nil); got != 0 {
		t.Errorf("empty history must be worst case, got %d", got)
	}
	if got := ThreadScore([]int{100, 50}); got != 75 {
		t.Errorf("ThreadScore = %d, want 75", got)
	}
	if got := ThreadScore([]int{80, 80, 80}); got != 80 {
		t.Errorf("ThreadScore = %d, want 80", got)
	}
}

func TestKnownSenders(t *testing.T) {
	ks := NewKnownSenders([]string{"alice@example.com", "@corp.example"})

	if !ks.IsKnown("alice@example.com") {
		t.Error("exact match failed")
	}
	if !ks.IsKnown("Alice@Example.COM") {
		t.Error("matching must be case-insensitive")
	}
	if !ks.IsKnown("bob@corp.example") {
		t.Error("domain wildcard failed")
	}
	if ks.IsKnown("mallory@evil.com") {
		t.Error("unknown sender matched")
	}

	ks.Add("mallory@evil.com")
	if !ks.IsKnown("mallory@evil.com") {
		t.Error("Add did not register pattern")
	}
}

func TestLoadKnownSenders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "senders")
	content := "# team\nalice@example.com\n\n@corp.example\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	ks, err := LoadKnownSenders(path)
	if err != nil {
		t.Fatalf("LoadKnownSenders: %v", err)
	}
	if !ks.IsKnown("alice@example.com") || !ks.IsKnown("x@corp.example") {
		t.Error("loaded patterns not matching")
	}
}
