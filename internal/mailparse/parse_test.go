package mailparse

import (
	"strings"
	"testing"

	"github.com/ppiankov/mailwarden/internal/trust"
)

const plainEmail = "From: Alice <alice@example.com>\r\n" +
	"To: agent@corp.example\r\n" +
	"Subject: Quick question\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Could you check https://docs.example.com/page for me?\r\n" +
	"\r\n" +
	"-- \r\n" +
	"Alice | Example Corp\r\n"

func TestParsePlainText(t *testing.T) {
	e, err := Parse([]byte(plainEmail))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if e.From != "alice@example.com" {
		t.Errorf("From = %q, want alice@example.com", e.From)
	}
	if e.Subject != "Quick question" {
		t.Errorf("Subject = %q", e.Subject)
	}
	if strings.Contains(e.Body, "Example Corp") {
		t.Errorf("signature not stripped: %q", e.Body)
	}
	if len(e.Links) != 1 || e.Links[0] != "https://docs.example.com/page" {
		t.Errorf("Links = %v", e.Links)
	}
	if e.HasAttachments {
		t.Error("plain text email should not report attachments")
	}
}

func TestParseRejectsHTML(t *testing.T) {
	raw := "From: a@b.c\r\nContent-Type: text/html\r\n\r\n<p>hi</p>\r\n"
	if _, err := Parse([]byte(raw)); err == nil {
		t.Fatal("expected error for HTML email")
	}
}

func TestParseRejectsMissingFrom(t *testing.T) {
	raw := "Subject: no sender\r\n\r\nbody\r\n"
	if _, err := Parse([]byte(raw)); err == nil {
		t.Fatal("expected error for missing From")
	}
}

func TestParseMultipart(t *testing.T) {
	raw := "From: bob@example.com\r\n" +
		"Subject: report\r\n" +
		"Content-Type: multipart/mixed; boundary=XYZ\r\n" +
		"\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"See attached.\r\n" +
		"--XYZ\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=report.pdf\r\n" +
		"\r\n" +
		"%PDF-1.4 fake\r\n" +
		"--XYZ--\r\n"

	e, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if e.Body != "See attached." {
		t.Errorf("Body = %q", e.Body)
	}
	if !e.HasAttachments {
		t.Error("expected HasAttachments")
	}
}

func TestLinkDomains(t *testing.T) {
	e := &Email{Links: []string{
		"https://Docs.Example.com/a",
		"https://docs.example.com/b",
		"http://evil.test/x",
	}}
	got := e.LinkDomains()
	if len(got) != 2 || got[0] != "docs.example.com" || got[1] != "evil.test" {
		t.Errorf("LinkDomains = %v", got)
	}
}

func TestSafeDomainsSubdomain(t *testing.T) {
	s := NewSafeDomains([]string{"example.com"})
	if !s.Contains("docs.example.com") {
		t.Error("subdomain of listed host should be safe")
	}
	if s.Contains("example.com.evil.test") {
		t.Error("suffix-spoofed host must not be safe")
	}
}

func TestBuildMeta(t *testing.T) {
	known := trust.NewKnownSenders([]string{"alice@example.com"})
	safe := NewSafeDomains([]string{"example.com"})

	e, err := Parse([]byte(plainEmail))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	meta := BuildMeta(e, known, safe, 2, 0)
	if !meta.KnownSender {
		t.Error("expected KnownSender")
	}
	if !meta.HasLinks || !meta.SafeLinks {
		t.Errorf("links: has=%v safe=%v", meta.HasLinks, meta.SafeLinks)
	}
	if meta.PriorThreads != 2 {
		t.Errorf("PriorThreads = %d", meta.PriorThreads)
	}
}

func TestBuildMetaUnsafeLink(t *testing.T) {
	e := &Email{From: "x@y.z", Links: []string{"http://evil.test/a"}}
	meta := BuildMeta(e, nil, NewSafeDomains([]string{"example.com"}), 0, 0)
	if meta.SafeLinks {
		t.Error("unlisted link host must not be safe")
	}
}
