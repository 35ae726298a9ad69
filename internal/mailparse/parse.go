// Package mailparse extracts the fields the safeguard engine needs from
// raw RFC-5322 email: sender, subject, plain-text body, links, and
// attachment presence. HTML bodies are rejected — only plain text is
// scanned, so markup cannot smuggle content past the detectors.
package mailparse

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
)

// Email holds extracted fields from a raw message.
type Email struct {
	From           string
	Subject        string
	Body           string
	Links          []string
	HasAttachments bool
}

var reLink = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// Parse extracts sender, subject, plain-text body, links, and attachment
// presence from a raw email. text/html bodies are rejected; multipart
// messages contribute their first text/plain part, and any other part
// counts as an attachment.
func Parse(raw []byte) (*Email, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse email: %w", err)
	}

	from := msg.Header.Get("From")
	if from == "" {
		return nil, fmt.Errorf("email missing From header")
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("invalid From address: %w", err)
	}

	email := &Email{
		From:    addr.Address,
		Subject: msg.Header.Get("Subject"),
	}

	contentType := msg.Header.Get("Content-Type")
	mediaType := "text/plain"
	var params map[string]string
	if contentType != "" {
		if mt, p, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = mt
			params = p
		}
	}

	var body string
	switch {
	case mediaType == "text/html":
		return nil, fmt.Errorf("HTML emails are not supported")
	case strings.HasPrefix(mediaType, "multipart/"):
		body, email.HasAttachments, err = readMultipart(msg.Body, params["boundary"])
		if err != nil {
			return nil, err
		}
	default:
		data, err := io.ReadAll(msg.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		body = string(data)
	}

	email.Body = strings.TrimSpace(stripSignature(body))
	email.Links = reLink.FindAllString(email.Body, -1)
	return email, nil
}

// readMultipart returns the first text/plain part as the body and
// reports whether any non-text part (an attachment) is present.
func readMultipart(r io.Reader, boundary string) (string, bool, error) {
	if boundary == "" {
		return "", false, fmt.Errorf("multipart email missing boundary")
	}

	mr := multipart.NewReader(r, boundary)
	var body string
	hasAttachments := false

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", false, fmt.Errorf("read multipart: %w", err)
		}

		partType := part.Header.Get("Content-Type")
		mt := "text/plain"
		if partType != "" {
			if parsed, _, err := mime.ParseMediaType(partType); err == nil {
				mt = parsed
			}
		}

		disposition := part.Header.Get("Content-Disposition")
		isAttachment := strings.HasPrefix(disposition, "attachment")

		if mt == "text/plain" && !isAttachment && body == "" {
			data, err := io.ReadAll(part)
			if err != nil {
				return "", false, fmt.Errorf("read part: %w", err)
			}
			body = string(data)
			continue
		}
		hasAttachments = true
	}

	return body, hasAttachments, nil
}

// stripSignature removes the email signature block.
// The standard delimiter is "-- \n" (dash, dash, space, newline).
func stripSignature(body string) string {
	idx := strings.Index(body, "\n-- \n")
	if idx >= 0 {
		return body[:idx]
	}
	return body
}

// LinkDomains returns the unique lowercase hosts of the email's links.
func (e *Email) LinkDomains() []string {
	seen := make(map[string]bool)
	var out []string
	for _, link := range e.Links {
		u, err := url.Parse(link)
		if err != nil || u.Host == "" {
			continue
		}
		host := strings.ToLower(u.Hostname())
		if !seen[host] {
			seen[host] = true
			out = append(out, host)
		}
	}
	return out
}
