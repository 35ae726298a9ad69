package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	if len(result.Entries) == 0 {
		return fmt.Sprintf("Thread: %s | No entries found.\n", result.ThreadID)
	}

	var b strings.Builder

	first := formatDateRange(result.Summary.FirstTimestamp)
	last := formatTimeOnly(result.Summary.LastTimestamp)
	b.WriteString(fmt.Sprintf("Thread: %s | %s–%s UTC\n", result.ThreadID, first, last))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		ts := formatTimeOnly(e.Timestamp)
		switch e.Kind {
		case KindTransition:
			tag := ""
			if e.Override {
				tag = "  [override]"
			}
			b.WriteString(fmt.Sprintf("%-10s %-10s %s → %s (%s)%s\n",
				ts, "STATE", e.FromState, e.ToState, e.Actor, tag))
		case KindResolution:
			b.WriteString(fmt.Sprintf("%-10s %-10s event %s → %s (%s)\n",
				ts, "RESOLVE", e.EventID, e.Resolution, e.Actor))
		default:
			reason := ""
			if len(e.Reasons) > 0 {
				reason = truncate(e.Reasons[0], 44)
			}
			b.WriteString(fmt.Sprintf("%-10s %-10s %-6s score=%-3d %s\n",
				ts, strings.ToUpper(e.Verdict), e.Action, e.Score, reason))
		}
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))

	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func formatDateRange(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s ReplaySummary) string {
	parts := []string{}
	if s.ApproveCount > 0 {
		parts = append(parts, fmt.Sprintf("%d approve", s.ApproveCount))
	}
	if s.DraftCount > 0 {
		parts = append(parts, fmt.Sprintf("%d draft", s.DraftCount))
	}
	if s.BlockCount > 0 {
		parts = append(parts, fmt.Sprintf("%d block", s.BlockCount))
	}
	if s.TransitionCount > 0 {
		parts = append(parts, fmt.Sprintf("%d transitions", s.TransitionCount))
	}
	if s.OverrideCount > 0 {
		parts = append(parts, fmt.Sprintf("%d overrides", s.OverrideCount))
	}

	out := fmt.Sprintf("Summary: %s", strings.Join(parts, ", "))
	if s.FinalState != "" {
		out += fmt.Sprintf(" | Final state: %s", s.FinalState)
	}
	return out + "\n"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
