package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ReplayFilter holds filtering criteria for thread history replay.
type ReplayFilter struct {
	ThreadID string
	From     time.Time // zero value = no lower bound
	To       time.Time // zero value = no upper bound
}

// ReplaySummary holds verdict counts and metadata for a replayed thread.
type ReplaySummary struct {
	Total           int    `json:"total"`
	ApproveCount    int    `json:"approve_count"`
	DraftCount      int    `json:"draft_count"`
	BlockCount      int    `json:"block_count"`
	TransitionCount int    `json:"transition_count"`
	OverrideCount   int    `json:"override_count"`
	FirstTimestamp  string `json:"first_timestamp"`
	LastTimestamp   string `json:"last_timestamp"`
	FinalState      string `json:"final_state,omitempty"`
}

// ReplayResult holds filtered entries and summary for a thread replay.
type ReplayResult struct {
	ThreadID string        `json:"thread_id"`
	Entries  []AuditEntry  `json:"entries"`
	Summary  ReplaySummary `json:"summary"`
}

// Replay reads the audit log and returns entries matching the filter.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{
		ThreadID: filter.ThreadID,
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip malformed lines
		}

		if entry.ThreadID != filter.ThreadID {
			continue
		}

		if !filter.From.IsZero() || !filter.To.IsZero() {
			ts, err := time.Parse(TimestampFormat, entry.Timestamp)
			if err != nil {
				continue // skip unparseable timestamps
			}
			if !filter.From.IsZero() && ts.Before(filter.From) {
				continue
			}
			if !filter.To.IsZero() && ts.After(filter.To) {
				continue
			}
		}

		result.Entries = append(result.Entries, entry)
		updateSummary(&result.Summary, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	return result, nil
}

func updateSummary(s *ReplaySummary, entry AuditEntry) {
	s.Total++

	switch entry.Verdict {
	case "approve":
		s.ApproveCount++
	case "draft":
		s.DraftCount++
	case "block":
		s.BlockCount++
	}

	if entry.Kind == KindTransition {
		s.TransitionCount++
		s.FinalState = entry.ToState
		if entry.Override {
			s.OverrideCount++
		}
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = entry.Timestamp
	}
	s.LastTimestamp = entry.Timestamp
}
