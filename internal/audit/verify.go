package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult reports the integrity of an audit log. When the chain is
// broken it names the offending line plus the kind and thread of the
// entry found there, so the report can be lined up against a replay.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
	Kind      string `json:"kind,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// Verify walks a JSONL audit log and checks that every entry's
// prev_hash matches the hash of the line before it. The first entry
// must point at the genesis hash. Verification stops at the first
// broken link.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open log: %v", err)}
	}
	defer f.Close()

	want := GenesisHash
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		n++
		line := append([]byte(nil), sc.Bytes()...)

		var entry AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return VerifyResult{
				Error:     fmt.Sprintf("line is not a valid audit entry: %v", err),
				ErrorLine: n,
			}
		}
		if entry.PrevHash != want {
			return VerifyResult{
				Error:     fmt.Sprintf("chain broken: entry carries prev_hash %s, chain expects %s", entry.PrevHash, want),
				ErrorLine: n,
				Kind:      entry.Kind,
				ThreadID:  entry.ThreadID,
			}
		}
		want = HashLine(line)
	}
	if err := sc.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("read log: %v", err)}
	}
	return VerifyResult{Valid: true, Lines: n}
}
