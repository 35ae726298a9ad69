package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TimestampFormat is the layout used in audit entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// GenesisHash anchors the chain: the first entry in a fresh log carries
// it as prev_hash.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Log is an append-only JSONL audit log. Every entry links to the one
// before it through the SHA-256 hash of that entry's serialized line,
// so removing or editing any line breaks verification from that point
// on.
type Log struct {
	path string

	mu   sync.Mutex
	file *os.File
	tail string
}

// Open opens the audit log at path for appending, creating it and its
// parent directory as needed. An existing log has its chain tail
// recovered from the last line, so appends continue the chain across
// process restarts.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}
	tail, err := chainTail(path)
	if err != nil {
		return nil, fmt.Errorf("audit: recover chain tail: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}
	return &Log{path: path, file: file, tail: tail}, nil
}

// chainTail returns the hash the next entry must carry as prev_hash:
// the hash of the log's last line, or the genesis hash when the log is
// missing or empty.
func chainTail(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return GenesisHash, nil
		}
		return "", err
	}
	data = bytes.TrimRight(data, "\n")
	if len(data) == 0 {
		return GenesisHash, nil
	}
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[i+1:]
	}
	return HashLine(data), nil
}

// Record stamps the entry with the chain tail and a timestamp (when the
// caller left it empty), appends the serialized line, and syncs before
// advancing the tail. A write or sync failure leaves the tail
// unchanged, so a retry re-links to the same predecessor.
func (l *Log) Record(entry AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(TimestampFormat)
	}
	entry.PrevHash = l.tail

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}

	l.tail = HashLine(line)
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
