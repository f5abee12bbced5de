// Package recording reconstructs recording state from the append-only
// recordings log and appends new entries to it.
package recording

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogFile is the name of the recordings log inside the recordings directory.
const LogFile = "recordings.log"

// Read replays <dir>/recordings.log. A missing log yields an empty snapshot.
func Read(dir string) (*Snapshot, error) {
	entries, err := ReadEntries(filepath.Join(dir, LogFile))
	if err != nil {
		return nil, err
	}
	return Fold(entries), nil
}

// ReadEntries decodes every well-formed line of the log at path. Malformed
// lines, including a trailing partial line, are skipped with a warning.
func ReadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open recordings log: %w", err)
	}
	defer f.Close()

	return decodeEntries(f, path)
}

func decodeEntries(r io.Reader, source string) ([]Entry, error) {
	var entries []Entry
	br := bufio.NewReader(r)
	for lineNo := 1; ; lineNo++ {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if e, ok := decodeLine(line, source, lineNo); ok {
				entries = append(entries, e)
			}
		}
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read recordings log: %w", err)
		}
	}
}

func decodeLine(line []byte, source string, lineNo int) (Entry, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(line, &e); err != nil {
		slog.Warn("skipping malformed recordings log line", "file", source, "line", lineNo, "error", err)
		return Entry{}, false
	}
	if e.Kind == "" {
		slog.Warn("skipping recordings log line without kind", "file", source, "line", lineNo)
		return Entry{}, false
	}
	return e, true
}

// Log appends entries to a recordings log.
type Log struct {
	path string
	mu   sync.Mutex
}

// NewLog returns a Log writing to <dir>/recordings.log.
func NewLog(dir string) *Log {
	return &Log{path: filepath.Join(dir, LogFile)}
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// Append writes one entry as a JSON line. A zero Timestamp is set to now.
func (l *Log) Append(_ context.Context, e Entry) error {
	if e.Kind == "" {
		return fmt.Errorf("append recordings log: entry has no kind")
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create recordings dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open recordings log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return nil
}
