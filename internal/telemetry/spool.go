// internal/telemetry/spool.go
package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SpoolFile is the name of the spool inside the data directory.
const SpoolFile = "telemetry.jsonl"

// Spool is a JSONL-backed append-only telemetry sink. Records stay on disk
// until something else ships and truncates the file.
type Spool struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewSpool creates a spool writing to <dir>/telemetry.jsonl.
func NewSpool(dir string) *Spool {
	return &Spool{path: filepath.Join(dir, SpoolFile), now: time.Now}
}

// Path returns the spool file path.
func (s *Spool) Path() string {
	return s.path
}

// Log appends one record. Write failures are logged and dropped.
func (s *Spool) Log(_ context.Context, level Level, msg string, tags map[string]any) {
	rec := Record{Time: s.now().UTC(), Level: level, Message: msg, Tags: tags}
	if err := s.append(rec); err != nil {
		slog.Debug("telemetry spool write failed", "error", err)
	}
}

func (s *Spool) append(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create spool dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Tail returns the last limit records in the spool.
func (s *Spool) Tail(limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open spool: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan spool: %w", err)
	}

	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// Close is a no-op; every record is flushed as it is written.
func (s *Spool) Close() error { return nil }
