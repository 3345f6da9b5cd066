// Package state remembers which imported messages already reached the
// archive, so repeated imports of the same mbox file or IMAP folder only
// archive what is new.
package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const fileName = "archived.jsonl"

type Tracker interface {
	AlreadyProcessed(hash string) bool
	// MarkProcessed records that the message with hash was archived at path.
	MarkProcessed(rec Record) error
	Lookup(hash string) (Record, bool)
	Snapshot() Snapshot
	Close() error
}

// Record describes one archived message.
type Record struct {
	Hash       string    `json:"hash"`
	MessageID  string    `json:"message_id"`
	Path       string    `json:"path,omitempty"`
	ArchivedAt time.Time `json:"archived_at,omitzero"`
}

type Snapshot struct {
	Processed int
}

type MemoryTracker struct {
	mu        sync.RWMutex
	processed map[string]Record
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{processed: make(map[string]Record)}
}

func (m *MemoryTracker) AlreadyProcessed(hash string) bool {
	_, ok := m.Lookup(hash)
	return ok
}

func (m *MemoryTracker) Lookup(hash string) (Record, bool) {
	if hash == "" {
		return Record{}, false
	}
	m.mu.RLock()
	rec, ok := m.processed[hash]
	m.mu.RUnlock()
	return rec, ok
}

func (m *MemoryTracker) MarkProcessed(rec Record) error {
	m.remember(rec)
	return nil
}

// remember stores rec and reports whether the hash was new.
func (m *MemoryTracker) remember(rec Record) bool {
	if rec.Hash == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.processed[rec.Hash]; exists {
		return false
	}
	m.processed[rec.Hash] = rec
	return true
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.processed)
	m.mu.RUnlock()
	return Snapshot{Processed: count}
}

func (m *MemoryTracker) Close() error { return nil }

// FileTracker appends every record to a JSON lines file in the state
// directory and reloads it on start.
type FileTracker struct {
	*MemoryTracker
	path    string
	persist bool
	writer  *bufio.Writer
	file    *os.File
	writeMu sync.Mutex
}

// NewFileTracker loads the state in stateDir. With persist unset (dry runs)
// new records only live in memory.
func NewFileTracker(stateDir string, persist bool) (*FileTracker, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	tracker := &FileTracker{
		MemoryTracker: NewMemoryTracker(),
		path:          filepath.Join(stateDir, fileName),
		persist:       persist,
	}

	if err := tracker.load(); err != nil {
		return nil, err
	}

	if persist {
		file, err := os.OpenFile(tracker.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open state file for append: %w", err)
		}
		tracker.file = file
		tracker.writer = bufio.NewWriterSize(file, 64*1024)
	}

	return tracker, nil
}

// Path returns the state file location.
func (f *FileTracker) Path() string {
	return f.path
}

func (f *FileTracker) load() error {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(text, &rec); err != nil {
			return fmt.Errorf("parse state line %d: %w", line, err)
		}
		f.remember(rec)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read state file: %w", err)
	}
	return nil
}

func (f *FileTracker) MarkProcessed(rec Record) error {
	if !f.remember(rec) || !f.persist {
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode state record: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("write state record: %w", err)
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

// Flush writes any buffered records to disk.
func (f *FileTracker) Flush() error {
	if !f.persist || f.writer == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flush state file: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("sync state file: %w", err)
	}
	return nil
}

// Close flushes and closes the state file.
func (f *FileTracker) Close() error {
	if !f.persist || f.file == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	var errs []error
	if err := f.writer.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush state file: %w", err))
	}
	if err := f.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync state file: %w", err))
	}
	if err := f.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close state file: %w", err))
	}
	f.file = nil
	return errors.Join(errs...)
}
