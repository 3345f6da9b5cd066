package archive

import (
	"compress/gzip"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Writer stores raw messages below a Root using the layout
// YYYY/MM/DD/HHM0/HHMM-<uuid>.eml.gz, where HHM0 buckets by ten minutes.
type Writer struct {
	root   Root
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func NewWriter(root Root, logger *slog.Logger) *Writer {
	return &Writer{
		root:   root,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

// Write gzips raw into the archive and returns its root-relative path. A zero
// date files the message under the current time.
func (w *Writer) Write(raw []byte, date time.Time) (string, error) {
	if date.IsZero() {
		date = w.now()
	}
	date = date.UTC()

	rel := LayoutPath(date, w.newID())
	full, err := w.root.Resolve(rel)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	zw := gzip.NewWriter(tmp)
	if _, err := zw.Write(raw); err != nil {
		cleanup()
		return "", fmt.Errorf("compress message: %w", err)
	}
	if err := zw.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("compress message: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", fmt.Errorf("sync archive file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close archive file: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("move archive file into place: %w", err)
	}

	if w.logger != nil {
		w.logger.Debug("message archived", "path", rel, "bytes", len(raw))
	}
	return rel, nil
}

// LayoutPath builds the relative archive path for a message dated date.
func LayoutPath(date time.Time, id string) string {
	bucket := date.Minute() - date.Minute()%10
	return fmt.Sprintf("%04d/%02d/%02d/%02d%02d/%02d%02d-%s.eml.gz",
		date.Year(), date.Month(), date.Day(),
		date.Hour(), bucket,
		date.Hour(), date.Minute(), id)
}
