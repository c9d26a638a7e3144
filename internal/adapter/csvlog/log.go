// Package csvlog is the durable, append-only record store. Every accepted
// reading becomes one CSV row, flushed and fsynced before Append returns.
//
// The file is a sequence of schema epochs. Each epoch starts with a header
// row; the log moves from V1 to V2 the first time a reading carries a
// location, and earlier rows are never rewritten.
package csvlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/couchcryptid/flood-telemetry/internal/domain"
)

type file interface {
	io.Writer
	Sync() error
	Close() error
}

// Log appends readings to a CSV file.
type Log struct {
	mu      sync.Mutex
	path    string
	f       file
	w       *csv.Writer
	version SchemaVersion
	rows    int
	logger  *slog.Logger
}

// Open opens or creates the record store at path. An existing file is
// scanned to recover the active schema version from its last header row.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create record store dir: %w", err)
		}
	}

	res, err := ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("scan record store: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	if err := terminateLastLine(path, f); err != nil {
		_ = f.Close()
		return nil, err
	}

	l := newLog(path, f, res.Version, logger)
	l.rows = len(res.Readings)
	logger.Info("record store opened",
		"path", path,
		"schema", res.Version.String(),
		"rows", len(res.Readings),
		"skipped_rows", res.Skipped,
	)
	return l, nil
}

func newLog(path string, f file, v SchemaVersion, logger *slog.Logger) *Log {
	return &Log{path: path, f: f, w: csv.NewWriter(f), version: v, logger: logger}
}

// terminateLastLine appends a newline when a previous run died mid-row, so
// the torn row stays isolated from the next one.
func terminateLastLine(path string, w io.Writer) error {
	r, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read record store tail: %w", err)
	}
	defer r.Close()

	info, err := r.Stat()
	if err != nil {
		return fmt.Errorf("stat record store: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := r.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("read record store tail: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := w.Write([]byte("\n")); err != nil {
		return fmt.Errorf("terminate torn row: %w", err)
	}
	return nil
}

// Path returns the file path.
func (l *Log) Path() string {
	return l.path
}

// Version returns the active schema version.
func (l *Log) Version() SchemaVersion {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// Rows returns the number of data rows in the file, including rows written
// by earlier runs.
func (l *Log) Rows() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rows
}

// EnsureSchema writes a header row if the file has none yet, or upgrades the
// log to V2 when a located reading arrives under V1.
func (l *Log) EnsureSchema(hasLocation bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ensureSchema(hasLocation)
}

func (l *Log) ensureSchema(hasLocation bool) error {
	var next SchemaVersion
	switch {
	case l.version == SchemaNone && hasLocation:
		next = SchemaV2
	case l.version == SchemaNone:
		next = SchemaV1
	case l.version == SchemaV1 && hasLocation:
		next = SchemaV2
	default:
		return nil
	}

	if err := l.w.Write(next.Columns()); err != nil {
		return fmt.Errorf("write %s header: %w", next, err)
	}
	if err := l.flush(); err != nil {
		return err
	}
	if l.version != SchemaNone {
		l.logger.Info("record store schema upgraded", "from", l.version.String(), "to", next.String())
	}
	l.version = next
	return nil
}

// Append writes one reading as a row, then flushes and fsyncs. A failed
// fsync returns an error wrapping domain.ErrNotDurable; the row still counts.
func (l *Log) Append(r domain.Reading) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureSchema(r.HasLocation()); err != nil {
		return err
	}
	if err := l.w.Write(encode(r, l.version)); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	if err := l.flush(); err != nil {
		return err
	}
	l.rows++

	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrNotDurable, err)
	}
	return nil
}

func (l *Log) flush() error {
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("flush record store: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	return errors.Join(l.w.Error(), l.f.Close())
}
