package pipeline

import (
	"fmt"
	"os"
	"time"
)

// RollingFile appends newline-terminated records to a local file and moves to
// a fresh file once the current one has grown past MaxBytes. The size check
// runs before each append, so a record is never split across two files.
// RollingFile is owned by a single goroutine.
type RollingFile struct {
	dir      string
	prefix   string
	maxBytes int64
	now      func() time.Time
	onRotate func(path string)

	file *os.File
	path string
	size int64
}

// NewRollingFile builds a RollingFile. The first file is created lazily on the
// first Append. onRotate, if set, receives each closed file's path.
func NewRollingFile(dir, prefix string, maxBytes int64, now func() time.Time, onRotate func(path string)) *RollingFile {
	if now == nil {
		now = time.Now
	}
	return &RollingFile{dir: dir, prefix: prefix, maxBytes: maxBytes, now: now, onRotate: onRotate}
}

// Append writes one record followed by a newline.
func (r *RollingFile) Append(record []byte) error {
	if r.file != nil && r.maxBytes > 0 && r.size > r.maxBytes {
		if err := r.rotate(); err != nil {
			return err
		}
	}
	if r.file == nil {
		if err := r.open(); err != nil {
			return err
		}
	}
	line := make([]byte, 0, len(record)+1)
	line = append(line, record...)
	line = append(line, '\n')
	n, err := r.file.Write(line)
	r.size += int64(n)
	if err != nil {
		return fmt.Errorf("append backup record: %w", err)
	}
	return nil
}

// Path returns the current file, or "" before the first Append.
func (r *RollingFile) Path() string { return r.path }

// Close closes the current file and hands it to onRotate.
func (r *RollingFile) Close() error {
	return r.rotate()
}

func (r *RollingFile) open() error {
	path, err := nextFileName(r.dir, r.prefix, ".jsonl", r.now())
	if err != nil {
		return err
	}
	//nolint:gosec // path is built from configuration
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("open backup file: %w", err)
	}
	r.file, r.path, r.size = f, path, 0
	return nil
}

func (r *RollingFile) rotate() error {
	if r.file == nil {
		return nil
	}
	closed := r.path
	err := r.file.Close()
	r.file, r.path, r.size = nil, "", 0
	if err != nil {
		return fmt.Errorf("close backup file: %w", err)
	}
	if r.onRotate != nil {
		r.onRotate(closed)
	}
	return nil
}
