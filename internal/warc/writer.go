// Package warc writes WARC/1.0 records, one gzip member per record, to a
// single open file.
package warc

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Record types written by the pipeline.
const (
	TypeWarcinfo = "warcinfo"
	TypeResponse = "response"
)

// ErrNotOpen is returned when writing without an open file.
var ErrNotOpen = errors.New("warc file not open")

// Hasher produces labeled block digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// RecordIDs produces WARC-Record-ID values.
type RecordIDs interface {
	NewRecordID() (string, error)
}

// Writer implements crawler.ArchiveWriter. It is not safe for concurrent use.
type Writer struct {
	hasher Hasher
	ids    RecordIDs
	now    func() time.Time

	file *os.File
	out  *countingWriter
	path string
}

// New builds a Writer.
func New(hasher Hasher, ids RecordIDs, now func() time.Time) *Writer {
	if now == nil {
		now = time.Now
	}
	return &Writer{hasher: hasher, ids: ids, now: now}
}

// Open creates path, closing any previously open file first.
func (w *Writer) Open(path string) error {
	if err := w.Close(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create warc dir: %w", err)
	}
	//nolint:gosec // path comes from configuration
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("open warc file: %w", err)
	}
	w.file = f
	w.out = &countingWriter{w: f}
	w.path = path
	return nil
}

// Path returns the open file's path, or "" when closed.
func (w *Writer) Path() string { return w.path }

// WriteRecord appends one record and returns its WARC-Record-ID. Named headers
// are written after the mandatory ones in key order; a caller supplied
// WARC-Record-ID is kept.
func (w *Writer) WriteRecord(recordType string, headers map[string]string, payload []byte) (string, error) {
	if w.file == nil {
		return "", ErrNotOpen
	}
	id := headers["WARC-Record-ID"]
	if id == "" {
		var err error
		if id, err = w.ids.NewRecordID(); err != nil {
			return "", fmt.Errorf("warc record id: %w", err)
		}
	}
	digest, err := w.hasher.Hash(payload)
	if err != nil {
		return "", fmt.Errorf("warc block digest: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("WARC/1.0\r\n")
	writeHeader(&buf, "WARC-Type", recordType)
	writeHeader(&buf, "WARC-Record-ID", id)
	writeHeader(&buf, "WARC-Date", w.now().UTC().Format(time.RFC3339))
	writeHeader(&buf, "WARC-Block-Digest", digest)
	writeHeader(&buf, "Content-Length", strconv.Itoa(len(payload)))
	keys := make([]string, 0, len(headers))
	for k := range headers {
		switch k {
		case "WARC-Type", "WARC-Record-ID", "WARC-Date", "WARC-Block-Digest", "Content-Length":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeHeader(&buf, k, headers[k])
	}
	buf.WriteString("\r\n")
	buf.Write(payload)
	buf.WriteString("\r\n\r\n")

	gz := gzip.NewWriter(w.out)
	if _, err := gz.Write(buf.Bytes()); err != nil {
		return "", fmt.Errorf("write warc record: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("finish warc record: %w", err)
	}
	return id, nil
}

// Tell returns the compressed bytes written to the open file.
func (w *Writer) Tell() int64 {
	if w.out == nil {
		return 0
	}
	return w.out.n
}

// Close closes the open file. Closing a closed Writer is a no-op.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file, w.out, w.path = nil, nil, ""
	if err != nil {
		return fmt.Errorf("close warc file: %w", err)
	}
	return nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

type countingWriter struct {
	w interface{ Write([]byte) (int, error) }
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
