package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

type memRecord struct {
	path       string
	recordType string
	headers    map[string]string
	payload    []byte
}

// memArchive is an in-memory crawler.ArchiveWriter.
type memArchive struct {
	mu      sync.Mutex
	path    string
	size    int64
	opened  []string
	records []memRecord
	seq     int
}

func (m *memArchive) Open(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		return err
	}
	m.path, m.size = path, 0
	m.opened = append(m.opened, path)
	return nil
}

func (m *memArchive) WriteRecord(recordType string, headers map[string]string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.path == "" {
		return "", errors.New("not open")
	}
	m.seq++
	m.size += int64(len(payload)) + 100
	m.records = append(m.records, memRecord{path: m.path, recordType: recordType, headers: headers, payload: payload})
	return fmt.Sprintf("<urn:uuid:%d>", m.seq), nil
}

func (m *memArchive) Tell() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

func (m *memArchive) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.path, m.size = "", 0
	return nil
}

func (m *memArchive) snapshot() []memRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]memRecord(nil), m.records...)
}

// recordingSink collects batches and fails while fail is set.
type recordingSink[T any] struct {
	mu      sync.Mutex
	fail    bool
	batches [][]T
}

func (s *recordingSink[T]) deliver(_ context.Context, batch []T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("downstream unavailable")
	}
	s.batches = append(s.batches, append([]T(nil), batch...))
	return nil
}

func (s *recordingSink[T]) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func (s *recordingSink[T]) all() [][]T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]T(nil), s.batches...)
}

type linkSink struct{ recordingSink[crawler.Outlink] }

func (l *linkSink) SendLinks(ctx context.Context, links []crawler.Outlink) error {
	return l.deliver(ctx, links)
}

type factStore struct{ recordingSink[crawler.Triple] }

func (f *factStore) PutTriples(ctx context.Context, triples []crawler.Triple) error {
	return f.deliver(ctx, triples)
}

// memBackup is an in-memory BackupStore.
type memBackup struct {
	mu      sync.Mutex
	records [][]byte
	closed  bool
}

func (m *memBackup) Append(record []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, append([]byte(nil), record...))
	return nil
}

func (m *memBackup) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memBackup) all() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.records...)
}

type blobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    bool
}

func (b *blobStore) PutObject(_ context.Context, key, _ string, data io.Reader) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return "", errors.New("bucket unavailable")
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	if b.objects == nil {
		b.objects = map[string][]byte{}
	}
	b.objects[key] = raw
	return "mem://" + key, nil
}

func (b *blobStore) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.objects))
	for k := range b.objects {
		out = append(out, k)
	}
	return out
}
