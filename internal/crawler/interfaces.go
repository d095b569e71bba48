package crawler

import (
	"context"
	"io"
	"time"
)

// APIClient performs one templated HTTP call per page against a named API
// server and interaction.
type APIClient interface {
	SetServer(name string) error
	SetInteraction(name string) error
	SetParams(params map[string]string)
	Execute(ctx context.Context) (*ResponseEnvelope, error)
}

// Strategy is the per platform x crawl-type pagination algorithm.
type Strategy interface {
	Server() string
	Interaction() string
	Fetch(ctx context.Context, client APIClient, cursor Cursor) (Page, error)
}

// JobQueue is an unbounded FIFO of pending jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, job *Job) error
	Dequeue(ctx context.Context) (*Job, error)
	Len() int
}

// ResponseHandler is the entry point of the response pipeline.
type ResponseHandler interface {
	Handle(ctx context.Context, env *ResponseEnvelope) (ItemStats, error)
	ArchivePath() string
}

// JobObserver is notified after every status change a worker makes.
type JobObserver interface {
	JobChanged(ctx context.Context, snapshot JobSnapshot)
}

// LinkSink forwards outlink batches to a link-intake service.
type LinkSink interface {
	SendLinks(ctx context.Context, links []Outlink) error
}

// FactStore accepts triple batches.
type FactStore interface {
	PutTriples(ctx context.Context, triples []Triple) error
}

// ArchiveWriter appends archival records to one open file at a time.
type ArchiveWriter interface {
	Open(path string) error
	WriteRecord(recordType string, headers map[string]string, payload []byte) (string, error)
	Tell() int64
	Close() error
}

// BlobStore uploads closed output files and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// StatusMirror publishes job snapshots to an external store.
type StatusMirror interface {
	Put(ctx context.Context, snapshot JobSnapshot) error
}

// Hasher computes record digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
