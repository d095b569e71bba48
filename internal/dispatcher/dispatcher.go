// Package dispatcher routes jobs to their platform queue and runs one worker
// per platform.
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/apicrawler/internal/crawler"
	"github.com/JakeFAU/apicrawler/internal/metrics"
)

// Runner is a long-running platform loop.
type Runner interface {
	Run(ctx context.Context)
}

// Lane pairs a platform's queue with the worker that drains it.
type Lane struct {
	Queue  crawler.JobQueue
	Worker Runner
}

// Dispatcher fans jobs out to per-platform lanes.
type Dispatcher struct {
	lanes   map[string]Lane
	metrics *metrics.Metrics
}

// New creates a Dispatcher. The lane set is fixed after construction.
func New(lanes map[string]Lane, m *metrics.Metrics) *Dispatcher {
	copied := make(map[string]Lane, len(lanes))
	for k, v := range lanes {
		copied[k] = v
	}
	return &Dispatcher{lanes: copied, metrics: m}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, lane := range d.lanes {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(lane.Worker)
	}
	<-ctx.Done()
	wg.Wait()
}

// HasPlatform reports whether a lane exists for platform.
func (d *Dispatcher) HasPlatform(platform string) bool {
	_, ok := d.lanes[platform]
	return ok
}

// Enqueue pushes job onto its platform queue.
func (d *Dispatcher) Enqueue(ctx context.Context, job *crawler.Job) error {
	platform := job.Spec().Platform
	lane, ok := d.lanes[platform]
	if !ok {
		return fmt.Errorf("%w: platform %s", crawler.ErrNotFound, platform)
	}
	if err := lane.Queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	d.metrics.SetQueueDepth(platform, lane.Queue.Len())
	return nil
}

// Load returns the pending job count of every platform.
func (d *Dispatcher) Load() map[string]int {
	load := make(map[string]int, len(d.lanes))
	for p, lane := range d.lanes {
		load[p] = lane.Queue.Len()
	}
	return load
}

// Platforms lists configured platforms in sorted order.
func (d *Dispatcher) Platforms() []string {
	out := make([]string, 0, len(d.lanes))
	for p := range d.lanes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
