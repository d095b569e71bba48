// Package manager owns the live job set and the campaigns that group jobs. It
// validates crawl requests, expands periodic requests into one job per
// offset, and implements the cooperative stop and removal protocol.
package manager

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

// DefaultDateLayout is the request date format.
const DefaultDateLayout = "2006-01-02_15:04:05"

// Scheduler places jobs on platform queues.
type Scheduler interface {
	HasPlatform(platform string) bool
	Enqueue(ctx context.Context, job *crawler.Job) error
	Load() map[string]int
}

// StrategyFactory resolves a (platform, strategy) pair for a job.
type StrategyFactory interface {
	New(platform, strategy string, params []string) (crawler.Strategy, error)
}

// Config controls Manager behavior.
type Config struct {
	StopTimeout      time.Duration
	StopPollInterval time.Duration
	DateLayout       string
}

// Manager implements the crawl lifecycle operations.
type Manager struct {
	cfg        Config
	strategies StrategyFactory
	scheduler  Scheduler
	clock      crawler.Clock
	ids        crawler.IDGenerator
	mirror     crawler.StatusMirror
	logger     *zap.Logger

	mu        sync.RWMutex
	jobs      map[string]*crawler.Job
	campaigns map[string]*campaign
}

type campaign struct {
	id        string
	createdAt time.Time
	jobs      map[string]struct{}
	counted   map[string]struct{}
	stats     map[string]crawler.PlatformStats
}

// New constructs a Manager. mirror may be nil.
func New(
	cfg Config,
	strategies StrategyFactory,
	scheduler Scheduler,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	mirror crawler.StatusMirror,
	logger *zap.Logger,
) *Manager {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 90 * time.Second
	}
	if cfg.StopPollInterval <= 0 {
		cfg.StopPollInterval = time.Second
	}
	if cfg.DateLayout == "" {
		cfg.DateLayout = DefaultDateLayout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:        cfg,
		strategies: strategies,
		scheduler:  scheduler,
		clock:      clock,
		ids:        ids,
		mirror:     mirror,
		logger:     logger.Named("manager"),
		jobs:       make(map[string]*crawler.Job),
		campaigns:  make(map[string]*campaign),
	}
}

// ParseTime parses a request date. An empty string yields nil.
func (m *Manager) ParseTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(m.cfg.DateLayout, value, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q: %v", crawler.ErrInvalidRequest, value, err)
	}
	return &t, nil
}

// AddCrawl validates req, creates its jobs and enqueues them. It returns the
// created job ids in scheduled order.
func (m *Manager) AddCrawl(ctx context.Context, req crawler.CrawlRequest) ([]string, error) {
	if req.Platform == "" || !m.scheduler.HasPlatform(req.Platform) {
		return nil, fmt.Errorf("%w: platform %q", crawler.ErrNotFound, req.Platform)
	}
	if req.CampaignID == "" {
		return nil, fmt.Errorf("%w: campaign id is required", crawler.ErrInvalidRequest)
	}
	if req.PeriodHours < 0 || math.IsNaN(req.PeriodHours) || math.IsInf(req.PeriodHours, 0) {
		return nil, fmt.Errorf("%w: period %v", crawler.ErrInvalidRequest, req.PeriodHours)
	}
	// Resolve once so unknown pairs fail before anything is registered.
	if _, err := m.strategies.New(req.Platform, req.Strategy, req.Parameters); err != nil {
		return nil, err
	}

	logger := m.logger.With(zap.String("platform", req.Platform), zap.String("campaign_id", req.CampaignID))
	now := m.clock.Now()
	starts, ends := m.schedule(req, now, logger)

	ids, err := m.jobIDs(req.ID, len(starts))
	if err != nil {
		return nil, err
	}

	jobs := make([]*crawler.Job, len(starts))
	for i := range starts {
		strategy, err := m.strategies.New(req.Platform, req.Strategy, req.Parameters)
		if err != nil {
			return nil, err
		}
		jobs[i] = crawler.NewJob(crawler.JobSpec{
			ID:             ids[i],
			Platform:       req.Platform,
			Strategy:       req.Strategy,
			Parameters:     req.Parameters,
			CampaignID:     req.CampaignID,
			ScheduledStart: starts[i],
			ScheduledEnd:   ends[i],
			CreatedAt:      now,
		}, strategy)
	}

	m.mu.Lock()
	for _, id := range ids {
		if _, exists := m.jobs[id]; exists {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: job %s already exists", crawler.ErrInvalidRequest, id)
		}
	}
	created := make([]string, 0, len(jobs))
	var enqueueErr error
	for _, job := range jobs {
		if err := m.scheduler.Enqueue(ctx, job); err != nil {
			enqueueErr = err
			break
		}
		m.register(job, now)
		created = append(created, job.ID())
	}
	m.mu.Unlock()

	for _, job := range jobs[:len(created)] {
		m.publish(ctx, job.Snapshot())
	}
	if enqueueErr != nil {
		return created, fmt.Errorf("enqueue job: %w", enqueueErr)
	}
	logger.Info("crawl added", zap.Strings("job_ids", created), zap.String("strategy", req.Strategy))
	return created, nil
}

// schedule computes the start and end of every job a request expands to.
func (m *Manager) schedule(req crawler.CrawlRequest, now time.Time, logger *zap.Logger) ([]time.Time, []time.Time) {
	start := now
	if req.Start != nil {
		start = req.Start.UTC()
		if start.Before(now) {
			logger.Warn("start date in the past, starting now", zap.Time("start", start))
			start = now
		}
	}
	var end time.Time
	if req.End != nil {
		if req.End.After(start) {
			end = req.End.UTC()
		} else {
			logger.Warn("end date not after start, ignoring it", zap.Time("end", *req.End))
		}
	}
	if req.PeriodHours == 0 {
		return []time.Time{start}, []time.Time{end}
	}
	if end.IsZero() {
		logger.Warn("period without end date, ignoring it", zap.Float64("period_hours", req.PeriodHours))
		return []time.Time{start}, []time.Time{end}
	}
	period := time.Duration(req.PeriodHours * float64(time.Hour))
	n := int(math.Ceil(end.Sub(start).Hours()/req.PeriodHours)) + 1
	// Expanded jobs carry no end, so one delayed behind a long run on the
	// same platform still runs.
	starts := make([]time.Time, n)
	for i := range n {
		starts[i] = start.Add(time.Duration(i) * period)
	}
	return starts, make([]time.Time, n)
}

func (m *Manager) jobIDs(requested string, n int) ([]string, error) {
	ids := make([]string, n)
	for i := range n {
		switch {
		case requested != "" && i == 0:
			ids[i] = requested
		case requested != "":
			ids[i] = requested + "-" + strconv.Itoa(i)
		default:
			id, err := m.ids.NewID()
			if err != nil {
				return nil, fmt.Errorf("generate job id: %w", err)
			}
			ids[i] = id
		}
	}
	return ids, nil
}

// register must be called with mu held.
func (m *Manager) register(job *crawler.Job, now time.Time) {
	spec := job.Spec()
	m.jobs[spec.ID] = job
	c, ok := m.campaigns[spec.CampaignID]
	if !ok {
		c = &campaign{
			id:        spec.CampaignID,
			createdAt: now,
			jobs:      make(map[string]struct{}),
			counted:   make(map[string]struct{}),
			stats:     make(map[string]crawler.PlatformStats),
		}
		m.campaigns[spec.CampaignID] = c
	}
	c.jobs[spec.ID] = struct{}{}
}

// StopCrawl stops a job. A waiting job is stopped at once. For a running job
// the stop flag is set and its status is polled until the worker finishes it
// or the stop timeout elapses.
func (m *Manager) StopCrawl(ctx context.Context, id string) (crawler.StopOutcome, error) {
	job, err := m.lookup(id)
	if err != nil {
		return 0, err
	}
	logger := m.logger.With(zap.String("job_id", id))

	switch job.Status() {
	case crawler.JobStatusStopped, crawler.JobStatusFinished, crawler.JobStatusBeingRemoved:
		return crawler.StopOutcomeAlreadyStopped, nil
	case crawler.JobStatusWaiting:
		job.RequestStop()
		if job.Transition(crawler.JobStatusWaiting, crawler.JobStatusStopped) {
			logger.Info("waiting job stopped")
			m.publish(ctx, job.Snapshot())
			return crawler.StopOutcomeStopped, nil
		}
		// Picked up by its worker in the meantime.
	case crawler.JobStatusRunning:
		job.RequestStop()
	}

	logger.Info("stop requested, waiting for worker")
	deadline := time.NewTimer(m.cfg.StopTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.cfg.StopPollInterval)
	defer ticker.Stop()
	for {
		if outcome, done := m.settleStop(ctx, job); done {
			return outcome, nil
		}
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("stop job %s: %w", id, ctx.Err())
		case <-deadline.C:
			if outcome, done := m.settleStop(ctx, job); done {
				return outcome, nil
			}
			logger.Warn("stop timed out", zap.Duration("timeout", m.cfg.StopTimeout))
			return 0, fmt.Errorf("%w: job %s", crawler.ErrStopTimeout, id)
		case <-ticker.C:
		}
	}
}

// settleStop relabels a job the worker has finished as stopped.
func (m *Manager) settleStop(ctx context.Context, job *crawler.Job) (crawler.StopOutcome, bool) {
	switch job.Status() {
	case crawler.JobStatusFinished:
		if job.Transition(crawler.JobStatusFinished, crawler.JobStatusStopped) {
			m.publish(ctx, job.Snapshot())
		}
		return crawler.StopOutcomeStopped, true
	case crawler.JobStatusStopped, crawler.JobStatusBeingRemoved:
		return crawler.StopOutcomeStopped, true
	default:
		return 0, false
	}
}

// RemoveCrawl discards a stopped or finished job. The campaign is retired
// with its last job.
func (m *Manager) RemoveCrawl(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: job %s", crawler.ErrNotFound, id)
	}
	status := job.Status()
	if !crawler.IsRemovable(status) || !job.Transition(status, crawler.JobStatusBeingRemoved) {
		return fmt.Errorf("%w: job %s is %s", crawler.ErrNotRemovable, id, status)
	}
	delete(m.jobs, id)
	campaignID := job.Spec().CampaignID
	if c, ok := m.campaigns[campaignID]; ok {
		delete(c.jobs, id)
		if len(c.jobs) == 0 {
			delete(m.campaigns, campaignID)
			m.logger.Info("campaign retired", zap.String("campaign_id", campaignID))
		}
	}
	m.logger.Info("crawl removed", zap.String("job_id", id))
	return nil
}

// GetCrawl returns a snapshot of one job.
func (m *Manager) GetCrawl(id string) (crawler.JobSnapshot, error) {
	job, err := m.lookup(id)
	if err != nil {
		return crawler.JobSnapshot{}, err
	}
	return job.Snapshot(), nil
}

// ListCrawls returns every live job ordered by creation time.
func (m *Manager) ListCrawls() []crawler.JobSnapshot {
	m.mu.RLock()
	jobs := make([]*crawler.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.RUnlock()
	return snapshots(jobs)
}

// ListCampaignCrawls returns the jobs of one campaign.
func (m *Manager) ListCampaignCrawls(campaignID string) ([]crawler.JobSnapshot, error) {
	m.mu.RLock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		m.mu.RUnlock()
		return nil, fmt.Errorf("%w: campaign %s", crawler.ErrNotFound, campaignID)
	}
	jobs := make([]*crawler.Job, 0, len(c.jobs))
	for id := range c.jobs {
		jobs = append(jobs, m.jobs[id])
	}
	m.mu.RUnlock()
	return snapshots(jobs), nil
}

// GetCampaign returns a campaign with its jobs and aggregate statistics.
func (m *Manager) GetCampaign(campaignID string) (crawler.CampaignSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return crawler.CampaignSnapshot{}, fmt.Errorf("%w: campaign %s", crawler.ErrNotFound, campaignID)
	}
	out := crawler.CampaignSnapshot{
		ID:         c.id,
		CreatedAt:  c.createdAt,
		Crawls:     make([]string, 0, len(c.jobs)),
		Statistics: make(map[string]crawler.PlatformStats, len(c.stats)),
	}
	for id := range c.jobs {
		out.Crawls = append(out.Crawls, id)
	}
	sort.Strings(out.Crawls)
	for p, s := range c.stats {
		out.Statistics[p] = s
	}
	return out, nil
}

// GetCampaignIDs lists live campaign ids in sorted order.
func (m *Manager) GetCampaignIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.campaigns))
	for id := range m.campaigns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetLoad returns the pending job count of every platform queue.
func (m *Manager) GetLoad() map[string]int {
	return m.scheduler.Load()
}

// Pending reports whether any of the given jobs has not reached a terminal
// state. Unknown ids count as terminal.
func (m *Manager) Pending(ids []string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range ids {
		if j, ok := m.jobs[id]; ok && !crawler.IsTerminal(j.Status()) {
			return true
		}
	}
	return false
}

// JobChanged folds a finished run into its campaign statistics and mirrors
// the snapshot. Workers call it after every status change.
func (m *Manager) JobChanged(ctx context.Context, snapshot crawler.JobSnapshot) {
	if snapshot.ActualStart != nil && crawler.IsTerminal(snapshot.Status) {
		m.mu.Lock()
		if c, ok := m.campaigns[snapshot.CampaignID]; ok {
			if _, done := c.counted[snapshot.ID]; !done {
				c.counted[snapshot.ID] = struct{}{}
				s := c.stats[snapshot.Platform]
				s.FinishedCrawls++
				s.Stats = s.Stats.Add(snapshot.Statistics)
				c.stats[snapshot.Platform] = s
			}
		}
		m.mu.Unlock()
	}
	m.publish(ctx, snapshot)
}

func (m *Manager) publish(ctx context.Context, snapshot crawler.JobSnapshot) {
	if m.mirror == nil {
		return
	}
	if err := m.mirror.Put(ctx, snapshot); err != nil {
		m.logger.Warn("status mirror update failed", zap.String("job_id", snapshot.ID), zap.Error(err))
	}
}

func (m *Manager) lookup(id string) (*crawler.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", crawler.ErrNotFound, id)
	}
	return job, nil
}

func snapshots(jobs []*crawler.Job) []crawler.JobSnapshot {
	out := make([]crawler.JobSnapshot, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Snapshot())
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID < out[k].ID
	})
	return out
}
