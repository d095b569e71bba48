package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/apicrawler/internal/clock/system"
	"github.com/JakeFAU/apicrawler/internal/crawler"
	"github.com/JakeFAU/apicrawler/internal/dispatcher"
	"github.com/JakeFAU/apicrawler/internal/queue/memory"
	"github.com/JakeFAU/apicrawler/internal/strategy"
	"github.com/JakeFAU/apicrawler/internal/worker"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "job-" + string(rune('a'+s.n-1)), nil
}

type fakeMirror struct {
	mu   sync.Mutex
	last map[string]crawler.JobSnapshot
	err  error
}

func (f *fakeMirror) Put(_ context.Context, s crawler.JobSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		f.last = map[string]crawler.JobSnapshot{}
	}
	f.last[s.ID] = s
	return f.err
}

func (f *fakeMirror) status(id string) crawler.JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last[id].Status
}

type fixture struct {
	mgr    *Manager
	clock  *system.Manual
	queues map[string]*memory.Queue
	mirror *fakeMirror
	disp   *dispatcher.Dispatcher
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clock := system.NewManual(base)
	queues := map[string]*memory.Queue{
		"twitter": memory.NewQueue(),
		"flickr":  memory.NewQueue(),
	}
	lanes := make(map[string]dispatcher.Lane, len(queues))
	for p, q := range queues {
		lanes[p] = dispatcher.Lane{Queue: q}
	}
	disp := dispatcher.New(lanes, nil)
	mirror := &fakeMirror{}
	mgr := New(cfg, strategy.Default(), disp, clock, &seqIDs{}, mirror, zap.NewNop())
	return &fixture{mgr: mgr, clock: clock, queues: queues, mirror: mirror, disp: disp}
}

func twitterRequest() crawler.CrawlRequest {
	return crawler.CrawlRequest{
		Platform:   "twitter",
		Strategy:   "search",
		Parameters: []string{"foo"},
		CampaignID: "c1",
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestAddCrawlSingleJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ids, err := f.mgr.AddCrawl(context.Background(), twitterRequest())
	require.NoError(t, err)
	require.Equal(t, []string{"job-a"}, ids)
	require.Equal(t, 1, f.mgr.GetLoad()["twitter"])

	snap, err := f.mgr.GetCrawl("job-a")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusWaiting, snap.Status)
	require.Equal(t, base, *snap.ScheduledStart)
	require.Nil(t, snap.ScheduledEnd)
	require.Equal(t, []string{"c1"}, f.mgr.GetCampaignIDs())
	require.Equal(t, crawler.JobStatusWaiting, f.mirror.status("job-a"))
}

func TestAddCrawlPeriodicExpansion(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	req := twitterRequest()
	req.Start = timePtr(base.Add(time.Hour))
	req.End = timePtr(base.Add(11 * time.Hour))
	req.PeriodHours = 3
	req.ID = "daily"

	ids, err := f.mgr.AddCrawl(context.Background(), req)
	require.NoError(t, err)
	// ceil(10/3)+1
	require.Equal(t, []string{"daily", "daily-1", "daily-2", "daily-3", "daily-4"}, ids)
	for i, id := range ids {
		snap, err := f.mgr.GetCrawl(id)
		require.NoError(t, err)
		want := base.Add(time.Hour + time.Duration(i)*3*time.Hour)
		require.Equal(t, want, *snap.ScheduledStart)
		require.Nil(t, snap.ScheduledEnd, "expanded jobs never expire")
	}
	require.Equal(t, 5, f.mgr.GetLoad()["twitter"])
}

func TestAddCrawlPeriodCounts(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		span   time.Duration
		period float64
		want   int
	}{
		{name: "exact multiple", span: 24 * time.Hour, period: 6, want: 5},
		{name: "remainder", span: 25 * time.Hour, period: 6, want: 6},
		{name: "period longer than span", span: time.Hour, period: 6, want: 2},
		{name: "fractional period", span: 90 * time.Minute, period: 0.5, want: 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, Config{})
			req := twitterRequest()
			req.Start = timePtr(base)
			req.End = timePtr(base.Add(tc.span))
			req.PeriodHours = tc.period
			ids, err := f.mgr.AddCrawl(context.Background(), req)
			require.NoError(t, err)
			require.Len(t, ids, tc.want)
		})
	}
}

func TestAddCrawlNormalizesDates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})

	req := twitterRequest()
	req.Start = timePtr(base.Add(-time.Hour))
	req.End = timePtr(base.Add(-30 * time.Minute))
	req.PeriodHours = 1
	ids, err := f.mgr.AddCrawl(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, ids, 1, "end before clamped start drops the period too")
	snap, err := f.mgr.GetCrawl(ids[0])
	require.NoError(t, err)
	require.Equal(t, base, *snap.ScheduledStart)
	require.Nil(t, snap.ScheduledEnd)

	req = twitterRequest()
	req.PeriodHours = 2
	ids, err = f.mgr.AddCrawl(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, ids, 1, "period without end")
}

func TestAddCrawlRejectsBadRequests(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()

	req := twitterRequest()
	req.Platform = "myspace"
	_, err := f.mgr.AddCrawl(ctx, req)
	require.ErrorIs(t, err, crawler.ErrNotFound)

	req = twitterRequest()
	req.Strategy = "timeline"
	_, err = f.mgr.AddCrawl(ctx, req)
	require.ErrorIs(t, err, crawler.ErrInvalidRequest)

	req = twitterRequest()
	req.PeriodHours = -1
	_, err = f.mgr.AddCrawl(ctx, req)
	require.ErrorIs(t, err, crawler.ErrInvalidRequest)

	req = twitterRequest()
	req.Parameters = nil
	_, err = f.mgr.AddCrawl(ctx, req)
	require.ErrorIs(t, err, crawler.ErrInvalidRequest)

	req = twitterRequest()
	req.ID = "dup"
	_, err = f.mgr.AddCrawl(ctx, req)
	require.NoError(t, err)
	_, err = f.mgr.AddCrawl(ctx, req)
	require.ErrorIs(t, err, crawler.ErrInvalidRequest)

	require.Equal(t, 1, f.mgr.GetLoad()["twitter"])
}

func TestParseTime(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	got, err := f.mgr.ParseTime("2024-03-01_15:04:05")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 3, 1, 15, 4, 5, 0, time.UTC), *got)

	got, err = f.mgr.ParseTime("")
	require.NoError(t, err)
	require.Nil(t, got)

	_, err = f.mgr.ParseTime("yesterday")
	require.ErrorIs(t, err, crawler.ErrInvalidRequest)
}

func TestStopWaitingJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	ids, err := f.mgr.AddCrawl(ctx, twitterRequest())
	require.NoError(t, err)

	outcome, err := f.mgr.StopCrawl(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, crawler.StopOutcomeStopped, outcome)

	snap, err := f.mgr.GetCrawl(ids[0])
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusStopped, snap.Status)
	require.True(t, snap.StopRequested)

	outcome, err = f.mgr.StopCrawl(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, crawler.StopOutcomeAlreadyStopped, outcome)

	_, err = f.mgr.StopCrawl(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestStopRunningJobRelabelsFinished(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{StopPollInterval: 5 * time.Millisecond, StopTimeout: time.Second})
	ctx := context.Background()
	ids, err := f.mgr.AddCrawl(ctx, twitterRequest())
	require.NoError(t, err)

	job, err := f.queues["twitter"].Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, job.MarkRunning(base))

	go func() {
		for !job.StopRequested() {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		job.MarkFinished(base.Add(time.Minute), "")
	}()

	outcome, err := f.mgr.StopCrawl(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, crawler.StopOutcomeStopped, outcome)
	require.Equal(t, crawler.JobStatusStopped, job.Status())
	require.Equal(t, crawler.JobStatusStopped, f.mirror.status(ids[0]))
}

func TestStopRunningJobTimesOut(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{StopPollInterval: 5 * time.Millisecond, StopTimeout: 30 * time.Millisecond})
	ctx := context.Background()
	ids, err := f.mgr.AddCrawl(ctx, twitterRequest())
	require.NoError(t, err)
	job, err := f.queues["twitter"].Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, job.MarkRunning(base))

	_, err = f.mgr.StopCrawl(ctx, ids[0])
	require.ErrorIs(t, err, crawler.ErrStopTimeout)
	require.Equal(t, crawler.JobStatusRunning, job.Status())
	require.True(t, job.StopRequested())

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = f.mgr.StopCrawl(cctx, ids[0])
	require.ErrorIs(t, err, context.Canceled)
}

func TestRemoveCrawl(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	first, err := f.mgr.AddCrawl(ctx, twitterRequest())
	require.NoError(t, err)
	second, err := f.mgr.AddCrawl(ctx, twitterRequest())
	require.NoError(t, err)

	err = f.mgr.RemoveCrawl(ctx, first[0])
	require.ErrorIs(t, err, crawler.ErrNotRemovable)
	err = f.mgr.RemoveCrawl(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	_, err = f.mgr.StopCrawl(ctx, first[0])
	require.NoError(t, err)
	require.NoError(t, f.mgr.RemoveCrawl(ctx, first[0]))
	_, err = f.mgr.GetCrawl(first[0])
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.Equal(t, []string{"c1"}, f.mgr.GetCampaignIDs(), "campaign still has a job")

	_, err = f.mgr.StopCrawl(ctx, second[0])
	require.NoError(t, err)
	require.NoError(t, f.mgr.RemoveCrawl(ctx, second[0]))
	require.Empty(t, f.mgr.GetCampaignIDs())
	_, err = f.mgr.GetCampaign("c1")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestCampaignQueriesAndStatistics(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	ctx := context.Background()
	tw, err := f.mgr.AddCrawl(ctx, twitterRequest())
	require.NoError(t, err)
	fl, err := f.mgr.AddCrawl(ctx, crawler.CrawlRequest{
		Platform: "flickr", Strategy: "search", Parameters: []string{"cats"}, CampaignID: "c1",
	})
	require.NoError(t, err)
	_, err = f.mgr.AddCrawl(ctx, crawler.CrawlRequest{
		Platform: "flickr", Strategy: "search", Parameters: []string{"dogs"}, CampaignID: "c2",
	})
	require.NoError(t, err)

	crawls, err := f.mgr.ListCampaignCrawls("c1")
	require.NoError(t, err)
	require.Len(t, crawls, 2)
	require.Len(t, f.mgr.ListCrawls(), 3)
	_, err = f.mgr.ListCampaignCrawls("nope")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	start := base
	finished := crawler.JobSnapshot{
		ID: tw[0], Platform: "twitter", CampaignID: "c1", Status: crawler.JobStatusFinished,
		ActualStart: &start, Statistics: crawler.Stats{Responses: 2, Triples: 10, Outlinks: 4},
	}
	f.mgr.JobChanged(ctx, finished)
	f.mgr.JobChanged(ctx, finished)
	f.mgr.JobChanged(ctx, crawler.JobSnapshot{
		ID: fl[0], Platform: "flickr", CampaignID: "c1", Status: crawler.JobStatusRunning, ActualStart: &start,
	})

	c, err := f.mgr.GetCampaign("c1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{tw[0], fl[0]}, c.Crawls)
	require.Equal(t, crawler.PlatformStats{
		FinishedCrawls: 1,
		Stats:          crawler.Stats{Responses: 2, Triples: 10, Outlinks: 4},
	}, c.Statistics["twitter"])
	_, ok := c.Statistics["flickr"]
	require.False(t, ok)
	require.Equal(t, []string{"c1", "c2"}, f.mgr.GetCampaignIDs())
}

func TestMirrorFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.mirror.err = errors.New("redis down")
	ids, err := f.mgr.AddCrawl(context.Background(), twitterRequest())
	require.NoError(t, err)
	require.Len(t, ids, 1)
}

type unavailableAPI struct{}

func (unavailableAPI) SetServer(string) error      { return nil }
func (unavailableAPI) SetInteraction(string) error { return nil }
func (unavailableAPI) SetParams(map[string]string) {}
func (unavailableAPI) Execute(context.Context) (*crawler.ResponseEnvelope, error) {
	return &crawler.ResponseEnvelope{Success: false, StatusCode: 503}, nil
}

type discardHandler struct{}

func (discardHandler) Handle(context.Context, *crawler.ResponseEnvelope) (crawler.ItemStats, error) {
	return crawler.ItemStats{}, nil
}
func (discardHandler) ArchivePath() string { return "" }

func TestTwitterSearchEndToEnd(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue()
	clock := system.New()
	var mgr *Manager
	observer := observerFunc(func(ctx context.Context, s crawler.JobSnapshot) { mgr.JobChanged(ctx, s) })
	w := worker.New(worker.Config{Platform: "twitter"}, q, unavailableAPI{}, discardHandler{}, clock, nil, zap.NewNop(), observer)
	disp := dispatcher.New(map[string]dispatcher.Lane{"twitter": {Queue: q, Worker: w}}, nil)
	mgr = New(Config{}, strategy.Default(), disp, clock, &seqIDs{}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	before := mgr.GetLoad()["twitter"]
	ids, err := mgr.AddCrawl(ctx, twitterRequest())
	require.NoError(t, err)
	require.Len(t, ids, 1)
	require.Equal(t, before+1, mgr.GetLoad()["twitter"])

	done := make(chan struct{})
	go func() {
		defer close(done)
		disp.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		snap, err := mgr.GetCrawl(ids[0])
		return err == nil && snap.Status == crawler.JobStatusFinished
	}, 2*time.Second, 10*time.Millisecond)
	snap, err := mgr.GetCrawl(ids[0])
	require.NoError(t, err)
	require.GreaterOrEqual(t, snap.Statistics.Responses, int64(0))
	require.False(t, mgr.Pending(ids))

	require.Eventually(t, func() bool {
		c, err := mgr.GetCampaign("c1")
		return err == nil && c.Statistics["twitter"].FinishedCrawls == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

type observerFunc func(ctx context.Context, s crawler.JobSnapshot)

func (f observerFunc) JobChanged(ctx context.Context, s crawler.JobSnapshot) { f(ctx, s) }
