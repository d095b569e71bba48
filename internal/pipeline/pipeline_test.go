package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

const twitterPage = `{"results":[
	{"id_str":"1","from_user":"ann","from_user_id":10,"text":"look http://t.co/a","entities":{"urls":[{"url":"http://t.co/a"}]}},
	{"text":"no id"},
	{"id_str":"2","from_user":"bob","from_user_id":11,"text":"plain"}
]}`

func newTestPipeline(t *testing.T, dir string, links *linkSink, facts *factStore, shipper *Shipper) (*Pipeline, *memArchive) {
	t.Helper()
	archive := &memArchive{}
	p, err := New(Config{
		OutputDir:     dir,
		MaxFileBytes:  1 << 20,
		OutlinksChunk: 2,
		TriplesChunk:  1000,
		FlushInterval: 10 * time.Millisecond,
		SinkTimeout:   time.Second,
		Hostname:      "test-host",
	}, Deps{Archive: archive, Links: links, Facts: facts, Shipper: shipper})
	require.NoError(t, err)
	return p, archive
}

func twitterEnvelope(t *testing.T, success bool) *crawler.ResponseEnvelope {
	return &crawler.ResponseEnvelope{
		Success:    success,
		StatusCode: 200,
		Raw:        []byte(twitterPage),
		Content:    decode(t, twitterPage),
		Meta: crawler.RequestMeta{
			Server:      "twitter-search",
			Interaction: "search",
			RequestURL:  "http://search.twitter.com/search.json?q=foo",
		},
	}
}

func TestPipelineHandleFansOut(t *testing.T) {
	t.Parallel()

	links := &linkSink{}
	facts := &factStore{}
	p, archive := newTestPipeline(t, t.TempDir(), links, facts, nil)
	require.NotEmpty(t, p.ArchivePath())

	stats, err := p.Handle(context.Background(), twitterEnvelope(t, true))
	require.NoError(t, err)
	require.Equal(t, 3, stats.Items)
	require.Equal(t, 1, stats.Rejected)
	// post 1: t.co link plus its own status url; post 2: its status url.
	require.Equal(t, 3, stats.Outlinks)
	require.Positive(t, stats.Triples)

	require.NoError(t, p.Close(context.Background()))

	var gotLinks []string
	for _, batch := range links.all() {
		require.LessOrEqual(t, len(batch), 2)
		for _, l := range batch {
			require.InDelta(t, 1.0, l.Score, 0)
			gotLinks = append(gotLinks, l.URL)
		}
	}
	require.ElementsMatch(t, []string{
		"http://t.co/a",
		"http://twitter.com/ann/status/1",
		"http://twitter.com/bob/status/2",
	}, gotLinks)

	var triples []crawler.Triple
	for _, batch := range facts.all() {
		triples = append(triples, batch...)
	}
	require.Len(t, triples, stats.Triples)
	require.ElementsMatch(t,
		[]string{"http://t.co/a", "http://twitter.com/ann/status/1"},
		objects(triples, "twitter/post/1", PredOutlink))

	recs := archive.snapshot()
	require.Len(t, recs, 2)
	require.Equal(t, "response", recs[1].recordType)
}

func TestPipelineRejectedItemForwardsNothing(t *testing.T) {
	t.Parallel()

	links := &linkSink{}
	facts := &factStore{}
	p, _ := newTestPipeline(t, t.TempDir(), links, facts, nil)

	const page = `{"results":[{"source":"http://no-id.example/x","from_user":"ann"}]}`
	env := twitterEnvelope(t, true)
	env.Raw = []byte(page)
	env.Content = decode(t, page)

	stats, err := p.Handle(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, crawler.ItemStats{Items: 1, Rejected: 1}, stats)
	require.NoError(t, p.Close(context.Background()))
	require.Empty(t, links.all())
	require.Empty(t, facts.all())
}

func TestPipelineUnmappedRouteRequiresID(t *testing.T) {
	t.Parallel()

	links := &linkSink{}
	p, err := New(Config{
		OutputDir:     t.TempDir(),
		MaxFileBytes:  1 << 20,
		OutlinksChunk: 10,
		TriplesChunk:  10,
		FlushInterval: 10 * time.Millisecond,
		SinkTimeout:   time.Second,
		ContentPaths:  map[string]string{"custom/feed": "items"},
	}, Deps{Archive: &memArchive{}, Links: links, Facts: &factStore{}})
	require.NoError(t, err)

	const page = `{"items":[{"href":"http://kept.example/a","id":"7"},{"href":"http://dropped.example/b"}]}`
	stats, err := p.Handle(context.Background(), &crawler.ResponseEnvelope{
		Success: true,
		Raw:     []byte(page),
		Content: decode(t, page),
		Meta:    crawler.RequestMeta{Server: "custom", Interaction: "feed"},
	})
	require.NoError(t, err)
	require.Equal(t, crawler.ItemStats{Items: 2, Rejected: 1, Outlinks: 1}, stats)
	require.NoError(t, p.Close(context.Background()))

	var got []string
	for _, batch := range links.all() {
		for _, l := range batch {
			got = append(got, l.URL)
		}
	}
	require.Equal(t, []string{"http://kept.example/a"}, got)
}

func TestPipelineFailedFetchIsOnlyArchived(t *testing.T) {
	t.Parallel()

	links := &linkSink{}
	facts := &factStore{}
	p, archive := newTestPipeline(t, t.TempDir(), links, facts, nil)

	stats, err := p.Handle(context.Background(), twitterEnvelope(t, false))
	require.NoError(t, err)
	require.Equal(t, crawler.ItemStats{}, stats)
	require.NoError(t, p.Close(context.Background()))

	require.Empty(t, links.all())
	require.Empty(t, facts.all())
	require.Len(t, archive.snapshot(), 2)
}

func TestPipelineSinkFailureGoesToBackupAndShips(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	links := &linkSink{}
	links.setFail(true)
	facts := &factStore{}
	store := &blobStore{}
	shipper := NewShipper(ShipperConfig{Prefix: "crawl"}, store)
	p, _ := newTestPipeline(t, dir, links, facts, shipper)

	_, err := p.Handle(context.Background(), twitterEnvelope(t, true))
	require.NoError(t, err)
	require.NoError(t, p.Close(context.Background()))

	matches, err := filepath.Glob(filepath.Join(dir, "outlinks.backup.*.jsonl"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	f, err := os.Open(matches[0])
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	total := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec backupRecord[crawler.Outlink]
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		require.Equal(t, rec.Count, len(rec.Items))
		total += rec.Count
	}
	require.NoError(t, scanner.Err())
	require.Equal(t, 3, total)
	require.NotEmpty(t, facts.all())

	keys := store.keys()
	require.Contains(t, keys, "crawl/"+filepath.Base(matches[0]))
	require.Len(t, keys, 2)
}

func TestNewRequiresSinks(t *testing.T) {
	t.Parallel()

	_, err := New(Config{OutputDir: t.TempDir()}, Deps{Archive: &memArchive{}})
	require.Error(t, err)
}
