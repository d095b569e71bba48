package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

type recordingWaiter struct {
	mu      sync.Mutex
	servers []string
	err     error
}

func (w *recordingWaiter) Wait(_ context.Context, server string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.servers = append(w.servers, server)
	return w.err
}

func testConfig(baseURL string) Config {
	return Config{
		UserAgent: "apicrawler-test",
		Timeout:   2 * time.Second,
		Servers: map[string]Server{
			"twitter-search": {
				BaseURL: baseURL,
				Params:  map[string]string{"rpp": "100"},
				Interactions: map[string]Interaction{
					"search": {Path: "/search.json", Params: map[string]string{"result_type": "recent"}},
				},
			},
		},
	}
}

func TestClientExecuteSuccess(t *testing.T) {
	t.Parallel()

	var gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotUA = r.UserAgent()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Rate-Remaining", "42")
		_, _ = w.Write([]byte(`{"results":[{"id":1}]}`))
	}))
	defer srv.Close()

	waiter := &recordingWaiter{}
	client := New(testConfig(srv.URL), waiter)
	require.NoError(t, client.SetServer("twitter-search"))
	require.NoError(t, client.SetInteraction("search"))
	client.SetParams(map[string]string{"q": "foo bar", "page": "2"})

	env, err := client.Execute(context.Background())
	require.NoError(t, err)
	require.True(t, env.Success)
	require.Equal(t, http.StatusOK, env.StatusCode)
	require.Equal(t, "42", env.Headers.Get("X-Rate-Remaining"))
	require.JSONEq(t, `{"results":[{"id":1}]}`, string(env.Raw))
	require.Equal(t, "twitter-search", env.Meta.Server)
	require.Equal(t, "search", env.Meta.Interaction)
	require.Contains(t, env.Meta.RequestURL, "/search.json?")
	require.False(t, env.FetchedAt.IsZero())

	results, ok := crawler.Lookup(env.Content, "results")
	require.True(t, ok)
	require.Len(t, results, 1)

	require.Equal(t, "page=2&q=foo+bar&result_type=recent&rpp=100", gotQuery)
	require.Equal(t, "apicrawler-test", gotUA)
	require.Equal(t, []string{"twitter-search"}, waiter.servers)
}

func TestClientExecuteRepeatsSameURL(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL), nil)
	require.NoError(t, client.SetServer("twitter-search"))
	require.NoError(t, client.SetInteraction("search"))
	for i := 0; i < 2; i++ {
		env, err := client.Execute(context.Background())
		require.NoError(t, err)
		require.True(t, env.Success)
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, calls)
}

func TestClientExecuteHTTPErrorIsUnsuccessfulEnvelope(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"over capacity"}`))
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL), nil)
	require.NoError(t, client.SetServer("twitter-search"))
	require.NoError(t, client.SetInteraction("search"))

	env, err := client.Execute(context.Background())
	require.NoError(t, err)
	require.False(t, env.Success)
	require.Equal(t, http.StatusServiceUnavailable, env.StatusCode)
	require.NotEmpty(t, env.Raw)
}

func TestClientExecuteMalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL), nil)
	require.NoError(t, client.SetServer("twitter-search"))
	require.NoError(t, client.SetInteraction("search"))

	env, err := client.Execute(context.Background())
	require.NoError(t, err)
	require.False(t, env.Success)
	require.Nil(t, env.Content)
	require.Equal(t, http.StatusOK, env.StatusCode)
}

func TestClientSelectionErrors(t *testing.T) {
	t.Parallel()

	client := New(testConfig("http://127.0.0.1:1"), nil)
	require.ErrorIs(t, client.SetServer("myspace"), ErrUnknownServer)
	require.ErrorIs(t, client.SetInteraction("search"), ErrUnknownServer)

	require.NoError(t, client.SetServer("twitter-search"))
	require.ErrorIs(t, client.SetInteraction("timeline"), ErrUnknownInteraction)

	_, err := client.Execute(context.Background())
	require.ErrorIs(t, err, ErrUnknownInteraction)
}

func TestClientExecuteLimiterError(t *testing.T) {
	t.Parallel()

	client := New(testConfig("http://127.0.0.1:1"), &recordingWaiter{err: context.Canceled})
	require.NoError(t, client.SetServer("twitter-search"))
	require.NoError(t, client.SetInteraction("search"))

	_, err := client.Execute(context.Background())
	require.ErrorIs(t, err, context.Canceled)
}

func TestClientExecuteTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	client := New(testConfig(base), nil)
	require.NoError(t, client.SetServer("twitter-search"))
	require.NoError(t, client.SetInteraction("search"))

	_, err := client.Execute(context.Background())
	require.Error(t, err)
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	client := New(Config{}, nil)
	env := &crawler.ResponseEnvelope{}
	var fetchErr error
	hooks := &stubHooks{}
	client.configureCollectorHooks(hooks, env, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte(`[1,2]`),
		Headers:    &http.Header{"X-Resp": {"ok"}},
	})
	require.True(t, env.Success)
	require.Equal(t, []any{float64(1), float64(2)}, env.Content)
	require.Equal(t, "ok", env.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestClientExecuteRecordsClientSpan(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	cfg := testConfig(srv.URL)
	cfg.TracerProvider = tp
	client := New(cfg, nil)
	require.NoError(t, client.SetServer("twitter-search"))
	require.NoError(t, client.SetInteraction("search"))

	env, err := client.Execute(context.Background())
	require.NoError(t, err)
	require.True(t, env.Success)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, trace.SpanKindClient, spans[0].SpanKind())
}
