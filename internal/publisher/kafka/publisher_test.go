package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	kgo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

type fakeWriter struct {
	msgs   []kgo.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kgo.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublisherSendLinks(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	p := NewWithWriter(w)
	links := []crawler.Outlink{{URL: "http://a.example.com", Score: 1}}
	require.NoError(t, p.SendLinks(context.Background(), links))

	require.Len(t, w.msgs, 1)
	require.Equal(t, "outlinks", string(w.msgs[0].Key))
	var got []crawler.Outlink
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	require.Equal(t, links, got)
	require.False(t, w.msgs[0].Time.IsZero())

	require.NoError(t, p.Close())
	require.True(t, w.closed)
}

func TestPublisherSendLinksError(t *testing.T) {
	t.Parallel()

	p := NewWithWriter(&fakeWriter{err: errors.New("broker down")})
	err := p.SendLinks(context.Background(), []crawler.Outlink{{URL: "http://a"}})
	require.ErrorContains(t, err, "broker down")
}
