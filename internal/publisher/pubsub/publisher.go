// Package pubsub publishes outlink batches to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

// topic is the slice of *pubsub.Topic the publisher needs.
type topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) result
	Stop()
}

type result interface {
	Get(ctx context.Context) (string, error)
}

type topicAdapter struct{ t *pubsub.Topic }

func (a topicAdapter) Publish(ctx context.Context, msg *pubsub.Message) result {
	return a.t.Publish(ctx, msg)
}

func (a topicAdapter) Stop() { a.t.Stop() }

// Publisher implements crawler.LinkSink.
type Publisher struct {
	topic topic
}

// New wraps a Pub/Sub topic handle.
func New(t *pubsub.Topic) *Publisher {
	return &Publisher{topic: topicAdapter{t: t}}
}

// SendLinks publishes the batch as one JSON message and waits for the ack.
func (p *Publisher) SendLinks(ctx context.Context, links []crawler.Outlink) error {
	if p.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("marshal outlinks: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"count": strconv.Itoa(len(links))},
	}
	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish outlinks: %w", err)
	}
	return nil
}

// Close flushes pending messages and stops the topic's goroutines.
func (p *Publisher) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	return nil
}
