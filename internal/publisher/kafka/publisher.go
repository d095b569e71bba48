// Package kafka publishes outlink batches to a Kafka topic, one message per
// batch.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements crawler.LinkSink on a Kafka writer.
type Publisher struct {
	writer messageWriter
	key    []byte
	now    func() time.Time
}

// New creates a Publisher for the given brokers and topic.
func New(brokers []string, topic string) *Publisher {
	return NewWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: false,
		RequiredAcks:           kafka.RequireAll,
	})
}

// NewWithWriter builds a Publisher using a custom writer (tests).
func NewWithWriter(writer messageWriter) *Publisher {
	return &Publisher{writer: writer, key: []byte("outlinks"), now: time.Now}
}

// SendLinks writes the batch as one JSON message.
func (p *Publisher) SendLinks(ctx context.Context, links []crawler.Outlink) error {
	payload, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("marshal outlinks: %w", err)
	}
	msg := kafka.Message{
		Key:   p.key,
		Value: payload,
		Time:  p.now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write outlinks message: %w", err)
	}
	return nil
}

// Close shuts down the underlying writer.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
