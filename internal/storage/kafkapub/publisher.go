// Package kafkapub publishes each report relation as one record on a compacted
// topic, keyed by destination. A single record per relation means consumers
// see the previous or the new relation, and compaction keeps only the latest.
package kafkapub

import (
	"context"
	"fmt"
	"log"
	"strings"

	"salesagg/internal/aggregate"
	"salesagg/internal/storage"

	"github.com/segmentio/kafka-go"
)

// messageWriter abstracts kafka.Writer for testability.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is a Kafka-backed sink.
type Publisher struct {
	writer messageWriter
	runID  string
}

// NewPublisher creates a publisher for topic on the given brokers.
func NewPublisher(brokers []string, topic, runID string) (*Publisher, error) {
	var addrs []string
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka: brokers and topic are required")
	}
	return &Publisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: false,
	}, runID: runID}, nil
}

// newPublisherWith is used by tests to inject a fake writer.
func newPublisherWith(w messageWriter, runID string) *Publisher {
	return &Publisher{writer: w, runID: runID}
}

func init() {
	storage.Register("kafka", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return NewPublisher(cfg.Options.StringSlice("brokers"), cfg.Options.String("topic", ""), cfg.RunID)
	})
}

// Write sends rel as a single message keyed by dest.
func (p *Publisher) Write(ctx context.Context, dest string, rel *aggregate.Relation) error {
	b, err := rel.MarshalColumnar()
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(dest),
		Value: b,
		Headers: []kafka.Header{
			{Key: "run_id", Value: []byte(p.runID)},
			{Key: "checksum", Value: []byte(rel.Checksum())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: publish %s: %w", dest, err)
	}
	log.Printf("kafka: published key=%s rows=%d bytes=%d", dest, len(rel.Rows), len(b))
	return nil
}

func (p *Publisher) Close() error { return p.writer.Close() }
