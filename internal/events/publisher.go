// Package events publishes ingestion notifications for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/JonMunkholm/companyimport/internal/core"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one JSON message per committed upload, keyed by owner id
// so a single owner's uploads stay ordered within a partition.
type KafkaPublisher struct {
	writer       messageWriter
	writeTimeout time.Duration
}

var _ core.EventPublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher for topic on the given brokers.
func NewKafkaPublisher(brokers []string, topic string, writeTimeout time.Duration) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: writeTimeout,
	}
	return &KafkaPublisher{writer: w, writeTimeout: writeTimeout}
}

// PublishIngestion sends ev synchronously, bounded by the write timeout.
func (p *KafkaPublisher) PublishIngestion(ctx context.Context, ev core.IngestionEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode ingestion event: %w", err)
	}

	if p.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.writeTimeout)
		defer cancel()
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.OwnerID, 10)),
		Value: value,
		Time:  ev.At,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish ingestion %s: %w", ev.UploadID, err)
	}
	return nil
}

// Close flushes pending writes and closes broker connections.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop discards every event. It is used when no brokers are configured.
type Nop struct{}

var _ core.EventPublisher = Nop{}

func (Nop) PublishIngestion(context.Context, core.IngestionEvent) error { return nil }
func (Nop) Close() error                                                { return nil }
