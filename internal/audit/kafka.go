package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/aman-churiwal/api-ratelimiter/internal/models"
	"github.com/twmb/franz-go/pkg/kgo"
)

// The subset of *kgo.Client used for publishing
type producer interface {
	TryProduce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// KafkaPublisher streams audit records to a topic, keyed by user id so one
// user's decisions stay ordered within a partition.
type KafkaPublisher struct {
	producer producer
	logger   *slog.Logger
	counters Counters
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger, counters Counters) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ClientID("api-ratelimiter"),
		kgo.ProducerLinger(50*time.Millisecond),
		kgo.RecordDeliveryTimeout(30*time.Second),
		kgo.MaxBufferedRecords(10_000),
	)
	if err != nil {
		return nil, err
	}

	return newKafkaPublisher(client, logger, counters), nil
}

func newKafkaPublisher(p producer, logger *slog.Logger, counters Counters) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if counters == nil {
		counters = noopCounters{}
	}
	return &KafkaPublisher{producer: p, logger: logger, counters: counters}
}

func (p *KafkaPublisher) Record(record models.AuditRecord) {
	rec, err := encodeRecord(record)
	if err != nil {
		p.counters.IncAuditDropped()
		p.logger.Error("failed to encode audit record", slog.Any("error", err))
		return
	}

	// TryProduce fails fast with ErrMaxBuffered instead of blocking the request
	// path; the request context would cancel delivery
	p.producer.TryProduce(context.Background(), rec, func(_ *kgo.Record, err error) {
		if errors.Is(err, kgo.ErrMaxBuffered) {
			p.counters.IncAuditDropped()
			return
		}
		if err != nil {
			p.counters.IncAuditWriteFailures()
			p.logger.Error("failed to publish audit record",
				slog.String("user_id", record.UserID),
				slog.Any("error", err),
			)
		}
	})
}

// Waits for buffered records to be delivered, then closes the client
func (p *KafkaPublisher) Close(ctx context.Context) error {
	defer p.producer.Close()
	return p.producer.Flush(ctx)
}

func encodeRecord(record models.AuditRecord) (*kgo.Record, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}

	return &kgo.Record{
		Key:       []byte(record.UserID),
		Value:     payload,
		Timestamp: record.Timestamp,
		Headers: []kgo.RecordHeader{
			{Key: "reason", Value: []byte(record.Reason)},
		},
	}, nil
}
