package main

import (
	"log/slog"

	"github.com/aman-churiwal/api-ratelimiter/internal/audit"
	"github.com/aman-churiwal/api-ratelimiter/internal/config"
)

type auditSinks struct {
	fanout    audit.Fanout
	writer    *audit.BatchWriter    // nil unless postgres is selected
	publisher *audit.KafkaPublisher // nil unless kafka is selected
}

// Builds the configured audit sinks without starting them, so a failure
// leaves nothing running.
func buildAuditSinks(cfg config.AuditConfig, store audit.BatchStore, logger *slog.Logger, counters audit.Counters) (*auditSinks, error) {
	sinks := &auditSinks{}

	if cfg.Sink == config.AuditSinkPostgres || cfg.Sink == config.AuditSinkBoth {
		sinks.writer = audit.NewBatchWriter(store, audit.WriterConfig{
			BufferSize:    cfg.BufferSize,
			BatchSize:     cfg.BatchSize,
			FlushInterval: millis(cfg.FlushIntervalMs),
			Logger:        logger,
			Counters:      counters,
		})
		sinks.fanout = append(sinks.fanout, sinks.writer)
	}

	if cfg.Sink == config.AuditSinkKafka || cfg.Sink == config.AuditSinkBoth {
		publisher, err := audit.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger, counters)
		if err != nil {
			return nil, err
		}
		sinks.publisher = publisher
		sinks.fanout = append(sinks.fanout, publisher)
	}

	return sinks, nil
}
