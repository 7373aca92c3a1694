package audit

import "github.com/aman-churiwal/api-ratelimiter/internal/models"

// Sink accepts audit records without blocking
type Sink interface {
	Record(record models.AuditRecord)
}

// Fanout hands every record to each of its sinks
type Fanout []Sink

func (f Fanout) Record(record models.AuditRecord) {
	for _, sink := range f {
		sink.Record(record)
	}
}
