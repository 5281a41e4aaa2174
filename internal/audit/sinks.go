package audit

import (
	"context"
	"fmt"

	"keyless-recovery/internal/models"
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS security_events (
	event_id       String,
	event_bucket   UInt16,
	event_date     Date,
	event_time     DateTime64(3, 'UTC'),
	event_type     LowCardinality(String),
	phone          String,
	wallet_address String,
	session_id     String,
	ip_address     String,
	risk_score     UInt8,
	details        String
) ENGINE = MergeTree
PARTITION BY toYYYYMM(event_date)
ORDER BY (event_bucket, event_time, event_id)`

const insertEvent = `INSERT INTO security_events (
	event_id, event_bucket, event_date, event_time, event_type, phone,
	wallet_address, session_id, ip_address, risk_score, details)`

type batchInserter interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	BatchInsert(ctx context.Context, query string, rows [][]interface{}) error
}

type ClickHouseSink struct {
	db batchInserter
}

func NewClickHouseSink(db batchInserter) *ClickHouseSink {
	return &ClickHouseSink{db: db}
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

// EnsureTable creates the security_events table.
func (s *ClickHouseSink) EnsureTable(ctx context.Context) error {
	if err := s.db.Exec(ctx, createEventsTable); err != nil {
		return fmt.Errorf("failed to create security_events table: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Write(ctx context.Context, evt *models.SecurityEvent) error {
	row := []interface{}{
		evt.EventID,
		uint16(evt.EventBucket),
		evt.EventTime,
		evt.EventTime,
		evt.EventType,
		evt.Phone,
		evt.WalletAddress,
		evt.SessionID,
		evt.IPAddress,
		uint8(evt.RiskScore),
		evt.Details,
	}
	return s.db.BatchInsert(ctx, insertEvent, [][]interface{}{row})
}

const eventsIndexMapping = `{
  "mappings": {
    "properties": {
      "event_id":       {"type": "keyword"},
      "event_bucket":   {"type": "integer"},
      "event_date":     {"type": "date", "format": "yyyy-MM-dd"},
      "event_time":     {"type": "date"},
      "event_type":     {"type": "keyword"},
      "phone":          {"type": "keyword"},
      "wallet_address": {"type": "keyword"},
      "session_id":     {"type": "keyword"},
      "ip_address":     {"type": "ip"},
      "risk_score":     {"type": "integer"},
      "details":        {"type": "text"}
    }
  }
}`

type documentIndexer interface {
	EnsureIndex(ctx context.Context, index, mapping string) error
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
}

type ElasticsearchSink struct {
	es    documentIndexer
	index string
}

func NewElasticsearchSink(es documentIndexer, index string) *ElasticsearchSink {
	return &ElasticsearchSink{es: es, index: index}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) EnsureIndex(ctx context.Context) error {
	return s.es.EnsureIndex(ctx, s.index, eventsIndexMapping)
}

func (s *ElasticsearchSink) Write(ctx context.Context, evt *models.SecurityEvent) error {
	return s.es.IndexDocument(ctx, s.index, evt.EventID, evt)
}
