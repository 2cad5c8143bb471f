package repository

import (
	"context"
	"path/filepath"
	"time"

	"PatternDesk/internal/domain/models"
	domrepo "PatternDesk/internal/domain/repository"
	pkgkafka "PatternDesk/pkg/kafka"
)

const (
	EventReportPublished  = "report.published"
	EventSummaryPublished = "summary.published"
)

// ReportEvent announces a newly published file. Consumers still read the
// file itself; the event only carries enough to locate it.
type ReportEvent struct {
	Type         string                `json:"type"`
	File         string                `json:"file"`
	RunID        string                `json:"run_id,omitempty"`
	Symbol       models.Symbol         `json:"symbol,omitempty"`
	Timeframe    models.Timeframe      `json:"timeframe,omitempty"`
	GeneratedAt  *time.Time            `json:"generated_at,omitempty"`
	PatternCount *int                  `json:"pattern_count,omitempty"`
	Summary      *models.SummaryReport `json:"summary,omitempty"`
}

// KafkaEventPublisher implements EventPublisher on a Kafka topic keyed by pair.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaEventPublisher creates a publisher on topic.
func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) PublishReport(ctx context.Context, pub models.Published[models.RunReport]) error {
	ev := reportEvent(pub)
	return p.producer.PublishBatch(ctx, p.topic, []pkgkafka.Message{{
		Key:     []byte(pub.Record.Pair().String()),
		Value:   ev,
		Headers: map[string]string{"type": ev.Type},
	}})
}

func (p *KafkaEventPublisher) PublishSummary(ctx context.Context, pub models.Published[models.SummaryReport]) error {
	ev := summaryEvent(pub)
	return p.producer.PublishBatch(ctx, p.topic, []pkgkafka.Message{{
		Key:     []byte("summary"),
		Value:   ev,
		Headers: map[string]string{"type": ev.Type},
	}})
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

func reportEvent(pub models.Published[models.RunReport]) ReportEvent {
	r := pub.Record
	at := r.GeneratedAt
	n := len(r.Patterns)
	return ReportEvent{
		Type:         EventReportPublished,
		File:         filepath.Base(pub.Path),
		RunID:        r.RunID,
		Symbol:       r.Symbol,
		Timeframe:    r.Timeframe,
		GeneratedAt:  &at,
		PatternCount: &n,
	}
}

func summaryEvent(pub models.Published[models.SummaryReport]) ReportEvent {
	s := pub.Record
	s.Extensions = nil
	return ReportEvent{
		Type:    EventSummaryPublished,
		File:    filepath.Base(pub.Path),
		RunID:   s.RunID,
		Summary: &s,
	}
}

// NopEventPublisher drops every event. Used when Kafka is disabled.
type NopEventPublisher struct{}

func (NopEventPublisher) PublishReport(context.Context, models.Published[models.RunReport]) error {
	return nil
}

func (NopEventPublisher) PublishSummary(context.Context, models.Published[models.SummaryReport]) error {
	return nil
}

func (NopEventPublisher) Close() error { return nil }

var (
	_ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)
	_ domrepo.EventPublisher = NopEventPublisher{}
)
