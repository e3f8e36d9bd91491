package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/dentalclinic/libs/db"
	"github.com/md-rashed-zaman/dentalclinic/libs/kafkax"
	otelx "github.com/md-rashed-zaman/dentalclinic/libs/otel"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TxBeginner opens the transaction a batch is claimed and marked in.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
	// Retention is how long published rows are kept. Zero keeps them forever.
	Retention time.Duration
}

// Publisher relays outbox rows to Kafka, one topic per event type.
type Publisher struct {
	db        TxBeginner
	repo      *Repository
	logger    *slog.Logger
	brokers   []string
	pollEvery time.Duration
	batchSize int
	retention time.Duration
	now       func() time.Time
}

func NewPublisher(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	p := &Publisher{
		repo:      repo,
		logger:    logger,
		brokers:   kafkax.SplitBrokers(cfg.Brokers),
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
		retention: cfg.Retention,
		now:       time.Now,
	}
	if pool != nil {
		p.db = pool
	}
	return p
}

// Enabled is false when no brokers are configured; events then stay in the table.
func (p *Publisher) Enabled() bool {
	return len(p.brokers) > 0
}

func (p *Publisher) Run(ctx context.Context) {
	if !p.Enabled() {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()

	p.loop(ctx, writer)
}

func (p *Publisher) loop(ctx context.Context, writer MessageWriter) {
	wait := p.pollEvery
	lastPurge := time.Time{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		n, err := p.drain(ctx, writer)
		switch {
		case err != nil:
			wait = min(wait*2, 30*time.Second)
			p.logger.Error("outbox publish failed", "err", err, "retry_in", wait.String())
			continue
		case n > 0:
			p.logger.Debug("outbox drained", "events", n)
		}
		wait = p.pollEvery

		if p.retention > 0 && p.now().Sub(lastPurge) >= time.Hour {
			lastPurge = p.now()
			p.purge(ctx)
		}
	}
}

// drain publishes batches until the table has no more unpublished rows.
func (p *Publisher) drain(ctx context.Context, writer MessageWriter) (int, error) {
	total := 0
	for {
		n, err := p.publishBatch(ctx, writer)
		total += n
		if err != nil || n < p.batchSize || ctx.Err() != nil {
			return total, err
		}
	}
}

// publishBatch claims a batch, writes it and marks it published in one transaction.
// A failed write rolls the claim back, so the rows are retried on the next tick and
// consumers must tolerate duplicates by event_id.
func (p *Publisher) publishBatch(ctx context.Context, writer MessageWriter) (int, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := p.repo.Claim(ctx, tx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim: %w", err)
	}
	if len(records) == 0 {
		return 0, tx.Commit(ctx)
	}

	msgs := make([]kafka.Message, len(records))
	ids := make([]int64, len(records))
	for i, rec := range records {
		msgs[i] = toMessage(ctx, rec)
		ids[i] = rec.ID
	}
	if err := writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, fmt.Errorf("write: %w", err)
	}
	if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
		return 0, fmt.Errorf("mark published: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(records), nil
}

func (p *Publisher) purge(ctx context.Context) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		p.logger.Warn("outbox purge failed", "err", err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := p.repo.Purge(ctx, tx, p.now().Add(-p.retention))
	if err != nil {
		p.logger.Warn("outbox purge failed", "err", err)
		return
	}
	backlog, err := p.repo.Backlog(ctx, tx)
	if err == nil {
		err = tx.Commit(ctx)
	}
	if err != nil {
		p.logger.Warn("outbox purge failed", "err", err)
		return
	}
	p.logger.Info("outbox purged", "events", n, "backlog", backlog)
}

// toMessage keys by aggregate id so all events of one appointment land on one
// partition, and restores the trace context captured at insert time.
func toMessage(ctx context.Context, rec Record) kafka.Message {
	msgCtx := otelx.ContextWithTraceContext(ctx, rec.Traceparent, rec.Tracestate)
	headers := []kafka.Header{
		{Key: "event_id", Value: []byte(rec.EventID)},
		{Key: "event_type", Value: []byte(rec.Event.EventType)},
		{Key: "aggregate_type", Value: []byte(rec.Event.AggregateType)},
	}
	return kafka.Message{
		Topic:   rec.Event.EventType,
		Key:     []byte(rec.Event.AggregateID),
		Value:   rec.Event.Payload,
		Headers: kafkax.InjectTraceHeaders(msgCtx, headers),
	}
}
