// Package relay publishes audit outbox rows to the event stream.
//
// Delivery is at least once: a batch is marked published only after the
// producer acknowledged it, so a crash in between republishes the batch.
// Consumers deduplicate on the payload id.
package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"idchain/pkg/platform/audit/store/postgres"
)

// Outbox is the read side of the audit outbox.
type Outbox interface {
	Unpublished(ctx context.Context, limit int) ([]postgres.OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Message is one record handed to the producer.
type Message struct {
	Key       string
	EventType string
	Value     []byte
}

// Producer publishes a batch synchronously.
type Producer interface {
	Publish(ctx context.Context, msgs []Message) error
}

// TxRunner runs fn in a transaction carried by ctx.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Relay struct {
	outbox    Outbox
	producer  Producer
	tx        TxRunner
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func New(outbox Outbox, producer Producer, tx TxRunner, logger *slog.Logger, interval time.Duration, batchSize int) *Relay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		outbox:    outbox,
		producer:  producer,
		tx:        tx,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Run relays batches every interval until ctx is cancelled. A full batch is
// followed immediately by the next one.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		for {
			n, err := r.RelayOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.ErrorContext(ctx, "audit relay failed", "error", err)
				break
			}
			if n < r.batchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes one batch and returns its size.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	var published int
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		entries, err := r.outbox.Unpublished(ctx, r.batchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		msgs := make([]Message, len(entries))
		ids := make([]uuid.UUID, len(entries))
		for i, e := range entries {
			msgs[i] = Message{Key: e.AggregateID, EventType: e.EventType, Value: e.Payload}
			ids[i] = e.ID
		}
		if err := r.producer.Publish(ctx, msgs); err != nil {
			return err
		}
		if err := r.outbox.MarkPublished(ctx, ids, r.now()); err != nil {
			return err
		}
		published = len(entries)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if published > 0 {
		r.logger.DebugContext(ctx, "audit events relayed", "count", published)
	}
	return published, nil
}
