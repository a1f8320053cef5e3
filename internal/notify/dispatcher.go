// Package notify delivers ledger change events from the transactional outbox
// to subscribers. Delivery is at-least-once: an event is marked published only
// after every publisher accepted it.
package notify

import (
	"context"
	"errors"
	"time"

	"timebank/internal/logging"
	"timebank/internal/metrics"
	"timebank/internal/models"
	"timebank/internal/store"

	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, event models.ChangeEvent) error
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event models.ChangeEvent) error {
	var errs []error
	for _, publisher := range f {
		if err := publisher.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OutboxStore admits one dispatcher at a time; Claim returns
// store.ErrOutboxBusy to the others.
type OutboxStore interface {
	Claim(ctx context.Context, limit int, publish store.PublishFunc) (int, error)
	Backlog(ctx context.Context) (int64, error)
}

type DispatcherConfig struct {
	PollEvery time.Duration
	BatchSize int
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{PollEvery: 500 * time.Millisecond, BatchSize: 100}
}

type Dispatcher struct {
	outbox    OutboxStore
	publisher Publisher
	config    DispatcherConfig
	recorder  metrics.Recorder
	logger    *logging.Logger
}

func NewDispatcher(outbox OutboxStore, publisher Publisher, config DispatcherConfig, recorder metrics.Recorder, logger *logging.Logger) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if config.PollEvery <= 0 {
		config.PollEvery = defaults.PollEvery
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	return &Dispatcher{
		outbox:    outbox,
		publisher: publisher,
		config:    config,
		recorder:  metrics.OrNoOp(recorder),
		logger:    logging.OrNop(logger).Named("outbox"),
	}
}

// Run polls the outbox until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.config.PollEvery)
	defer ticker.Stop()
	for {
		for {
			sent, err := d.DispatchOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.logger.Warn("outbox dispatch failed", zap.Error(err))
				break
			}
			if sent < d.config.BatchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DispatchOnce publishes one batch in sequence order and returns how many
// events were marked published. It stops at the first publish failure so a
// later event never overtakes an earlier one. While another instance holds
// the outbox it publishes nothing and returns no error.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	sent, err := d.outbox.Claim(ctx, d.config.BatchSize, func(events []store.OutboxEvent) ([]int64, error) {
		seqs := make([]int64, 0, len(events))
		for _, event := range events {
			if err := d.publisher.Publish(ctx, event.ChangeEvent()); err != nil {
				d.logger.Warn("publish failed, will retry",
					zap.Int64("seq", event.Seq),
					zap.String("entry_id", event.EntryID),
					zap.Error(err),
				)
				return seqs, err
			}
			seqs = append(seqs, event.Seq)
		}
		return seqs, nil
	})
	if errors.Is(err, store.ErrOutboxBusy) {
		return 0, nil
	}
	if sent == 0 && err != nil {
		return 0, err
	}
	d.recorder.RecordEventsPublished(sent)
	if backlog, err := d.outbox.Backlog(ctx); err == nil {
		d.recorder.RecordOutboxBacklog(int(backlog))
	}
	return sent, err
}
