package notify

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore/pkg/logger"
	"github.com/angelmondragon/marketcore/pkg/outbox"
)

const dispatchTimeout = 5 * time.Second

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Sink receives events produced by a committed core operation.
type Sink interface {
	Dispatch(ctx context.Context, events ...outbox.DomainEvent)
}

// Dispatcher queues notification events in the outbox once the core
// transaction has committed. Failures are logged and never returned.
type Dispatcher struct {
	tx     txRunner
	outbox outboxEmitter
	logg   *logger.Logger
}

// NewDispatcher wires the dispatcher.
func NewDispatcher(tx txRunner, emitter outboxEmitter, logg *logger.Logger) (*Dispatcher, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Dispatcher{tx: tx, outbox: emitter, logg: logg}, nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, events ...outbox.DomainEvent) {
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	defer cancel()

	err := d.tx.WithTx(ctx, func(tx *gorm.DB) error {
		for _, event := range events {
			if err := d.outbox.Emit(ctx, tx, event); err != nil {
				return fmt.Errorf("emit %s for %s: %w", event.EventType, event.AggregateID, err)
			}
		}
		return nil
	})
	if err != nil {
		logCtx := d.logg.WithFields(ctx, map[string]any{
			"event_count": len(events),
			"event_type":  string(events[0].EventType),
		})
		d.logg.Error(logCtx, "notification dispatch failed", err)
	}
}

// Discard drops every event. Useful for tools that run core operations offline.
type Discard struct{}

func (Discard) Dispatch(context.Context, ...outbox.DomainEvent) {}
