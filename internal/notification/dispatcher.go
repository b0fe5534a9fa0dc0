// Package notification delivers booking lifecycle events from the outbox to
// members by email.
package notification

import (
	"context"

	"github.com/smallbiznis/studiobook/internal/clock"
	"github.com/smallbiznis/studiobook/internal/config"
	"github.com/smallbiznis/studiobook/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/studiobook/internal/outbox/domain"
	"github.com/smallbiznis/studiobook/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxAttempts parks an event as FAILED after this many delivery failures.
const maxAttempts = 5

var eventTemplates = map[outboxdomain.EventType]string{
	outboxdomain.EventBookingConfirmed:  "booking_confirmed",
	outboxdomain.EventBookingWaitlisted: "booking_waitlisted",
	outboxdomain.EventBookingCancelled:  "booking_cancelled",
	outboxdomain.EventWaitlistPromoted:  "waitlist_promoted",
	outboxdomain.EventOfferCreated:      "waitlist_offer",
	outboxdomain.EventOfferExpired:      "waitlist_offer_expired",
}

type Dispatcher struct {
	db  *gorm.DB
	log *zap.Logger

	clock     clock.Clock
	repo      outboxdomain.Repository
	provider  email.Provider
	batchSize int
}

type DispatcherParam struct {
	fx.In

	Cfg      config.Config
	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     outboxdomain.Repository
	Provider email.Provider
}

func NewDispatcher(p DispatcherParam) *Dispatcher {
	batch := p.Cfg.Sweeper.MaxDispatches
	if batch <= 0 {
		batch = 100
	}

	return &Dispatcher{
		db:  p.DB,
		log: p.Log.Named("notification.dispatcher"),

		clock:     p.Clock,
		repo:      p.Repo,
		provider:  p.Provider,
		batchSize: batch,
	}
}

// Dispatch claims one batch of pending events and delivers them, returning
// the number of events resolved. Events without a recipient address in the
// payload are marked dispatched without a send, delivery is best effort.
func (d *Dispatcher) Dispatch(ctx context.Context) (int, error) {
	now := d.clock.Now()

	processed := 0
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		events, err := d.repo.ClaimPending(ctx, tx, d.batchSize)
		if err != nil {
			return err
		}

		for _, event := range events {
			if err := d.deliver(ctx, event); err != nil {
				d.log.Warn("event delivery failed",
					zap.Int64("event_id", event.ID.Int64()),
					zap.String("event_type", string(event.EventType)),
					zap.Error(err),
				)
				metrics.Default().IncOutboxDispatch("failed")
				if err := d.repo.MarkAttemptFailed(ctx, tx, event.ID, maxAttempts, now); err != nil {
					return err
				}
				continue
			}

			if err := d.repo.MarkDispatched(ctx, tx, event.ID, now); err != nil {
				return err
			}
			metrics.Default().IncOutboxDispatch("dispatched")
			processed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return processed, nil
}

func (d *Dispatcher) deliver(ctx context.Context, event outboxdomain.BookingEvent) error {
	templateName, ok := eventTemplates[event.EventType]
	if !ok {
		d.log.Warn("no template for event type", zap.String("event_type", string(event.EventType)))
		return nil
	}

	recipient, _ := event.Payload["email"].(string)
	if recipient == "" {
		return nil
	}

	data := make(map[string]interface{}, len(event.Payload))
	for k, v := range event.Payload {
		data[k] = v
	}

	return d.provider.SendTemplate(ctx, []string{recipient}, templateName, data)
}

var Module = fx.Module("notification",
	fx.Provide(NewDispatcher),
)
