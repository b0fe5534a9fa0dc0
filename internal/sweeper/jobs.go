package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	waitlistdomain "github.com/smallbiznis/studiobook/internal/waitlist/domain"
	"go.uber.org/zap"
)

// OfferSeatsJob scans for classes with a free confirmed seat, a non-empty
// waitlist and no outstanding offer, and invites the earliest queued
// booking. OfferSeat re-validates everything under the class row lock.
func (s *Sweeper) OfferSeatsJob(ctx context.Context) error {
	now := s.clock.Now()

	classIDs, err := s.classesNeedingOffers(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	var jobErr error
	for _, classID := range classIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		offer, err := s.waitlistSvc.OfferSeat(ctx, classID)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			s.log.Warn("failed to offer seat",
				zap.Int64("class_id", classID.Int64()),
				zap.Error(err),
			)
			continue
		}
		if offer != nil {
			s.log.Info("offer created",
				zap.Int64("offer_id", offer.ID.Int64()),
				zap.Int64("class_id", classID.Int64()),
			)
		}
	}

	return jobErr
}

// ExpireOffersJob resolves pending offers whose deadline passed, escalating
// each to the next queued booking when one exists. The listing takes no
// locks; ExpireOrEscalate re-locks and revalidates every offer, so a
// concurrent resolver losing the race is harmless.
func (s *Sweeper) ExpireOffersJob(ctx context.Context) error {
	now := s.clock.Now()

	lapsed, err := s.waitlistRepo.ListLapsed(ctx, s.db, now, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	var jobErr error
	for _, offer := range lapsed {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		status, err := s.waitlistSvc.ExpireOrEscalate(ctx, offer.ID)
		if err != nil {
			// Listed offers can be resolved by a concurrent accept or
			// decline before this worker reaches them.
			if errors.Is(err, waitlistdomain.ErrOfferNotPending) || errors.Is(err, waitlistdomain.ErrOfferNotLapsed) {
				continue
			}
			jobErr = errors.Join(jobErr, err)
			s.log.Warn("failed to resolve lapsed offer",
				zap.Int64("offer_id", offer.ID.Int64()),
				zap.Error(err),
			)
			continue
		}

		s.log.Info("lapsed offer resolved",
			zap.Int64("offer_id", offer.ID.Int64()),
			zap.String("status", string(status)),
		)
	}

	return jobErr
}

// DispatchEventsJob drains one batch of the booking_events outbox.
func (s *Sweeper) DispatchEventsJob(ctx context.Context) error {
	processed, err := s.dispatcher.Dispatch(ctx)
	if err != nil {
		return err
	}
	if processed > 0 {
		s.log.Info("outbox events dispatched", zap.Int("count", processed))
	}
	return nil
}

// classesNeedingOffers finds upcoming classes where a seat can be offered.
func (s *Sweeper) classesNeedingOffers(ctx context.Context, now time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	if err := s.db.WithContext(ctx).Raw(
		`SELECT cs.id FROM class_sessions cs
		 WHERE cs.scheduled_at > ?
		   AND (SELECT COUNT(*) FROM bookings b WHERE b.class_id = cs.id AND b.status = 'CONFIRMED') < cs.capacity
		   AND EXISTS (SELECT 1 FROM bookings b WHERE b.class_id = cs.id AND b.status = 'WAITLISTED')
		   AND NOT EXISTS (SELECT 1 FROM waitlist_offers o WHERE o.class_id = cs.id AND o.status = 'PENDING')
		 ORDER BY cs.scheduled_at ASC
		 LIMIT ?`,
		now,
		limit,
	).Scan(&ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
