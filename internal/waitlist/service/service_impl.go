package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/studiobook/internal/booking/domain"
	classesdomain "github.com/smallbiznis/studiobook/internal/classes/domain"
	"github.com/smallbiznis/studiobook/internal/clock"
	"github.com/smallbiznis/studiobook/internal/config"
	"github.com/smallbiznis/studiobook/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/studiobook/internal/outbox/domain"
	waitlistdomain "github.com/smallbiznis/studiobook/internal/waitlist/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	clock    clock.Clock
	offerTTL time.Duration

	repo        waitlistdomain.Repository
	bookingRepo bookingdomain.Repository
	bookingSvc  bookingdomain.Service
	classesRepo classesdomain.Repository
	outboxRepo  outboxdomain.Repository
}

type ServiceParam struct {
	fx.In

	Cfg   config.Config
	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	Repo        waitlistdomain.Repository
	BookingRepo bookingdomain.Repository
	BookingSvc  bookingdomain.Service
	ClassesRepo classesdomain.Repository
	OutboxRepo  outboxdomain.Repository
}

func NewService(p ServiceParam) waitlistdomain.Service {
	ttl := p.Cfg.Sweeper.OfferTTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}

	return &Service{
		db:  p.DB,
		log: p.Log.Named("waitlist.service"),

		genID:    p.GenID,
		clock:    p.Clock,
		offerTTL: ttl,

		repo:        p.Repo,
		bookingRepo: p.BookingRepo,
		bookingSvc:  p.BookingSvc,
		classesRepo: p.ClassesRepo,
		outboxRepo:  p.OutboxRepo,
	}
}

// Accept implements domain.Service.
func (s *Service) Accept(ctx context.Context, req waitlistdomain.RespondRequest) (bookingdomain.Booking, error) {
	now := s.clock.Now()

	var confirmed bookingdomain.Booking
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		offer, err := s.lockPendingOffer(ctx, tx, req.OfferID)
		if err != nil {
			return err
		}
		if offer.UserID != req.UserID {
			return waitlistdomain.ErrNotOfferOwner
		}
		if !now.Before(offer.ExpiresAt) {
			return waitlistdomain.ErrOfferExpired
		}

		class, err := s.classesRepo.FindByIDForUpdate(ctx, tx, offer.ClassID)
		if err != nil {
			return err
		}
		if class == nil {
			return classesdomain.ErrClassNotFound
		}

		confirmed, err = s.bookingSvc.ConfirmWaitlistedTx(ctx, tx, *class, offer.BookingID, false)
		if err != nil {
			return err
		}

		changed, err := s.repo.MarkResponded(ctx, tx, offer.ID, waitlistdomain.OfferStatusAccepted, now)
		if err != nil {
			return err
		}
		if !changed {
			return waitlistdomain.ErrOfferNotPending
		}
		return nil
	})
	if err != nil {
		return bookingdomain.Booking{}, err
	}

	metrics.Default().IncOfferOutcome("accepted")
	s.log.Info("offer accepted",
		zap.Int64("offer_id", req.OfferID.Int64()),
		zap.Int64("booking_id", confirmed.ID.Int64()),
	)

	return confirmed, nil
}

// Decline implements domain.Service. Declining needs no expiry check, a
// lapsed offer can still be declined before the sweeper claims it.
func (s *Service) Decline(ctx context.Context, req waitlistdomain.RespondRequest) (waitlistdomain.WaitlistOffer, error) {
	now := s.clock.Now()

	var declined waitlistdomain.WaitlistOffer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		offer, err := s.lockPendingOffer(ctx, tx, req.OfferID)
		if err != nil {
			return err
		}
		if offer.UserID != req.UserID {
			return waitlistdomain.ErrNotOfferOwner
		}

		changed, err := s.repo.MarkResponded(ctx, tx, offer.ID, waitlistdomain.OfferStatusDeclined, now)
		if err != nil {
			return err
		}
		if !changed {
			return waitlistdomain.ErrOfferNotPending
		}

		declined = *offer
		declined.Status = waitlistdomain.OfferStatusDeclined
		declined.RespondedAt = &now
		return nil
	})
	if err != nil {
		return waitlistdomain.WaitlistOffer{}, err
	}

	metrics.Default().IncOfferOutcome("declined")
	return declined, nil
}

// ExpireOrEscalate implements domain.Service.
func (s *Service) ExpireOrEscalate(ctx context.Context, offerID snowflake.ID) (waitlistdomain.OfferStatus, error) {
	now := s.clock.Now()

	var applied waitlistdomain.OfferStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		offer, err := s.lockPendingOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if now.Before(offer.ExpiresAt) {
			return waitlistdomain.ErrOfferNotLapsed
		}

		class, err := s.classesRepo.FindByIDForUpdate(ctx, tx, offer.ClassID)
		if err != nil {
			return err
		}
		if class == nil {
			return classesdomain.ErrClassNotFound
		}

		next, err := s.nextInLine(ctx, tx, class.ID, offer.BookingID)
		if err != nil {
			return err
		}

		if next == nil {
			applied = waitlistdomain.OfferStatusExpired
			changed, err := s.repo.MarkResponded(ctx, tx, offer.ID, waitlistdomain.OfferStatusExpired, now)
			if err != nil {
				return err
			}
			if !changed {
				return waitlistdomain.ErrOfferNotPending
			}

			booking, err := s.bookingRepo.FindByID(ctx, tx, offer.BookingID)
			if err != nil {
				return err
			}
			email := ""
			if booking != nil {
				email = booking.MemberEmail
			}
			return s.appendOfferEvent(ctx, tx, outboxdomain.EventOfferExpired, *offer, *class, email, now)
		}

		applied = waitlistdomain.OfferStatusAutoEscalated
		changed, err := s.repo.MarkResponded(ctx, tx, offer.ID, waitlistdomain.OfferStatusAutoEscalated, now)
		if err != nil {
			return err
		}
		if !changed {
			return waitlistdomain.ErrOfferNotPending
		}

		successor, err := s.insertOffer(ctx, tx, *class, *next, now)
		if err != nil {
			return err
		}
		return s.repo.SetNextOffer(ctx, tx, offer.ID, successor.ID, now)
	})
	if err != nil {
		return "", err
	}

	switch applied {
	case waitlistdomain.OfferStatusExpired:
		metrics.Default().IncOfferOutcome("expired")
	case waitlistdomain.OfferStatusAutoEscalated:
		metrics.Default().IncOfferOutcome("auto_escalated")
	}

	return applied, nil
}

// OfferSeat implements domain.Service.
func (s *Service) OfferSeat(ctx context.Context, classID snowflake.ID) (*waitlistdomain.WaitlistOffer, error) {
	now := s.clock.Now()

	var created *waitlistdomain.WaitlistOffer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		class, err := s.classesRepo.FindByIDForUpdate(ctx, tx, classID)
		if err != nil {
			return err
		}
		if class == nil {
			return classesdomain.ErrClassNotFound
		}

		confirmed, err := s.bookingRepo.CountConfirmed(ctx, tx, classID)
		if err != nil {
			return err
		}
		if confirmed >= class.Capacity {
			return nil
		}

		pending, err := s.repo.HasPendingForClass(ctx, tx, classID)
		if err != nil {
			return err
		}
		if pending {
			return nil
		}

		next, err := s.nextInLine(ctx, tx, classID, 0)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}

		offer, err := s.insertOffer(ctx, tx, *class, *next, now)
		if err != nil {
			return err
		}
		created = offer
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created != nil {
		s.log.Info("seat offered",
			zap.Int64("offer_id", created.ID.Int64()),
			zap.Int64("class_id", created.ClassID.Int64()),
			zap.Int64("booking_id", created.BookingID.Int64()),
		)
	}

	return created, nil
}

// ListByUser implements domain.Service.
func (s *Service) ListByUser(ctx context.Context, userID snowflake.ID, limit int) ([]waitlistdomain.WaitlistOffer, error) {
	if limit <= 0 || limit > 250 {
		limit = 50
	}
	return s.repo.ListByUser(ctx, s.db, userID, limit)
}

func (s *Service) lockPendingOffer(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*waitlistdomain.WaitlistOffer, error) {
	offer, err := s.repo.FindByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, waitlistdomain.ErrOfferNotFound
	}
	if offer.Status != waitlistdomain.OfferStatusPending {
		return nil, waitlistdomain.ErrOfferNotPending
	}
	return offer, nil
}

// nextInLine finds the earliest waitlisted booking of the class, skipping
// the one the lapsed offer already belongs to.
func (s *Service) nextInLine(ctx context.Context, tx *gorm.DB, classID, excludeBookingID snowflake.ID) (*bookingdomain.Booking, error) {
	queue, err := s.bookingRepo.ListWaitlisted(ctx, tx, classID)
	if err != nil {
		return nil, err
	}
	for i := range queue {
		if queue[i].ID == excludeBookingID {
			continue
		}
		return &queue[i], nil
	}
	return nil, nil
}

func (s *Service) insertOffer(ctx context.Context, tx *gorm.DB, class classesdomain.ClassSession, booking bookingdomain.Booking, now time.Time) (*waitlistdomain.WaitlistOffer, error) {
	offer := waitlistdomain.WaitlistOffer{
		ID:        s.genID.Generate(),
		BookingID: booking.ID,
		ClassID:   class.ID,
		UserID:    booking.UserID,
		Status:    waitlistdomain.OfferStatusPending,
		ExpiresAt: now.Add(s.offerTTL),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Insert(ctx, tx, &offer); err != nil {
		return nil, err
	}

	if err := s.appendOfferEvent(ctx, tx, outboxdomain.EventOfferCreated, offer, class, booking.MemberEmail, now); err != nil {
		return nil, err
	}

	return &offer, nil
}

// appendOfferEvent mirrors the booking engine's outbox payloads: the
// dispatcher addresses and renders the email from the payload alone.
func (s *Service) appendOfferEvent(ctx context.Context, tx *gorm.DB, eventType outboxdomain.EventType, offer waitlistdomain.WaitlistOffer, class classesdomain.ClassSession, memberEmail string, now time.Time) error {
	payload := datatypes.JSONMap{
		"offer_id":     offer.ID.String(),
		"expires_at":   offer.ExpiresAt.Format(time.RFC3339),
		"class_name":   class.Name,
		"scheduled_at": class.ScheduledAt.Format(time.RFC3339),
	}
	if memberEmail != "" {
		payload["email"] = memberEmail
	}

	return s.outboxRepo.Insert(ctx, tx, &outboxdomain.BookingEvent{
		ID:        s.genID.Generate(),
		EventType: eventType,
		BookingID: offer.BookingID,
		ClassID:   offer.ClassID,
		UserID:    offer.UserID,
		Payload:   payload,
		Status:    outboxdomain.EventStatusPending,
		CreatedAt: now,
	})
}
