package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/studiobook/internal/booking/domain"
	classesdomain "github.com/smallbiznis/studiobook/internal/classes/domain"
	"github.com/smallbiznis/studiobook/internal/clock"
	creditsdomain "github.com/smallbiznis/studiobook/internal/credits/domain"
	"github.com/smallbiznis/studiobook/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/studiobook/internal/outbox/domain"
	"github.com/smallbiznis/studiobook/internal/policy"
	"github.com/smallbiznis/studiobook/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID       *snowflake.Node
	clock       clock.Clock
	repo        bookingdomain.Repository
	classesRepo classesdomain.Repository
	creditsRepo creditsdomain.Repository
	outboxRepo  outboxdomain.Repository
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	Repo        bookingdomain.Repository
	ClassesRepo classesdomain.Repository
	CreditsRepo creditsdomain.Repository
	OutboxRepo  outboxdomain.Repository
}

func NewService(p ServiceParam) bookingdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("booking.service"),

		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		classesRepo: p.ClassesRepo,
		creditsRepo: p.CreditsRepo,
		outboxRepo:  p.OutboxRepo,
	}
}

// Book implements domain.Service.
//
// Preconditions run before the transaction opens so policy failures never
// touch the database. Inside the transaction the class row lock serializes
// all seat accounting for the class, and both the package and the occupancy
// counts are re-checked under it.
func (s *Service) Book(ctx context.Context, req bookingdomain.BookRequest) (bookingdomain.Booking, error) {
	now := s.clock.Now()

	class, err := s.classesRepo.FindByID(ctx, s.db, req.ClassID)
	if err != nil {
		return bookingdomain.Booking{}, err
	}
	if class == nil {
		return bookingdomain.Booking{}, classesdomain.ErrClassNotFound
	}

	branch, err := s.classesRepo.FindBranchByID(ctx, s.db, class.BranchID)
	if err != nil {
		return bookingdomain.Booking{}, err
	}
	if branch == nil {
		return bookingdomain.Booking{}, classesdomain.ErrBranchNotFound
	}

	pkg, err := s.creditsRepo.FindBestEligible(ctx, s.db, req.UserID, class.BranchID, now)
	if err != nil {
		return bookingdomain.Booking{}, err
	}
	if pkg == nil {
		metrics.Default().IncBookingOutcome("rejected_no_package")
		return bookingdomain.Booking{}, creditsdomain.ErrNoEligiblePackage
	}

	if decision := policy.CanBookByTime(now, class.ScheduledAt, class.EffectiveBookingLeadHours(*branch)); !decision.Allowed {
		metrics.Default().IncBookingOutcome("rejected_policy")
		return bookingdomain.Booking{}, bookingPolicyError(decision.Reason)
	}

	var booked bookingdomain.Booking
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.classesRepo.FindByIDForUpdate(ctx, tx, req.ClassID)
		if err != nil {
			return err
		}
		if locked == nil {
			return classesdomain.ErrClassNotFound
		}

		existing, err := s.repo.FindByUserAndClass(ctx, tx, req.UserID, req.ClassID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status != bookingdomain.BookingStatusCancelled {
			return bookingdomain.ErrAlreadyBooked
		}

		confirmed, err := s.repo.CountConfirmed(ctx, tx, req.ClassID)
		if err != nil {
			return err
		}

		if confirmed < locked.Capacity {
			booked, err = s.placeConfirmed(ctx, tx, locked, existing, req, now)
			return err
		}

		waitlisted, err := s.repo.CountWaitlisted(ctx, tx, req.ClassID)
		if err != nil {
			return err
		}
		if waitlisted >= locked.WaitlistCapacity {
			return bookingdomain.ErrClassAndWaitlistFull
		}

		booked, err = s.placeWaitlisted(ctx, tx, locked, existing, req, now)
		return err
	})
	if err != nil {
		if err == bookingdomain.ErrClassAndWaitlistFull {
			metrics.Default().IncBookingOutcome("rejected_full")
		}
		// Two concurrent first-time bookings race past the existing-row
		// check; the unique (user_id, class_id) index catches the loser.
		if db.IsDuplicateKeyErr(err) {
			return bookingdomain.Booking{}, bookingdomain.ErrAlreadyBooked
		}
		return bookingdomain.Booking{}, err
	}

	if booked.Status == bookingdomain.BookingStatusConfirmed {
		metrics.Default().IncBookingOutcome("confirmed")
	} else {
		metrics.Default().IncBookingOutcome("waitlisted")
	}

	s.log.Info("booking placed",
		zap.Int64("booking_id", booked.ID.Int64()),
		zap.Int64("class_id", booked.ClassID.Int64()),
		zap.Int64("user_id", booked.UserID.Int64()),
		zap.String("status", string(booked.Status)),
	)

	return booked, nil
}

// placeConfirmed seats the user, debiting their best package under the held
// class lock. The package re-resolution is deliberate: the pre-transaction
// check may be stale by the time the lock is acquired.
func (s *Service) placeConfirmed(ctx context.Context, tx *gorm.DB, class *classesdomain.ClassSession, existing *bookingdomain.Booking, req bookingdomain.BookRequest, now time.Time) (bookingdomain.Booking, error) {
	pkg, err := s.creditsRepo.FindBestEligibleForUpdate(ctx, tx, req.UserID, class.BranchID, now)
	if err != nil {
		return bookingdomain.Booking{}, err
	}
	if pkg == nil {
		return bookingdomain.Booking{}, creditsdomain.ErrNoEligiblePackage
	}

	var booking bookingdomain.Booking
	if existing != nil {
		pkgID := pkg.ID
		if err := s.repo.Reactivate(ctx, tx, existing.ID, bookingdomain.BookingStatusConfirmed, nil, &pkgID, req.MemberEmail, now); err != nil {
			return bookingdomain.Booking{}, err
		}
		booking = *existing
		booking.Status = bookingdomain.BookingStatusConfirmed
		booking.WaitlistPosition = nil
		if req.MemberEmail != "" {
			booking.MemberEmail = req.MemberEmail
		}
		booking.PackageID = &pkgID
		booking.BookedAt = now
		booking.ConfirmedAt = &now
		booking.CancelledAt = nil
	} else {
		pkgID := pkg.ID
		booking = bookingdomain.Booking{
			ID:          s.genID.Generate(),
			ClassID:     class.ID,
			UserID:      req.UserID,
			BranchID:    class.BranchID,
			Status:      bookingdomain.BookingStatusConfirmed,
			MemberEmail: req.MemberEmail,
			PackageID:   &pkgID,
			BookedAt:    now,
			ConfirmedAt: &now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.Insert(ctx, tx, &booking); err != nil {
			return bookingdomain.Booking{}, err
		}
	}

	if err := s.debitAndRecordUsage(ctx, tx, pkg, class, booking.ID, req.UserID, now); err != nil {
		return bookingdomain.Booking{}, err
	}

	if err := s.appendEvent(ctx, tx, outboxdomain.EventBookingConfirmed, booking, class, now, nil); err != nil {
		return bookingdomain.Booking{}, err
	}

	return booking, nil
}

func (s *Service) placeWaitlisted(ctx context.Context, tx *gorm.DB, class *classesdomain.ClassSession, existing *bookingdomain.Booking, req bookingdomain.BookRequest, now time.Time) (bookingdomain.Booking, error) {
	maxPosition, err := s.repo.MaxWaitlistPosition(ctx, tx, class.ID)
	if err != nil {
		return bookingdomain.Booking{}, err
	}
	position := maxPosition + 1

	var booking bookingdomain.Booking
	if existing != nil {
		if err := s.repo.Reactivate(ctx, tx, existing.ID, bookingdomain.BookingStatusWaitlisted, &position, nil, req.MemberEmail, now); err != nil {
			return bookingdomain.Booking{}, err
		}
		booking = *existing
		booking.Status = bookingdomain.BookingStatusWaitlisted
		booking.WaitlistPosition = &position
		if req.MemberEmail != "" {
			booking.MemberEmail = req.MemberEmail
		}
		booking.PackageID = nil
		booking.BookedAt = now
		booking.CancelledAt = nil
	} else {
		booking = bookingdomain.Booking{
			ID:               s.genID.Generate(),
			ClassID:          class.ID,
			UserID:           req.UserID,
			BranchID:         class.BranchID,
			Status:           bookingdomain.BookingStatusWaitlisted,
			WaitlistPosition: &position,
			MemberEmail:      req.MemberEmail,
			BookedAt:         now,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.repo.Insert(ctx, tx, &booking); err != nil {
			return bookingdomain.Booking{}, err
		}
	}

	if err := s.appendEvent(ctx, tx, outboxdomain.EventBookingWaitlisted, booking, class, now, map[string]interface{}{
		"waitlist_position": position,
	}); err != nil {
		return bookingdomain.Booking{}, err
	}

	return booking, nil
}

// Cancel implements domain.Service.
//
// A confirmed cancellation refunds the paying package, flags the usage row
// and promotes at most one waitlisted booking before committing.
func (s *Service) Cancel(ctx context.Context, req bookingdomain.CancelRequest) (bookingdomain.Booking, error) {
	now := s.clock.Now()

	booking, err := s.repo.FindByID(ctx, s.db, req.BookingID)
	if err != nil {
		return bookingdomain.Booking{}, err
	}
	if booking == nil {
		return bookingdomain.Booking{}, bookingdomain.ErrBookingNotFound
	}
	if req.ActorID != 0 && booking.UserID != req.ActorID {
		return bookingdomain.Booking{}, bookingdomain.ErrNotBookingOwner
	}
	if booking.Status == bookingdomain.BookingStatusCancelled {
		return bookingdomain.Booking{}, bookingdomain.ErrAlreadyCancelled
	}

	class, err := s.classesRepo.FindByID(ctx, s.db, booking.ClassID)
	if err != nil {
		return bookingdomain.Booking{}, err
	}
	if class == nil {
		return bookingdomain.Booking{}, classesdomain.ErrClassNotFound
	}

	branch, err := s.classesRepo.FindBranchByID(ctx, s.db, class.BranchID)
	if err != nil {
		return bookingdomain.Booking{}, err
	}
	if branch == nil {
		return bookingdomain.Booking{}, classesdomain.ErrBranchNotFound
	}

	if decision := policy.CanCancelBooking(now, class.ScheduledAt, branch.CancelLeadHours); !decision.Allowed {
		metrics.Default().IncBookingOutcome("cancel_rejected_policy")
		return bookingdomain.Booking{}, cancelPolicyError(decision.Reason)
	}

	var cancelled bookingdomain.Booking
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.classesRepo.FindByIDForUpdate(ctx, tx, booking.ClassID)
		if err != nil {
			return err
		}
		if locked == nil {
			return classesdomain.ErrClassNotFound
		}

		current, err := s.repo.FindByIDForUpdate(ctx, tx, req.BookingID)
		if err != nil {
			return err
		}
		if current == nil {
			return bookingdomain.ErrBookingNotFound
		}

		wasConfirmed := current.Status == bookingdomain.BookingStatusConfirmed

		changed, err := s.repo.MarkCancelled(ctx, tx, current.ID, now)
		if err != nil {
			return err
		}
		if !changed {
			return bookingdomain.ErrAlreadyCancelled
		}

		cancelled = *current
		cancelled.Status = bookingdomain.BookingStatusCancelled
		cancelled.CancelledAt = &now

		if err := s.appendEvent(ctx, tx, outboxdomain.EventBookingCancelled, cancelled, locked, now, nil); err != nil {
			return err
		}

		if !wasConfirmed {
			return nil
		}

		if err := s.refundBooking(ctx, tx, current, now); err != nil {
			return err
		}

		return s.promoteNext(ctx, tx, locked, now)
	})
	if err != nil {
		return bookingdomain.Booking{}, err
	}

	metrics.Default().IncBookingOutcome("cancelled")
	s.log.Info("booking cancelled",
		zap.Int64("booking_id", cancelled.ID.Int64()),
		zap.Int64("class_id", cancelled.ClassID.Int64()),
	)

	return cancelled, nil
}

func (s *Service) refundBooking(ctx context.Context, tx *gorm.DB, booking *bookingdomain.Booking, now time.Time) error {
	usage, err := s.creditsRepo.FindOpenUsageByBookingID(ctx, tx, booking.ID)
	if err != nil {
		return err
	}
	if usage == nil {
		// Confirmed without an open usage row only happens for data older
		// than the ledger. Nothing to refund.
		s.log.Warn("confirmed booking has no open usage row",
			zap.Int64("booking_id", booking.ID.Int64()),
		)
		return nil
	}

	if usage.CreditsUsed > 0 {
		if err := s.creditsRepo.Refund(ctx, tx, usage.PackageID, now); err != nil {
			return err
		}
	}

	return s.creditsRepo.MarkUsageRefunded(ctx, tx, usage.ID, now)
}

// promoteNext walks the waitlist in FIFO order and confirms the first
// booking whose owner can pay for the seat. Entries without an eligible
// package keep their queue position.
func (s *Service) promoteNext(ctx context.Context, tx *gorm.DB, class *classesdomain.ClassSession, now time.Time) error {
	queue, err := s.repo.ListWaitlisted(ctx, tx, class.ID)
	if err != nil {
		return err
	}

	for _, candidate := range queue {
		if _, err := s.confirmWaitlistedTx(ctx, tx, *class, candidate.ID, true, now); err != nil {
			if err == creditsdomain.ErrNoEligiblePackage || err == creditsdomain.ErrInsufficientCredits {
				s.log.Info("waitlist candidate skipped, no payable package",
					zap.Int64("booking_id", candidate.ID.Int64()),
					zap.Int64("user_id", candidate.UserID.Int64()),
				)
				continue
			}
			return err
		}
		metrics.Default().IncPromotion()
		return nil
	}

	return nil
}

// ConfirmWaitlistedTx implements domain.Service.
func (s *Service) ConfirmWaitlistedTx(ctx context.Context, tx *gorm.DB, class classesdomain.ClassSession, bookingID snowflake.ID, promoted bool) (bookingdomain.Booking, error) {
	return s.confirmWaitlistedTx(ctx, tx, class, bookingID, promoted, s.clock.Now())
}

func (s *Service) confirmWaitlistedTx(ctx context.Context, tx *gorm.DB, class classesdomain.ClassSession, bookingID snowflake.ID, promoted bool, now time.Time) (bookingdomain.Booking, error) {
	booking, err := s.repo.FindByIDForUpdate(ctx, tx, bookingID)
	if err != nil {
		return bookingdomain.Booking{}, err
	}
	if booking == nil {
		return bookingdomain.Booking{}, bookingdomain.ErrBookingNotFound
	}
	if booking.Status != bookingdomain.BookingStatusWaitlisted {
		return bookingdomain.Booking{}, bookingdomain.ErrNotWaitlisted
	}

	confirmed, err := s.repo.CountConfirmed(ctx, tx, class.ID)
	if err != nil {
		return bookingdomain.Booking{}, err
	}
	if confirmed >= class.Capacity {
		return bookingdomain.Booking{}, bookingdomain.ErrClassFull
	}

	pkg, err := s.creditsRepo.FindBestEligibleForUpdate(ctx, tx, booking.UserID, class.BranchID, now)
	if err != nil {
		return bookingdomain.Booking{}, err
	}
	if pkg == nil {
		return bookingdomain.Booking{}, creditsdomain.ErrNoEligiblePackage
	}

	if err := s.repo.MarkConfirmed(ctx, tx, booking.ID, pkg.ID, promoted, now); err != nil {
		return bookingdomain.Booking{}, err
	}

	if err := s.debitAndRecordUsage(ctx, tx, pkg, &class, booking.ID, booking.UserID, now); err != nil {
		return bookingdomain.Booking{}, err
	}

	result := *booking
	result.Status = bookingdomain.BookingStatusConfirmed
	result.WaitlistPosition = nil
	pkgID := pkg.ID
	result.PackageID = &pkgID
	result.ConfirmedAt = &now
	if promoted {
		result.PromotedAt = &now
	}

	eventType := outboxdomain.EventBookingConfirmed
	if promoted {
		eventType = outboxdomain.EventWaitlistPromoted
	}
	if err := s.appendEvent(ctx, tx, eventType, result, &class, now, nil); err != nil {
		return bookingdomain.Booking{}, err
	}

	return result, nil
}

// debitAndRecordUsage spends one credit from the locked package and appends
// the ledger row. Unlimited packages skip the decrement but still get a
// zero-credit usage row so attendance stays traceable.
func (s *Service) debitAndRecordUsage(ctx context.Context, tx *gorm.DB, pkg *creditsdomain.UserClassPackage, class *classesdomain.ClassSession, bookingID, userID snowflake.ID, now time.Time) error {
	creditsUsed := 0
	if !pkg.Unlimited {
		debited, err := s.creditsRepo.Debit(ctx, tx, pkg.ID, now)
		if err != nil {
			return err
		}
		if !debited {
			return creditsdomain.ErrInsufficientCredits
		}
		if err := s.creditsRepo.MarkExhaustedIfDepleted(ctx, tx, pkg.ID, now); err != nil {
			return err
		}
		creditsUsed = 1
	}

	return s.creditsRepo.InsertUsage(ctx, tx, &creditsdomain.PackageClassUsage{
		ID:          s.genID.Generate(),
		PackageID:   pkg.ID,
		BookingID:   bookingID,
		ClassID:     class.ID,
		UserID:      userID,
		BranchID:    class.BranchID,
		CreditsUsed: creditsUsed,
		CreatedAt:   now,
	})
}

// appendEvent writes the outbox row with everything the notification
// dispatcher needs to render and address the email, so delivery never has
// to join back onto engine tables.
func (s *Service) appendEvent(ctx context.Context, tx *gorm.DB, eventType outboxdomain.EventType, booking bookingdomain.Booking, class *classesdomain.ClassSession, now time.Time, extra map[string]interface{}) error {
	payload := datatypes.JSONMap{
		"booking_id":   booking.ID.String(),
		"class_id":     booking.ClassID.String(),
		"user_id":      booking.UserID.String(),
		"status":       string(booking.Status),
		"class_name":   class.Name,
		"scheduled_at": class.ScheduledAt.Format(time.RFC3339),
	}
	if booking.MemberEmail != "" {
		payload["email"] = booking.MemberEmail
	}
	for k, v := range extra {
		payload[k] = v
	}

	return s.outboxRepo.Insert(ctx, tx, &outboxdomain.BookingEvent{
		ID:        s.genID.Generate(),
		EventType: eventType,
		BookingID: booking.ID,
		ClassID:   booking.ClassID,
		UserID:    booking.UserID,
		Payload:   payload,
		Status:    outboxdomain.EventStatusPending,
		CreatedAt: now,
	})
}

// GetAvailability implements domain.Service.
func (s *Service) GetAvailability(ctx context.Context, classID snowflake.ID) (bookingdomain.Availability, error) {
	class, err := s.classesRepo.FindByID(ctx, s.db, classID)
	if err != nil {
		return bookingdomain.Availability{}, err
	}
	if class == nil {
		return bookingdomain.Availability{}, classesdomain.ErrClassNotFound
	}

	confirmed, err := s.repo.CountConfirmed(ctx, s.db, classID)
	if err != nil {
		return bookingdomain.Availability{}, err
	}
	waitlisted, err := s.repo.CountWaitlisted(ctx, s.db, classID)
	if err != nil {
		return bookingdomain.Availability{}, err
	}

	spotsLeft := class.Capacity - confirmed
	if spotsLeft < 0 {
		spotsLeft = 0
	}

	return bookingdomain.Availability{
		ClassID:          class.ID,
		ScheduledAt:      class.ScheduledAt,
		Capacity:         class.Capacity,
		Confirmed:        confirmed,
		SpotsLeft:        spotsLeft,
		WaitlistCapacity: class.WaitlistCapacity,
		Waitlisted:       waitlisted,
	}, nil
}

// ListByUser implements domain.Service.
func (s *Service) ListByUser(ctx context.Context, userID snowflake.ID, limit int) ([]bookingdomain.Booking, error) {
	if limit <= 0 || limit > 250 {
		limit = 50
	}
	return s.repo.ListByUser(ctx, s.db, userID, limit)
}

func bookingPolicyError(reason policy.Reason) error {
	switch reason {
	case policy.ReasonClassStarted:
		return bookingdomain.ErrClassAlreadyStarted
	default:
		return bookingdomain.ErrBookingWindowClosed
	}
}

func cancelPolicyError(reason policy.Reason) error {
	switch reason {
	case policy.ReasonClassStarted:
		return bookingdomain.ErrClassAlreadyStarted
	default:
		return bookingdomain.ErrCancellationWindowClosed
	}
}
