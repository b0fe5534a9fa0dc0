package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	waitlistdomain "github.com/smallbiznis/studiobook/internal/waitlist/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() waitlistdomain.Repository {
	return &repo{}
}

const offerColumns = `id, booking_id, class_id, user_id, status, expires_at,
	responded_at, next_offer_id, metadata, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, offer *waitlistdomain.WaitlistOffer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO waitlist_offers (
			id, booking_id, class_id, user_id, status, expires_at,
			responded_at, next_offer_id, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		offer.ID,
		offer.BookingID,
		offer.ClassID,
		offer.UserID,
		offer.Status,
		offer.ExpiresAt,
		offer.RespondedAt,
		offer.NextOfferID,
		offer.Metadata,
		offer.CreatedAt,
		offer.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*waitlistdomain.WaitlistOffer, error) {
	var offer waitlistdomain.WaitlistOffer
	if err := db.WithContext(ctx).Raw(
		`SELECT `+offerColumns+` FROM waitlist_offers WHERE id = ?`,
		id,
	).Scan(&offer).Error; err != nil {
		return nil, err
	}
	if offer.ID == 0 {
		return nil, nil
	}
	return &offer, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*waitlistdomain.WaitlistOffer, error) {
	var offer waitlistdomain.WaitlistOffer
	if err := db.WithContext(ctx).Raw(
		`SELECT `+offerColumns+` FROM waitlist_offers WHERE id = ? FOR UPDATE`,
		id,
	).Scan(&offer).Error; err != nil {
		return nil, err
	}
	if offer.ID == 0 {
		return nil, nil
	}
	return &offer, nil
}

func (r *repo) FindPendingByBookingID(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*waitlistdomain.WaitlistOffer, error) {
	var offer waitlistdomain.WaitlistOffer
	if err := db.WithContext(ctx).Raw(
		`SELECT `+offerColumns+` FROM waitlist_offers
		 WHERE booking_id = ? AND status = ?
		 LIMIT 1`,
		bookingID,
		waitlistdomain.OfferStatusPending,
	).Scan(&offer).Error; err != nil {
		return nil, err
	}
	if offer.ID == 0 {
		return nil, nil
	}
	return &offer, nil
}

func (r *repo) HasPendingForClass(ctx context.Context, db *gorm.DB, classID snowflake.ID) (bool, error) {
	var count int
	if err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM waitlist_offers WHERE class_id = ? AND status = ?`,
		classID,
		waitlistdomain.OfferStatusPending,
	).Scan(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) ListLapsed(ctx context.Context, db *gorm.DB, at time.Time, limit int) ([]waitlistdomain.WaitlistOffer, error) {
	var offers []waitlistdomain.WaitlistOffer
	if err := db.WithContext(ctx).Raw(
		`SELECT `+offerColumns+` FROM waitlist_offers
		 WHERE status = ? AND expires_at <= ?
		 ORDER BY expires_at ASC
		 LIMIT ?`,
		waitlistdomain.OfferStatusPending,
		at,
		limit,
	).Scan(&offers).Error; err != nil {
		return nil, err
	}
	return offers, nil
}

func (r *repo) MarkResponded(ctx context.Context, db *gorm.DB, id snowflake.ID, status waitlistdomain.OfferStatus, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE waitlist_offers
		 SET status = ?, responded_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status,
		at,
		at,
		id,
		waitlistdomain.OfferStatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) SetNextOffer(ctx context.Context, db *gorm.DB, id, nextOfferID snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE waitlist_offers
		 SET next_offer_id = ?, updated_at = ?
		 WHERE id = ?`,
		nextOfferID,
		at,
		id,
	).Error
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]waitlistdomain.WaitlistOffer, error) {
	var offers []waitlistdomain.WaitlistOffer
	if err := db.WithContext(ctx).Raw(
		`SELECT `+offerColumns+` FROM waitlist_offers
		 WHERE user_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		userID,
		limit,
	).Scan(&offers).Error; err != nil {
		return nil, err
	}
	return offers, nil
}
