package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/studiobook/internal/booking/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() bookingdomain.Repository {
	return &repo{}
}

const bookingColumns = `id, class_id, user_id, branch_id, status, waitlist_position, member_email, package_id,
	booked_at, confirmed_at, cancelled_at, promoted_at, metadata, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, booking *bookingdomain.Booking) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO bookings (
			id, class_id, user_id, branch_id, status, waitlist_position, member_email, package_id,
			booked_at, confirmed_at, cancelled_at, promoted_at, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		booking.ID,
		booking.ClassID,
		booking.UserID,
		booking.BranchID,
		booking.Status,
		booking.WaitlistPosition,
		booking.MemberEmail,
		booking.PackageID,
		booking.BookedAt,
		booking.ConfirmedAt,
		booking.CancelledAt,
		booking.PromotedAt,
		booking.Metadata,
		booking.CreatedAt,
		booking.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*bookingdomain.Booking, error) {
	var booking bookingdomain.Booking
	if err := db.WithContext(ctx).Raw(
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`,
		id,
	).Scan(&booking).Error; err != nil {
		return nil, err
	}
	if booking.ID == 0 {
		return nil, nil
	}
	return &booking, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*bookingdomain.Booking, error) {
	var booking bookingdomain.Booking
	if err := db.WithContext(ctx).Raw(
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ? FOR UPDATE`,
		id,
	).Scan(&booking).Error; err != nil {
		return nil, err
	}
	if booking.ID == 0 {
		return nil, nil
	}
	return &booking, nil
}

func (r *repo) FindByUserAndClass(ctx context.Context, db *gorm.DB, userID, classID snowflake.ID) (*bookingdomain.Booking, error) {
	var booking bookingdomain.Booking
	if err := db.WithContext(ctx).Raw(
		`SELECT `+bookingColumns+` FROM bookings WHERE user_id = ? AND class_id = ?`,
		userID,
		classID,
	).Scan(&booking).Error; err != nil {
		return nil, err
	}
	if booking.ID == 0 {
		return nil, nil
	}
	return &booking, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]bookingdomain.Booking, error) {
	var bookings []bookingdomain.Booking
	if err := db.WithContext(ctx).Raw(
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE user_id = ?
		 ORDER BY booked_at DESC
		 LIMIT ?`,
		userID,
		limit,
	).Scan(&bookings).Error; err != nil {
		return nil, err
	}
	return bookings, nil
}

func (r *repo) ListWaitlisted(ctx context.Context, db *gorm.DB, classID snowflake.ID) ([]bookingdomain.Booking, error) {
	var bookings []bookingdomain.Booking
	if err := db.WithContext(ctx).Raw(
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE class_id = ? AND status = ?
		 ORDER BY waitlist_position ASC, booked_at ASC`,
		classID,
		bookingdomain.BookingStatusWaitlisted,
	).Scan(&bookings).Error; err != nil {
		return nil, err
	}
	return bookings, nil
}

func (r *repo) CountConfirmed(ctx context.Context, db *gorm.DB, classID snowflake.ID) (int, error) {
	return r.countByStatus(ctx, db, classID, bookingdomain.BookingStatusConfirmed)
}

func (r *repo) CountWaitlisted(ctx context.Context, db *gorm.DB, classID snowflake.ID) (int, error) {
	return r.countByStatus(ctx, db, classID, bookingdomain.BookingStatusWaitlisted)
}

func (r *repo) countByStatus(ctx context.Context, db *gorm.DB, classID snowflake.ID, status bookingdomain.BookingStatus) (int, error) {
	var count int
	if err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM bookings WHERE class_id = ? AND status = ?`,
		classID,
		status,
	).Scan(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) MaxWaitlistPosition(ctx context.Context, db *gorm.DB, classID snowflake.ID) (int, error) {
	var position int
	if err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(waitlist_position), 0) FROM bookings WHERE class_id = ? AND status = ?`,
		classID,
		bookingdomain.BookingStatusWaitlisted,
	).Scan(&position).Error; err != nil {
		return 0, err
	}
	return position, nil
}

func (r *repo) MarkConfirmed(ctx context.Context, db *gorm.DB, id, packageID snowflake.ID, promoted bool, at time.Time) error {
	if promoted {
		return db.WithContext(ctx).Exec(
			`UPDATE bookings
			 SET status = ?, waitlist_position = NULL, package_id = ?, confirmed_at = ?, promoted_at = ?, updated_at = ?
			 WHERE id = ?`,
			bookingdomain.BookingStatusConfirmed,
			packageID,
			at,
			at,
			at,
			id,
		).Error
	}

	return db.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET status = ?, waitlist_position = NULL, package_id = ?, confirmed_at = ?, updated_at = ?
		 WHERE id = ?`,
		bookingdomain.BookingStatusConfirmed,
		packageID,
		at,
		at,
		id,
	).Error
}

func (r *repo) MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET status = ?, cancelled_at = ?, updated_at = ?
		 WHERE id = ? AND status <> ?`,
		bookingdomain.BookingStatusCancelled,
		at,
		at,
		id,
		bookingdomain.BookingStatusCancelled,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Reactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, status bookingdomain.BookingStatus, position *int, packageID *snowflake.ID, memberEmail string, at time.Time) error {
	confirmedAt := &at
	if status != bookingdomain.BookingStatusConfirmed {
		confirmedAt = nil
	}

	return db.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET status = ?, waitlist_position = ?, member_email = COALESCE(NULLIF(?, ''), member_email), package_id = ?, booked_at = ?,
			confirmed_at = ?, cancelled_at = NULL, promoted_at = NULL, updated_at = ?
		 WHERE id = ?`,
		status,
		position,
		memberEmail,
		packageID,
		at,
		confirmedAt,
		at,
		id,
	).Error
}
