package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, booking *Booking) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Booking, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Booking, error)
	FindByUserAndClass(ctx context.Context, db *gorm.DB, userID, classID snowflake.ID) (*Booking, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]Booking, error)
	// ListWaitlisted returns the queue for one class in promotion order,
	// lowest position first with booked_at breaking ties.
	ListWaitlisted(ctx context.Context, db *gorm.DB, classID snowflake.ID) ([]Booking, error)
	CountConfirmed(ctx context.Context, db *gorm.DB, classID snowflake.ID) (int, error)
	CountWaitlisted(ctx context.Context, db *gorm.DB, classID snowflake.ID) (int, error)
	MaxWaitlistPosition(ctx context.Context, db *gorm.DB, classID snowflake.ID) (int, error)
	MarkConfirmed(ctx context.Context, db *gorm.DB, id, packageID snowflake.ID, promoted bool, at time.Time) error
	// MarkCancelled reports whether the row transitioned, so concurrent
	// cancels surface as already-cancelled instead of double refunds.
	MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	// Reactivate restores a cancelled row with a fresh status, position,
	// contact address and booking time, keeping the original booking ID.
	Reactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, status BookingStatus, position *int, packageID *snowflake.ID, memberEmail string, at time.Time) error
}
