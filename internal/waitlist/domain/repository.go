package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, offer *WaitlistOffer) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*WaitlistOffer, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*WaitlistOffer, error)
	FindPendingByBookingID(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*WaitlistOffer, error)
	HasPendingForClass(ctx context.Context, db *gorm.DB, classID snowflake.ID) (bool, error)
	// ListLapsed returns up to limit pending offers whose deadline passed.
	// The listing takes no locks; resolvers must re-lock and revalidate
	// each offer before acting on it.
	ListLapsed(ctx context.Context, db *gorm.DB, at time.Time, limit int) ([]WaitlistOffer, error)
	// MarkResponded transitions a pending offer to a terminal state,
	// reporting whether the row changed.
	MarkResponded(ctx context.Context, db *gorm.DB, id snowflake.ID, status OfferStatus, at time.Time) (bool, error)
	SetNextOffer(ctx context.Context, db *gorm.DB, id, nextOfferID snowflake.ID, at time.Time) error
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]WaitlistOffer, error)
}
