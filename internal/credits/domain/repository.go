package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, pkg *UserClassPackage) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*UserClassPackage, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*UserClassPackage, error)
	// FindBestEligible selects the user's best payable package for the
	// branch at the given instant. ForUpdate variant holds the row for the
	// duration of the enclosing transaction.
	FindBestEligible(ctx context.Context, db *gorm.DB, userID, branchID snowflake.ID, at time.Time) (*UserClassPackage, error)
	FindBestEligibleForUpdate(ctx context.Context, db *gorm.DB, userID, branchID snowflake.ID, at time.Time) (*UserClassPackage, error)
	// Debit decrements one credit when any remain, reporting whether a row
	// changed. Callers must treat false as insufficient credits.
	Debit(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	// Refund restores one credit and reactivates an exhausted package.
	Refund(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	MarkExhaustedIfDepleted(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	InsertUsage(ctx context.Context, db *gorm.DB, usage *PackageClassUsage) error
	FindOpenUsageByBookingID(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*PackageClassUsage, error)
	MarkUsageRefunded(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}
