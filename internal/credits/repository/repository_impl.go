package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	creditsdomain "github.com/smallbiznis/studiobook/internal/credits/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() creditsdomain.Repository {
	return &repo{}
}

const packageColumns = `id, user_id, branch_id, status, unlimited, classes_remaining,
	expires_at, frozen_until, purchased_at, metadata, created_at, updated_at`

// Eligibility filter shared by the resolver queries. Never-expiring packages
// sort after every dated one so the soonest-to-expire is spent first.
const eligibleWhere = `user_id = ? AND branch_id = ? AND status = 'ACTIVE'
	AND (expires_at IS NULL OR expires_at > ?)
	AND (frozen_until IS NULL OR frozen_until <= ?)
	AND (unlimited OR classes_remaining > 0)`

const eligibleOrder = `ORDER BY CASE WHEN expires_at IS NULL THEN 1 ELSE 0 END, expires_at ASC, id ASC`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, pkg *creditsdomain.UserClassPackage) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO user_class_packages (
			id, user_id, branch_id, status, unlimited, classes_remaining,
			expires_at, frozen_until, purchased_at, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pkg.ID,
		pkg.UserID,
		pkg.BranchID,
		pkg.Status,
		pkg.Unlimited,
		pkg.ClassesRemaining,
		pkg.ExpiresAt,
		pkg.FrozenUntil,
		pkg.PurchasedAt,
		pkg.Metadata,
		pkg.CreatedAt,
		pkg.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*creditsdomain.UserClassPackage, error) {
	var pkg creditsdomain.UserClassPackage
	if err := db.WithContext(ctx).Raw(
		`SELECT `+packageColumns+` FROM user_class_packages WHERE id = ?`,
		id,
	).Scan(&pkg).Error; err != nil {
		return nil, err
	}
	if pkg.ID == 0 {
		return nil, nil
	}
	return &pkg, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*creditsdomain.UserClassPackage, error) {
	var pkg creditsdomain.UserClassPackage
	if err := db.WithContext(ctx).Raw(
		`SELECT `+packageColumns+` FROM user_class_packages WHERE id = ? FOR UPDATE`,
		id,
	).Scan(&pkg).Error; err != nil {
		return nil, err
	}
	if pkg.ID == 0 {
		return nil, nil
	}
	return &pkg, nil
}

func (r *repo) FindBestEligible(ctx context.Context, db *gorm.DB, userID, branchID snowflake.ID, at time.Time) (*creditsdomain.UserClassPackage, error) {
	return r.findBestEligible(ctx, db, userID, branchID, at, "")
}

func (r *repo) FindBestEligibleForUpdate(ctx context.Context, db *gorm.DB, userID, branchID snowflake.ID, at time.Time) (*creditsdomain.UserClassPackage, error) {
	return r.findBestEligible(ctx, db, userID, branchID, at, " FOR UPDATE")
}

func (r *repo) findBestEligible(ctx context.Context, db *gorm.DB, userID, branchID snowflake.ID, at time.Time, suffix string) (*creditsdomain.UserClassPackage, error) {
	var pkg creditsdomain.UserClassPackage
	if err := db.WithContext(ctx).Raw(
		`SELECT `+packageColumns+` FROM user_class_packages WHERE `+eligibleWhere+` `+eligibleOrder+` LIMIT 1`+suffix,
		userID,
		branchID,
		at,
		at,
	).Scan(&pkg).Error; err != nil {
		return nil, err
	}
	if pkg.ID == 0 {
		return nil, nil
	}
	return &pkg, nil
}

func (r *repo) Debit(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE user_class_packages
		 SET classes_remaining = classes_remaining - 1, updated_at = ?
		 WHERE id = ? AND classes_remaining > 0`,
		at,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) MarkExhaustedIfDepleted(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE user_class_packages
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND NOT unlimited AND classes_remaining = 0`,
		creditsdomain.PackageStatusExhausted,
		at,
		id,
		creditsdomain.PackageStatusActive,
	).Error
}

func (r *repo) Refund(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	if err := db.WithContext(ctx).Exec(
		`UPDATE user_class_packages
		 SET classes_remaining = classes_remaining + 1, updated_at = ?
		 WHERE id = ? AND NOT unlimited`,
		at,
		id,
	).Error; err != nil {
		return err
	}

	return db.WithContext(ctx).Exec(
		`UPDATE user_class_packages
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND classes_remaining > 0`,
		creditsdomain.PackageStatusActive,
		at,
		id,
		creditsdomain.PackageStatusExhausted,
	).Error
}

func (r *repo) InsertUsage(ctx context.Context, db *gorm.DB, usage *creditsdomain.PackageClassUsage) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO package_class_usage (
			id, package_id, booking_id, class_id, user_id, branch_id, credits_used, refunded, refunded_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		usage.ID,
		usage.PackageID,
		usage.BookingID,
		usage.ClassID,
		usage.UserID,
		usage.BranchID,
		usage.CreditsUsed,
		usage.Refunded,
		usage.RefundedAt,
		usage.CreatedAt,
	).Error
}

func (r *repo) FindOpenUsageByBookingID(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) (*creditsdomain.PackageClassUsage, error) {
	var usage creditsdomain.PackageClassUsage
	if err := db.WithContext(ctx).Raw(
		`SELECT id, package_id, booking_id, class_id, user_id, branch_id, credits_used, refunded, refunded_at, created_at
		 FROM package_class_usage
		 WHERE booking_id = ? AND NOT refunded
		 ORDER BY created_at DESC
		 LIMIT 1`,
		bookingID,
	).Scan(&usage).Error; err != nil {
		return nil, err
	}
	if usage.ID == 0 {
		return nil, nil
	}
	return &usage, nil
}

func (r *repo) MarkUsageRefunded(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE package_class_usage
		 SET refunded = ?, refunded_at = ?
		 WHERE id = ? AND NOT refunded`,
		true,
		at,
		id,
	).Error
}
