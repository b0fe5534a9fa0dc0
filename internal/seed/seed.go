// Package seed bootstraps the default branch so a fresh install can take
// bookings without any admin setup.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	classesdomain "github.com/smallbiznis/studiobook/internal/classes/domain"
	"github.com/smallbiznis/studiobook/internal/config"
	"gorm.io/gorm"
)

const defaultBranchName = "Main Studio"

// EnsureDefaultBranch seeds one branch when the table is empty.
func EnsureDefaultBranch(db *gorm.DB, cfg config.Config) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.WithContext(ctx).Model(&classesdomain.Branch{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		return createBranch(ctx, tx, node.Generate(), cfg)
	})
}

// EnsureDefaultBranchWithID seeds the branch under a fixed ID so self-hosted
// installs can pin it through configuration.
func EnsureDefaultBranchWithID(db *gorm.DB, cfg config.Config) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var branch classesdomain.Branch
		err := tx.WithContext(ctx).Where("id = ?", cfg.DefaultBranchID).First(&branch).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return createBranch(ctx, tx, snowflake.ID(cfg.DefaultBranchID), cfg)
	})
}

func createBranch(ctx context.Context, tx *gorm.DB, id snowflake.ID, cfg config.Config) error {
	now := time.Now().UTC()
	branch := classesdomain.Branch{
		ID:               id,
		Name:             defaultBranchName,
		Timezone:         "UTC",
		BookingLeadHours: cfg.DefaultBookingLeadHours,
		CancelLeadHours:  cfg.DefaultCancelLeadHours,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return tx.WithContext(ctx).Create(&branch).Error
}
