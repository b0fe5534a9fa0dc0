// Package domain contains persistence models for class packages and their
// usage ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PackageStatus represents lifecycle states for a user class package.
type PackageStatus string

const (
	PackageStatusActive    PackageStatus = "ACTIVE"
	PackageStatusExhausted PackageStatus = "EXHAUSTED"
	PackageStatusCancelled PackageStatus = "CANCELLED"
)

// UserClassPackage is a purchased bundle of class credits scoped to a branch.
type UserClassPackage struct {
	ID               snowflake.ID      `gorm:"primaryKey"`
	UserID           snowflake.ID      `gorm:"not null;index"`
	BranchID         snowflake.ID      `gorm:"not null;index"`
	Status           PackageStatus     `gorm:"type:text;not null"`
	Unlimited        bool              `gorm:"not null;default:false"`
	ClassesRemaining int               `gorm:"not null;default:0"`
	ExpiresAt        *time.Time        `gorm:"index"`
	FrozenUntil      *time.Time        `gorm:""`
	PurchasedAt      time.Time         `gorm:"not null"`
	Metadata         datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UserClassPackage) TableName() string { return "user_class_packages" }

// PackageClassUsage is an append-only ledger row recording one booking paid
// by one package. Refunds flag the row instead of deleting it.
type PackageClassUsage struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	PackageID   snowflake.ID `gorm:"not null;index"`
	BookingID   snowflake.ID `gorm:"not null;index"`
	ClassID     snowflake.ID `gorm:"not null;index"`
	UserID      snowflake.ID `gorm:"not null;index"`
	BranchID    snowflake.ID `gorm:"not null;index"`
	CreditsUsed int          `gorm:"not null"`
	Refunded    bool         `gorm:"not null;default:false"`
	RefundedAt  *time.Time   `gorm:""`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PackageClassUsage) TableName() string { return "package_class_usage" }
