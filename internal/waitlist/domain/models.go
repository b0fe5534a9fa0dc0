// Package domain contains persistence models for waitlist seat offers.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// OfferStatus represents lifecycle states for a waitlist offer. PENDING is
// the only non-terminal state.
type OfferStatus string

const (
	OfferStatusPending       OfferStatus = "PENDING"
	OfferStatusAccepted      OfferStatus = "ACCEPTED"
	OfferStatusDeclined      OfferStatus = "DECLINED"
	OfferStatusExpired       OfferStatus = "EXPIRED"
	OfferStatusAutoEscalated OfferStatus = "AUTO_ESCALATED"
)

// IsTransitionAllowed reports whether an offer may move between two states.
func IsTransitionAllowed(current, target OfferStatus) bool {
	if current != OfferStatusPending {
		return false
	}
	switch target {
	case OfferStatusAccepted, OfferStatusDeclined, OfferStatusExpired, OfferStatusAutoEscalated:
		return true
	default:
		return false
	}
}

// WaitlistOffer is a time-boxed invitation for one waitlisted booking to
// claim a freed seat. Escalated offers link to their successor through
// NextOfferID.
type WaitlistOffer struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	BookingID   snowflake.ID      `gorm:"not null;index"`
	ClassID     snowflake.ID      `gorm:"not null;index"`
	UserID      snowflake.ID      `gorm:"not null;index"`
	Status      OfferStatus       `gorm:"type:text;not null;index"`
	ExpiresAt   time.Time         `gorm:"not null;index"`
	RespondedAt *time.Time        `gorm:""`
	NextOfferID *snowflake.ID     `gorm:""`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (WaitlistOffer) TableName() string { return "waitlist_offers" }
