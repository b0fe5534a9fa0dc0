// Package domain contains persistence models for class bookings.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// BookingStatus represents lifecycle states for a booking.
type BookingStatus string

const (
	BookingStatusConfirmed  BookingStatus = "CONFIRMED"
	BookingStatusWaitlisted BookingStatus = "WAITLISTED"
	BookingStatusCancelled  BookingStatus = "CANCELLED"
)

// Booking is one user's seat (or queue slot) in one class session. A user
// holds at most one row per class; cancellation keeps the row so a rebook
// reactivates it in place.
type Booking struct {
	ID               snowflake.ID      `gorm:"primaryKey"`
	ClassID          snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_bookings_user_class,priority:2"`
	UserID           snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_bookings_user_class,priority:1"`
	BranchID         snowflake.ID      `gorm:"not null;index"`
	Status           BookingStatus     `gorm:"type:text;not null;index"`
	WaitlistPosition *int              `gorm:""`
	// MemberEmail is the contact address captured at booking time so
	// promotion and offer notifications can reach the member later.
	MemberEmail string `gorm:"type:text;not null;default:''"`
	// PackageID is the package that paid for the seat, set on confirmation.
	PackageID   *snowflake.ID     `gorm:""`
	BookedAt    time.Time         `gorm:"not null"`
	ConfirmedAt *time.Time        `gorm:""`
	CancelledAt *time.Time        `gorm:""`
	PromotedAt  *time.Time        `gorm:""`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Booking) TableName() string { return "bookings" }

// Availability is the occupancy snapshot of one class session.
type Availability struct {
	ClassID          snowflake.ID `json:"class_id"`
	ScheduledAt      time.Time    `json:"scheduled_at"`
	Capacity         int          `json:"capacity"`
	Confirmed        int          `json:"confirmed"`
	SpotsLeft        int          `json:"spots_left"`
	WaitlistCapacity int          `json:"waitlist_capacity"`
	Waitlisted       int          `json:"waitlisted"`
}
