// Package domain contains the transactional outbox models for booking
// lifecycle events.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventType identifies the booking lifecycle event carried by an outbox row.
type EventType string

const (
	EventBookingConfirmed  EventType = "booking.confirmed"
	EventBookingWaitlisted EventType = "booking.waitlisted"
	EventBookingCancelled  EventType = "booking.cancelled"
	EventWaitlistPromoted  EventType = "waitlist.promoted"
	EventOfferCreated      EventType = "waitlist.offer_created"
	EventOfferExpired      EventType = "waitlist.offer_expired"
)

// EventStatus is the dispatch state of an outbox row.
type EventStatus string

const (
	EventStatusPending    EventStatus = "PENDING"
	EventStatusDispatched EventStatus = "DISPATCHED"
	EventStatusFailed     EventStatus = "FAILED"
)

// BookingEvent is written in the same transaction as the state change it
// describes and delivered later by the dispatcher.
type BookingEvent struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	EventType   EventType         `gorm:"type:text;not null;index"`
	BookingID   snowflake.ID      `gorm:"not null;index"`
	ClassID     snowflake.ID      `gorm:"not null;index"`
	UserID      snowflake.ID      `gorm:"not null;index"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb"`
	Status      EventStatus       `gorm:"type:text;not null;index"`
	Attempts    int               `gorm:"not null;default:0"`
	ProcessedAt *time.Time        `gorm:""`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BookingEvent) TableName() string { return "booking_events" }
