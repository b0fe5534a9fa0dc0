// Package domain contains persistence models for branches and class sessions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Branch is a studio location carrying the default lead-time policies
// applied to its classes.
type Branch struct {
	ID               snowflake.ID      `gorm:"primaryKey"`
	Name             string            `gorm:"type:text;not null"`
	Timezone         string            `gorm:"type:text;not null;default:UTC"`
	BookingLeadHours int               `gorm:"not null;default:0"`
	CancelLeadHours  int               `gorm:"not null;default:0"`
	Metadata         datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Branch) TableName() string { return "branches" }

// ClassSession is a single scheduled class occurrence.
type ClassSession struct {
	ID               snowflake.ID      `gorm:"primaryKey"`
	BranchID         snowflake.ID      `gorm:"not null;index"`
	Name             string            `gorm:"type:text;not null"`
	Instructor       *string           `gorm:"type:text"`
	ScheduledAt      time.Time         `gorm:"not null;index"`
	DurationMinutes  int               `gorm:"not null;default:60"`
	Capacity         int               `gorm:"not null"`
	WaitlistCapacity int               `gorm:"not null;default:0"`
	// BookingLeadHours overrides the branch default when non-null.
	BookingLeadHours *int              `gorm:""`
	Metadata         datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ClassSession) TableName() string { return "class_sessions" }

// EffectiveBookingLeadHours resolves the class override against the branch
// default.
func (c ClassSession) EffectiveBookingLeadHours(branch Branch) int {
	if c.BookingLeadHours != nil {
		return *c.BookingLeadHours
	}
	return branch.BookingLeadHours
}
