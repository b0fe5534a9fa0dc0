package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *BookingEvent) error
	// ClaimPending locks up to limit undelivered rows for this dispatcher,
	// skipping rows claimed by concurrent workers.
	ClaimPending(ctx context.Context, db *gorm.DB, limit int) ([]BookingEvent, error)
	MarkDispatched(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	// MarkAttemptFailed bumps the attempt counter and parks the row as
	// FAILED once maxAttempts is reached.
	MarkAttemptFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, maxAttempts int, at time.Time) error
}
