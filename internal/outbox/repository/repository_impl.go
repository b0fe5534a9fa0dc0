package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	outboxdomain "github.com/smallbiznis/studiobook/internal/outbox/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() outboxdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *outboxdomain.BookingEvent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO booking_events (
			id, event_type, booking_id, class_id, user_id, payload, status, attempts, processed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.EventType,
		event.BookingID,
		event.ClassID,
		event.UserID,
		event.Payload,
		event.Status,
		event.Attempts,
		event.ProcessedAt,
		event.CreatedAt,
	).Error
}

func (r *repo) ClaimPending(ctx context.Context, db *gorm.DB, limit int) ([]outboxdomain.BookingEvent, error) {
	var events []outboxdomain.BookingEvent
	if err := db.WithContext(ctx).Raw(
		`SELECT id, event_type, booking_id, class_id, user_id, payload, status, attempts, processed_at, created_at
		 FROM booking_events
		 WHERE status = ?
		 ORDER BY created_at ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		outboxdomain.EventStatusPending,
		limit,
	).Scan(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) MarkDispatched(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE booking_events
		 SET status = ?, processed_at = ?
		 WHERE id = ? AND status = ?`,
		outboxdomain.EventStatusDispatched,
		at,
		id,
		outboxdomain.EventStatusPending,
	).Error
}

func (r *repo) MarkAttemptFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, maxAttempts int, at time.Time) error {
	if err := db.WithContext(ctx).Exec(
		`UPDATE booking_events
		 SET attempts = attempts + 1
		 WHERE id = ? AND status = ?`,
		id,
		outboxdomain.EventStatusPending,
	).Error; err != nil {
		return err
	}

	return db.WithContext(ctx).Exec(
		`UPDATE booking_events
		 SET status = ?, processed_at = ?
		 WHERE id = ? AND status = ? AND attempts >= ?`,
		outboxdomain.EventStatusFailed,
		at,
		id,
		outboxdomain.EventStatusPending,
		maxAttempts,
	).Error
}
