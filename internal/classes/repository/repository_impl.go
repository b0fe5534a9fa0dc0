package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	classesdomain "github.com/smallbiznis/studiobook/internal/classes/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() classesdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, class *classesdomain.ClassSession) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO class_sessions (
			id, branch_id, name, instructor, scheduled_at, duration_minutes,
			capacity, waitlist_capacity, booking_lead_hours, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		class.ID,
		class.BranchID,
		class.Name,
		class.Instructor,
		class.ScheduledAt,
		class.DurationMinutes,
		class.Capacity,
		class.WaitlistCapacity,
		class.BookingLeadHours,
		class.Metadata,
		class.CreatedAt,
		class.UpdatedAt,
	).Error
}

func (r *repo) InsertBranch(ctx context.Context, db *gorm.DB, branch *classesdomain.Branch) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO branches (
			id, name, timezone, booking_lead_hours, cancel_lead_hours, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		branch.ID,
		branch.Name,
		branch.Timezone,
		branch.BookingLeadHours,
		branch.CancelLeadHours,
		branch.Metadata,
		branch.CreatedAt,
		branch.UpdatedAt,
	).Error
}

func (r *repo) FindBranchByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*classesdomain.Branch, error) {
	var branch classesdomain.Branch
	if err := db.WithContext(ctx).Raw(
		`SELECT id, name, timezone, booking_lead_hours, cancel_lead_hours, metadata, created_at, updated_at
		 FROM branches WHERE id = ?`,
		id,
	).Scan(&branch).Error; err != nil {
		return nil, err
	}
	if branch.ID == 0 {
		return nil, nil
	}
	return &branch, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*classesdomain.ClassSession, error) {
	var class classesdomain.ClassSession
	if err := db.WithContext(ctx).Raw(
		`SELECT id, branch_id, name, instructor, scheduled_at, duration_minutes,
			capacity, waitlist_capacity, booking_lead_hours, metadata, created_at, updated_at
		 FROM class_sessions WHERE id = ?`,
		id,
	).Scan(&class).Error; err != nil {
		return nil, err
	}
	if class.ID == 0 {
		return nil, nil
	}
	return &class, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*classesdomain.ClassSession, error) {
	var class classesdomain.ClassSession
	if err := db.WithContext(ctx).Raw(
		`SELECT id, branch_id, name, instructor, scheduled_at, duration_minutes,
			capacity, waitlist_capacity, booking_lead_hours, metadata, created_at, updated_at
		 FROM class_sessions WHERE id = ? FOR UPDATE`,
		id,
	).Scan(&class).Error; err != nil {
		return nil, err
	}
	if class.ID == 0 {
		return nil, nil
	}
	return &class, nil
}

func (r *repo) ListUpcoming(ctx context.Context, db *gorm.DB, branchID snowflake.ID, after time.Time, limit int) ([]classesdomain.ClassSession, error) {
	var classes []classesdomain.ClassSession
	if err := db.WithContext(ctx).Raw(
		`SELECT id, branch_id, name, instructor, scheduled_at, duration_minutes,
			capacity, waitlist_capacity, booking_lead_hours, metadata, created_at, updated_at
		 FROM class_sessions
		 WHERE branch_id = ? AND scheduled_at > ?
		 ORDER BY scheduled_at ASC
		 LIMIT ?`,
		branchID,
		after,
		limit,
	).Scan(&classes).Error; err != nil {
		return nil, err
	}
	return classes, nil
}
