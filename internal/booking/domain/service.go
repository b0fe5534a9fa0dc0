package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	classesdomain "github.com/smallbiznis/studiobook/internal/classes/domain"
	"gorm.io/gorm"
)

// Service is the booking engine. Book, Cancel and ConfirmWaitlistedTx all
// serialize on the class-session row lock.
type Service interface {
	Book(ctx context.Context, req BookRequest) (Booking, error)
	Cancel(ctx context.Context, req CancelRequest) (Booking, error)
	GetAvailability(ctx context.Context, classID snowflake.ID) (Availability, error)
	ListByUser(ctx context.Context, userID snowflake.ID, limit int) ([]Booking, error)
	// ConfirmWaitlistedTx confirms a waitlisted booking inside the caller's
	// transaction. The caller must already hold the class row lock. The
	// seat re-check, credit debit and outbox write all happen here.
	ConfirmWaitlistedTx(ctx context.Context, tx *gorm.DB, class classesdomain.ClassSession, bookingID snowflake.ID, promoted bool) (Booking, error)
}

type BookRequest struct {
	UserID  snowflake.ID
	ClassID snowflake.ID
	// MemberEmail is stored on the booking so later lifecycle
	// notifications have a recipient.
	MemberEmail string
}

type CancelRequest struct {
	BookingID snowflake.ID
	// ActorID enforces ownership when non-zero. Staff cancellations pass
	// zero and skip the check.
	ActorID snowflake.ID
}
