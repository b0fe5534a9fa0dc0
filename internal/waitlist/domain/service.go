package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/studiobook/internal/booking/domain"
)

// Service manages the waitlist offer lifecycle. Accept confirms the
// underlying booking in the same transaction, under the class row lock.
type Service interface {
	Accept(ctx context.Context, req RespondRequest) (bookingdomain.Booking, error)
	Decline(ctx context.Context, req RespondRequest) (WaitlistOffer, error)
	// ExpireOrEscalate resolves one lapsed pending offer, escalating to the
	// next queued booking when one exists and plain-expiring otherwise. It
	// returns the terminal status applied.
	ExpireOrEscalate(ctx context.Context, offerID snowflake.ID) (OfferStatus, error)
	// OfferSeat creates a pending offer for the earliest queued booking of
	// a class with free confirmed capacity. Returns nil when the class has
	// no seat to offer, an empty queue or an outstanding pending offer.
	OfferSeat(ctx context.Context, classID snowflake.ID) (*WaitlistOffer, error)
	ListByUser(ctx context.Context, userID snowflake.ID, limit int) ([]WaitlistOffer, error)
}

type RespondRequest struct {
	OfferID snowflake.ID
	UserID  snowflake.ID
}
