package domain

import "errors"

var (
	ErrBookingNotFound          = errors.New("booking_not_found")
	ErrAlreadyBooked            = errors.New("already_booked")
	ErrAlreadyCancelled         = errors.New("already_cancelled")
	ErrNotBookingOwner          = errors.New("not_booking_owner")
	ErrNotWaitlisted            = errors.New("booking_not_waitlisted")
	ErrClassAndWaitlistFull     = errors.New("class_and_waitlist_full")
	ErrClassFull                = errors.New("class_full")
	ErrBookingWindowClosed      = errors.New("booking_window_closed")
	ErrCancellationWindowClosed = errors.New("cancellation_window_closed")
	ErrClassAlreadyStarted      = errors.New("class_already_started")
)
