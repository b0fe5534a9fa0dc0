// Package policy evaluates booking and cancellation lead-time rules plus
// package usability. Decisions are pure functions of their inputs so callers
// can evaluate them before opening a transaction and again under lock.
package policy

import "time"

// Reason is a machine-readable rejection cause carried on denied decisions.
type Reason string

const (
	ReasonBookingWindowClosed Reason = "booking_window_closed"
	ReasonCancelWindowClosed  Reason = "cancellation_window_closed"
	ReasonClassStarted        Reason = "class_already_started"
	ReasonPackageExpired      Reason = "package_expired"
	ReasonPackageExhausted    Reason = "package_exhausted"
)

// Decision is the outcome of a policy check.
type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason Reason) Decision {
	return Decision{Reason: reason}
}

// CanBookByTime checks the booking lead-time window. A zero leadHours policy
// means booking stays open with no time restriction, including after the
// class has started. A positive policy requires at least leadHours between
// now and the scheduled start, inclusive at the exact boundary second.
func CanBookByTime(now, scheduledAt time.Time, leadHours int) Decision {
	if leadHours <= 0 {
		return allow()
	}

	remaining := scheduledAt.Sub(now)
	if remaining < 0 {
		return deny(ReasonClassStarted)
	}
	if remaining < time.Duration(leadHours)*time.Hour {
		return deny(ReasonBookingWindowClosed)
	}
	return allow()
}

// CanCancelBooking checks the cancellation lead-time window. Unlike booking,
// a zero-hour policy still refuses classes that already started.
func CanCancelBooking(now, scheduledAt time.Time, cancelLeadHours int) Decision {
	remaining := scheduledAt.Sub(now)
	if remaining < 0 {
		return deny(ReasonClassStarted)
	}
	if remaining < time.Duration(cancelLeadHours)*time.Hour {
		return deny(ReasonCancelWindowClosed)
	}
	return allow()
}

// CanBookWithPackage checks whether a package can pay for a booking right
// now. Expiry wins over exhaustion when both apply. Freeze windows are
// handled upstream, frozen packages never reach this check.
func CanBookWithPackage(now time.Time, expiresAt *time.Time, unlimited bool, remaining int) Decision {
	if expiresAt != nil && !expiresAt.After(now) {
		return deny(ReasonPackageExpired)
	}
	if !unlimited && remaining <= 0 {
		return deny(ReasonPackageExhausted)
	}
	return allow()
}
