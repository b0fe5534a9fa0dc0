package domain

import "errors"

var (
	ErrOfferNotFound         = errors.New("offer_not_found")
	ErrOfferNotPending       = errors.New("offer_not_pending")
	ErrOfferExpired          = errors.New("offer_expired")
	ErrOfferNotLapsed        = errors.New("offer_not_lapsed")
	ErrNotOfferOwner         = errors.New("not_offer_owner")
	ErrDuplicatePendingOffer = errors.New("duplicate_pending_offer")
	ErrInvalidTransition     = errors.New("invalid_offer_transition")
)
