package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Service exposes the credit-source resolver outside the booking engine.
type Service interface {
	// ResolveBestPackage returns the package a booking for this user and
	// branch would draw from right now, or ErrNoEligiblePackage.
	ResolveBestPackage(ctx context.Context, userID, branchID snowflake.ID) (UserClassPackage, error)
	GrantPackage(ctx context.Context, req GrantPackageRequest) (UserClassPackage, error)
}

// GrantPackageRequest creates a package for a user, used by seeding and
// operational tooling.
type GrantPackageRequest struct {
	UserID    snowflake.ID
	BranchID  snowflake.ID
	Unlimited bool
	Classes   int
	ExpiresAt *time.Time
}
