package domain

import "errors"

var (
	ErrNoEligiblePackage   = errors.New("no_eligible_package")
	ErrPackageNotFound     = errors.New("package_not_found")
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrUsageNotFound       = errors.New("usage_not_found")
)
