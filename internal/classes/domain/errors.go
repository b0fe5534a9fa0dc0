package domain

import "errors"

var (
	ErrBranchNotFound = errors.New("branch_not_found")
	ErrClassNotFound  = errors.New("class_not_found")
)
