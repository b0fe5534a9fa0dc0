package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/studiobook/internal/audit/domain"
	bookingdomain "github.com/smallbiznis/studiobook/internal/booking/domain"
	classesdomain "github.com/smallbiznis/studiobook/internal/classes/domain"
	creditsdomain "github.com/smallbiznis/studiobook/internal/credits/domain"
	waitlistdomain "github.com/smallbiznis/studiobook/internal/waitlist/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Reason  string            `json:"reason,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, bookingdomain.ErrNotBookingOwner),
		errors.Is(err, waitlistdomain.ErrNotOfferOwner):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Reason:  err.Error(),
			Message: "conflict",
		}
	case isPolicyError(err):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "policy_violation",
			Reason:  err.Error(),
			Message: "request violates a booking policy",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidAction),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Reason:  err.Error(),
			Message: "validation error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// isPolicyError covers rejections a member can act on: wait for the window,
// buy credits or pick another class. They map to 422 with the reason.
func isPolicyError(err error) bool {
	switch {
	case errors.Is(err, bookingdomain.ErrBookingWindowClosed),
		errors.Is(err, bookingdomain.ErrCancellationWindowClosed),
		errors.Is(err, bookingdomain.ErrClassAlreadyStarted),
		errors.Is(err, bookingdomain.ErrClassAndWaitlistFull),
		errors.Is(err, bookingdomain.ErrClassFull),
		errors.Is(err, creditsdomain.ErrNoEligiblePackage),
		errors.Is(err, creditsdomain.ErrInsufficientCredits),
		errors.Is(err, waitlistdomain.ErrOfferExpired):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, bookingdomain.ErrAlreadyBooked),
		errors.Is(err, bookingdomain.ErrAlreadyCancelled),
		errors.Is(err, bookingdomain.ErrNotWaitlisted),
		errors.Is(err, waitlistdomain.ErrOfferNotPending),
		errors.Is(err, waitlistdomain.ErrDuplicatePendingOffer),
		errors.Is(err, waitlistdomain.ErrInvalidTransition):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, bookingdomain.ErrBookingNotFound),
		errors.Is(err, classesdomain.ErrClassNotFound),
		errors.Is(err, classesdomain.ErrBranchNotFound),
		errors.Is(err, creditsdomain.ErrPackageNotFound),
		errors.Is(err, waitlistdomain.ErrOfferNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}
