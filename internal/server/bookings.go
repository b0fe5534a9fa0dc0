package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/studiobook/internal/audit/domain"
	bookingdomain "github.com/smallbiznis/studiobook/internal/booking/domain"
	"github.com/smallbiznis/studiobook/internal/memberctx"
	"go.uber.org/zap"
)

func (s *Server) CreateBooking(c *gin.Context) {
	classID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "class id must be a valid id"))
		return
	}

	identity, ok := memberctx.IdentityFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.bookingSvc.Book(c.Request.Context(), bookingdomain.BookRequest{
		UserID:      identity.UserID,
		ClassID:     classID,
		MemberEmail: identity.Email,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, auditdomain.ActorTypeMember, identity.UserID, "booking.create", "booking", resp.ID, map[string]any{
		"class_id": classID.String(),
		"status":   string(resp.Status),
	})

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelBooking(c *gin.Context) {
	bookingID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "booking id must be a valid id"))
		return
	}

	identity, ok := memberctx.IdentityFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	req := bookingdomain.CancelRequest{
		BookingID: bookingID,
		ActorID:   identity.UserID,
	}
	actorType := auditdomain.ActorTypeMember
	if memberctx.IsStaff(c.Request.Context()) {
		req.ActorID = 0
		actorType = auditdomain.ActorTypeStaff
	}

	resp, err := s.bookingSvc.Cancel(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, actorType, identity.UserID, "booking.cancel", "booking", resp.ID, map[string]any{
		"class_id": resp.ClassID.String(),
	})

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetAvailability(c *gin.Context) {
	classID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "class id must be a valid id"))
		return
	}

	resp, err := s.bookingSvc.GetAvailability(c.Request.Context(), classID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListMyBookings(c *gin.Context) {
	identity, ok := memberctx.IdentityFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.bookingSvc.ListByUser(c.Request.Context(), identity.UserID, listLimit(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// audit records the action without ever failing the request.
func (s *Server) audit(c *gin.Context, actorType string, actorID snowflake.ID, action, targetType string, targetID snowflake.ID, metadata map[string]any) {
	actor := actorID.String()
	target := targetID.String()
	if err := s.auditSvc.AuditLog(c.Request.Context(), actorType, &actor, action, targetType, &target, metadata); err != nil {
		s.log.Warn("audit log write failed", zap.String("action", action), zap.Error(err))
	}
}
