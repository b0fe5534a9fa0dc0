package server

import (
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/studiobook/internal/audit/domain"
	"github.com/smallbiznis/studiobook/internal/memberctx"
	waitlistdomain "github.com/smallbiznis/studiobook/internal/waitlist/domain"
)

func (s *Server) AcceptOffer(c *gin.Context) {
	offerID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "offer id must be a valid id"))
		return
	}

	identity, ok := memberctx.IdentityFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.waitlistSvc.Accept(c.Request.Context(), waitlistdomain.RespondRequest{
		OfferID: offerID,
		UserID:  identity.UserID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, auditdomain.ActorTypeMember, identity.UserID, "waitlist.offer_accept", "waitlist_offer", offerID, map[string]any{
		"booking_id": resp.ID.String(),
		"class_id":   resp.ClassID.String(),
	})

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeclineOffer(c *gin.Context) {
	offerID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "offer id must be a valid id"))
		return
	}

	identity, ok := memberctx.IdentityFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.waitlistSvc.Decline(c.Request.Context(), waitlistdomain.RespondRequest{
		OfferID: offerID,
		UserID:  identity.UserID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.audit(c, auditdomain.ActorTypeMember, identity.UserID, "waitlist.offer_decline", "waitlist_offer", offerID, map[string]any{
		"class_id": resp.ClassID.String(),
	})

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListMyOffers(c *gin.Context) {
	identity, ok := memberctx.IdentityFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.waitlistSvc.ListByUser(c.Request.Context(), identity.UserID, listLimit(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func listLimit(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
