package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	purchasedomain "github.com/inkwellhq/inkwell/internal/purchase/domain"
	subscriptiondomain "github.com/inkwellhq/inkwell/internal/subscription/domain"
)

type createPurchaseRequest struct {
	UserID             string         `json:"user_id,omitempty"`
	SessionID          string         `json:"session_id,omitempty"`
	Type               string         `json:"type"`
	ItemID             string         `json:"item_id"`
	ItemTitle          string         `json:"item_title"`
	BasePrice          int64          `json:"base_price"`
	PricePaid          int64          `json:"price_paid"`
	DiscountApplied    string         `json:"discount_applied,omitempty"`
	PaymentMethod      string         `json:"payment_method"`
	ExternalPaymentRef string         `json:"external_payment_ref,omitempty"`
	Funding            string         `json:"funding,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

func (s *Server) CreatePurchase(c *gin.Context) {
	var req createPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	itemType, err := parseItemType(req.Type)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	itemID, err := snowflake.ParseString(strings.TrimSpace(req.ItemID))
	if err != nil {
		AbortWithError(c, newValidationError("item_id", "invalid_item_id", "invalid item id"))
		return
	}

	record := purchasedomain.RecordPurchaseRequest{
		SessionID:          strings.TrimSpace(req.SessionID),
		Type:               itemType,
		ItemID:             itemID,
		ItemTitle:          strings.TrimSpace(req.ItemTitle),
		BasePrice:          req.BasePrice,
		PricePaid:          req.PricePaid,
		DiscountApplied:    strings.TrimSpace(req.DiscountApplied),
		PaymentMethod:      strings.TrimSpace(req.PaymentMethod),
		ExternalPaymentRef: strings.TrimSpace(req.ExternalPaymentRef),
		Funding:            subscriptiondomain.FundingNone,
		Metadata:           req.Metadata,
	}
	if raw := strings.TrimSpace(req.UserID); raw != "" {
		userID, err := parseUserID(raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		record.UserID = &userID
	}
	if raw := strings.TrimSpace(req.Funding); raw != "" {
		record.Funding = subscriptiondomain.FundingSource(raw)
	}

	purchase, err := s.purchaseSvc.RecordPurchase(c.Request.Context(), record)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": purchase})
}

func (s *Server) ListPurchases(c *gin.Context) {
	userID, err := parseUserID(c.Param("user_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	purchases, err := s.purchaseSvc.ListByUser(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": purchases})
}
