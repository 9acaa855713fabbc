package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/inkwellhq/inkwell/internal/subscription/domain"
)

type quoteRequest struct {
	UserID    string `json:"user_id"`
	ItemType  string `json:"item_type"`
	BasePrice int64  `json:"base_price"`
}

// QuoteEntitlement prices an item against the caller's current
// allowances without consuming anything. Users without an active
// subscription quote at full price.
func (s *Server) QuoteEntitlement(c *gin.Context) {
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, err := parseUserID(req.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	itemType, err := parseItemType(req.ItemType)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	quote, err := s.subscriptionSvc.QuotePrice(c.Request.Context(), userID, itemType, req.BasePrice)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if quote == nil {
		quote = &subscriptiondomain.PriceQuote{
			Price:   req.BasePrice,
			Funding: subscriptiondomain.FundingNone,
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": quote})
}

type consumeRequest struct {
	UserID    string `json:"user_id"`
	Funding   string `json:"funding"`
	BasePrice int64  `json:"base_price"`
}

func (s *Server) ConsumeEntitlement(c *gin.Context) {
	var req consumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, err := parseUserID(req.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	switch subscriptiondomain.FundingSource(strings.TrimSpace(req.Funding)) {
	case subscriptiondomain.FundingFreeQuiz:
		err = s.subscriptionSvc.ConsumeFreeQuiz(ctx, userID, req.BasePrice)
	case subscriptiondomain.FundingDiscountedQuiz:
		err = s.subscriptionSvc.ConsumeDiscountedQuiz(ctx, userID)
	case subscriptiondomain.FundingPremiumArticle:
		err = s.subscriptionSvc.ConsumePremiumArticle(ctx, userID)
	default:
		AbortWithError(c, newValidationError("funding", "invalid_funding", "invalid funding source"))
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parseItemType(raw string) (subscriptiondomain.ItemType, error) {
	switch subscriptiondomain.ItemType(strings.ToLower(strings.TrimSpace(raw))) {
	case subscriptiondomain.ItemTypeQuiz:
		return subscriptiondomain.ItemTypeQuiz, nil
	case subscriptiondomain.ItemTypeArticle:
		return subscriptiondomain.ItemTypeArticle, nil
	default:
		return "", newValidationError("item_type", "invalid_item_type", "invalid item type")
	}
}
