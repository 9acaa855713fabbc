package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/inkwellhq/inkwell/internal/subscription/domain"
)

type subscriptionResponse struct {
	UserID             string  `json:"user_id"`
	Plan               string  `json:"plan"`
	Status             string  `json:"status"`
	CancelAtPeriodEnd  bool    `json:"cancel_at_period_end"`
	CurrentPeriodStart string  `json:"current_period_start"`
	CurrentPeriodEnd   string  `json:"current_period_end"`
	EndDate            *string `json:"end_date,omitempty"`

	PremiumArticlesUsed    int   `json:"premium_articles_used"`
	PremiumArticlesLimit   int   `json:"premium_articles_limit"`
	FreeQuizzesUsed        int   `json:"free_quizzes_used"`
	FreeQuizzesLimit       int   `json:"free_quizzes_limit"`
	FreeQuizValueCap       int64 `json:"free_quiz_value_cap"`
	DiscountedQuizzesUsed  int   `json:"discounted_quizzes_used"`
	DiscountedQuizzesLimit int   `json:"discounted_quizzes_limit"`
}

// GetSubscription returns the subscription with cycle-fresh counters, so
// the storefront can render remaining allowances without stale numbers.
func (s *Server) GetSubscription(c *gin.Context) {
	userID, err := parseUserID(c.Param("user_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	sub, err := s.subscriptionSvc.GetActiveWithCycleReset(c.Request.Context(), userID)
	if err != nil {
		if !errors.Is(err, subscriptiondomain.ErrNoActiveSubscription) {
			AbortWithError(c, err)
			return
		}
		// Fall back to the pure read so cancelled and past_due rows are
		// still visible.
		sub, err = s.subscriptionSvc.GetByUserID(c.Request.Context(), userID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if sub == nil {
			AbortWithError(c, subscriptiondomain.ErrSubscriptionNotFound)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": toSubscriptionResponse(sub)})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	userID, err := parseUserID(c.Param("user_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req struct {
		Immediate bool `json:"immediate"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	sub, err := s.subscriptionSvc.Cancel(c.Request.Context(), userID, req.Immediate)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toSubscriptionResponse(&sub)})
}

func parseUserID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, newValidationError("user_id", "invalid_user_id", "invalid user id")
	}
	return id, nil
}

func toSubscriptionResponse(sub *subscriptiondomain.Subscription) subscriptionResponse {
	resp := subscriptionResponse{
		UserID:             sub.UserID.String(),
		Plan:               sub.Plan,
		Status:             string(sub.Status),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CurrentPeriodStart: sub.CurrentPeriodStart.UTC().Format(time.RFC3339),
		CurrentPeriodEnd:   sub.CurrentPeriodEnd.UTC().Format(time.RFC3339),

		PremiumArticlesUsed:    sub.PremiumArticlesUsed,
		PremiumArticlesLimit:   sub.PremiumArticlesLimit,
		FreeQuizzesUsed:        sub.FreeQuizzesUsed,
		FreeQuizzesLimit:       sub.FreeQuizzesLimit,
		FreeQuizValueCap:       sub.FreeQuizValueCap,
		DiscountedQuizzesUsed:  sub.DiscountedQuizzesUsed,
		DiscountedQuizzesLimit: sub.DiscountedQuizzesLimit,
	}
	if sub.EndDate != nil {
		endDate := sub.EndDate.UTC().Format(time.RFC3339)
		resp.EndDate = &endDate
	}
	return resp
}
