package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	discountdomain "github.com/inkwellhq/inkwell/internal/discount/domain"
)

type applyDiscountRequest struct {
	Code string `json:"code"`
}

// ApplyDiscount redeems a code. An invalid or exhausted code is not an
// error: the response carries valid=false and checkout proceeds at full
// price.
func (s *Server) ApplyDiscount(c *gin.Context) {
	var req applyDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		AbortWithError(c, newValidationError("code", "invalid_code", "invalid code"))
		return
	}

	applied, err := s.discountSvc.Apply(c.Request.Context(), req.Code)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if applied == nil {
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"valid": false}})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"valid":            true,
		"code":             applied.Code,
		"discount_percent": applied.DiscountPercent,
	}})
}

func (s *Server) CreateDiscount(c *gin.Context) {
	var req discountdomain.CreateDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	created, err := s.discountSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": created})
}

func (s *Server) GetDiscount(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))

	discount, err := s.discountSvc.GetByCode(c.Request.Context(), code)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if discount == nil {
		AbortWithError(c, discountdomain.ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": discount})
}

func (s *Server) DeactivateDiscount(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))

	if err := s.discountSvc.Deactivate(c.Request.Context(), code); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
