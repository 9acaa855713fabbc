package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// signatureHeader carries the provider's payload signature. The name
// matches what the provider sends so no proxy rewrite is needed.
const signatureHeader = "Stripe-Signature"

func (s *Server) HandleBillingWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err = s.webhookSvc.Ingest(c.Request.Context(), payload, c.GetHeader(signatureHeader))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
