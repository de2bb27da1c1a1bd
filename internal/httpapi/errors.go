package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/NahidDesigner/ai-prd-creator/internal/apperr"
)

const (
	rateLimitMessage  = "Rate limit exceeded. Please try again in a moment."
	quotaMessage      = "Usage limit reached. Please add credits to continue."
	credentialMessage = "Authentication required: the provider rejected the API key."
	genericMessage    = "Failed to generate PRD"
)

// statusFor maps an error onto its response status and JSON body.
func statusFor(err error) (int, gin.H) {
	e, ok := apperr.As(err)
	if !ok {
		return http.StatusInternalServerError, gin.H{"error": genericMessage}
	}
	switch e.Kind {
	case apperr.KindValidation:
		return http.StatusBadRequest, gin.H{"error": e.Message}
	case apperr.KindNotFound:
		return http.StatusNotFound, gin.H{"error": e.Message}
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests, gin.H{"error": rateLimitMessage}
	case apperr.KindQuotaExceeded:
		return http.StatusPaymentRequired, gin.H{"error": quotaMessage}
	case apperr.KindCredentialInvalid:
		return http.StatusUnauthorized, gin.H{"error": credentialMessage}
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout, gin.H{"error": e.Message}
	case apperr.KindConfiguration:
		return http.StatusInternalServerError, gin.H{"error": e.Message, "details": gin.H{"env": e.Env}}
	case apperr.KindUpstream:
		return http.StatusInternalServerError, gin.H{"error": e.Message, "details": gin.H{"status": e.Status, "provider": e.Provider}}
	default:
		return http.StatusInternalServerError, gin.H{"error": genericMessage}
	}
}

func writeError(c *gin.Context, err error) {
	status, body := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}
