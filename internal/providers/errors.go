package providers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/NahidDesigner/ai-prd-creator/internal/apperr"
)

const maxErrorBody = 512

// Classify maps a non-2xx upstream response onto an error kind.
func Classify(provider Kind, status int, body []byte) *apperr.Error {
	switch status {
	case http.StatusTooManyRequests:
		return apperr.Upstream(apperr.KindRateLimited, string(provider), status,
			"Rate limit exceeded. Please try again in a moment.")
	case http.StatusPaymentRequired:
		return apperr.Upstream(apperr.KindQuotaExceeded, string(provider), status,
			"Usage limit reached. Please add credits to continue.")
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.Upstream(apperr.KindCredentialInvalid, string(provider), status,
			"API key is invalid or lacks permission for this model.")
	}
	msg := upstreamMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	return apperr.Upstream(apperr.KindUpstream, string(provider), status, msg)
}

// upstreamMessage extracts a human readable message from an error body.
func upstreamMessage(body []byte) string {
	var parsed struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if len(parsed.Error) > 0 {
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(parsed.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
			var s string
			if json.Unmarshal(parsed.Error, &s) == nil && s != "" {
				return s
			}
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return text
}
