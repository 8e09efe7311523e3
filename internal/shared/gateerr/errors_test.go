package gateerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCodes(t *testing.T) {
	cases := []struct {
		err    *Error
		status int
		code   string
	}{
		{InvalidRequest("bad"), http.StatusBadRequest, CodeInvalidRequest},
		{Unauthorized("no"), http.StatusUnauthorized, CodeUnauthorized},
		{InsufficientCredits(), http.StatusPaymentRequired, CodeInsufficientCredits},
		{SecurityDenied(), http.StatusForbidden, CodeSecurityDenied},
		{NotFound("gone"), http.StatusNotFound, CodeNotFound},
		{RateLimited("slow down"), http.StatusTooManyRequests, CodeRateLimited},
		{ProviderNotConfigured("x", nil), http.StatusBadRequest, CodeProviderNotConfigured},
		{ProviderError("boom"), http.StatusInternalServerError, CodeProviderError},
		{Internal("oops"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.status, tc.err.Status, tc.code)
		assert.Equal(t, tc.code, tc.err.Code)
	}
}

func TestSecurityDeniedIsOpaque(t *testing.T) {
	assert.Equal(t, "access denied", SecurityDenied().Message)
}

func TestProviderNotConfiguredListsConfigured(t *testing.T) {
	err := ProviderNotConfigured("google", []string{"anthropic", "openai"})
	assert.Contains(t, err.Message, `"google"`)
	assert.Contains(t, err.Message, "anthropic, openai")
}

func TestFromUnwraps(t *testing.T) {
	wrapped := fmt.Errorf("pipeline stage: %w", RateLimited("slow down"))
	assert.Equal(t, CodeRateLimited, From(wrapped).Code)

	unknown := From(errors.New("disk on fire"))
	assert.Equal(t, CodeInternal, unknown.Code)
	assert.Equal(t, http.StatusInternalServerError, unknown.Status)
}
