package httpapi

import (
	"errors"
	"net/http"

	"voice-console/internal/auth"
	"voice-console/internal/backend"
	"voice-console/internal/calls"
	"voice-console/internal/history"
	"voice-console/internal/numbers"
	"voice-console/internal/reporting"
	"voice-console/internal/telephony"

	"github.com/gin-gonic/gin"
)

// statusFor maps domain errors to HTTP status codes. Order matters: a
// SessionError may wrap a backend error.
func statusFor(err error) int {
	var se *calls.SessionError
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &se):
		switch {
		case se.Kind == calls.ErrorMissingCredential, errors.Is(err, backend.ErrUnauthorized):
			return http.StatusUnauthorized
		case errors.Is(err, telephony.ErrNoWidget), errors.Is(err, telephony.ErrWidgetGone):
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway

	case errors.Is(err, calls.ErrCallInProgress),
		errors.Is(err, calls.ErrNotInitialized),
		errors.Is(err, calls.ErrNoIncomingCall),
		errors.Is(err, numbers.ErrNumberInUse):
		return http.StatusConflict

	case errors.Is(err, calls.ErrInvalidDestination),
		errors.Is(err, calls.ErrNoSourceNumber),
		errors.Is(err, calls.ErrInvalidDigit),
		errors.Is(err, numbers.ErrInvalidNumber),
		errors.Is(err, reporting.ErrInvalidRequest):
		return http.StatusBadRequest

	case errors.Is(err, numbers.ErrNumberNotFound),
		errors.Is(err, history.ErrCallNotFound),
		errors.Is(err, history.ErrRecordingNotFound),
		errors.Is(err, backend.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, calls.ErrMissingCredential),
		errors.Is(err, auth.ErrNoCredential),
		errors.Is(err, backend.ErrMissingCredentials),
		errors.Is(err, backend.ErrUnauthorized):
		return http.StatusUnauthorized

	case errors.Is(err, telephony.ErrNoWidget),
		errors.Is(err, telephony.ErrWidgetGone):
		return http.StatusServiceUnavailable

	case errors.Is(err, backend.ErrMalformedResponse),
		errors.As(err, &apiErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError aborts with the mapped status. Server-side failures are attached
// to the gin context so the request log carries them.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	var se *calls.SessionError
	if errors.As(err, &se) {
		body["kind"] = se.Kind
		if se.Code != 0 {
			body["code"] = se.Code
		}
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	if status == http.StatusInternalServerError {
		body = gin.H{"error": "internal error"}
	}
	c.AbortWithStatusJSON(status, body)
}
