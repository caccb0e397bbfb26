package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carebook/carebook/internal/platform/apperr"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// RetryAfterSeconds is advertised on retryable failures.
const RetryAfterSeconds = 1

// ErrorHandler renders apperr and echo errors as ErrorBody. Internal errors
// are logged and their detail hidden from the client.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		rid, _ := c.Get("request_id").(string)

		status := http.StatusInternalServerError
		body := ErrorBody{Code: string(apperr.KindInternal), Message: "internal server error", RequestID: rid}

		var ae *apperr.Error
		var he *echo.HTTPError
		switch {
		case errors.As(err, &ae):
			status = apperr.HTTPStatus(ae.Kind)
			body.Code = string(ae.Kind)
			if ae.Kind != apperr.KindInternal {
				body.Message = ae.Message
			}
			if ae.Kind == apperr.KindRetryable {
				c.Response().Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
			}
		case errors.As(err, &he):
			status = he.Code
			body.Code = codeForStatus(he.Code)
			if msg, ok := he.Message.(string); ok {
				body.Message = msg
			} else {
				body.Message = http.StatusText(he.Code)
			}
		}

		if status >= 500 {
			logger.Error().Err(err).Str("request_id", rid).Int("status", status).Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return string(apperr.KindFormat)
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return string(apperr.KindUnauthorized)
	case http.StatusNotFound:
		return string(apperr.KindNotFound)
	case http.StatusGatewayTimeout:
		return "timeout"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusRequestEntityTooLarge:
		return "too_large"
	}
	if status >= 500 {
		return string(apperr.KindInternal)
	}
	return "error"
}
