package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/suteetoe/tenantgate/internal/apperror"
	"github.com/suteetoe/tenantgate/pkg/logger"
)

type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// ErrorHandler renders every error returned by handlers or middleware as
// {"error": {"code", "message", "details"}}. Internal causes are logged,
// never sent.
func ErrorHandler() echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		log := logger.FromEcho(c)

		status, body := render(err)
		if status >= http.StatusInternalServerError {
			log.Error("Request failed", zap.Int("status", status), zap.Error(err))
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, errorResponse{Error: body})
		}
		if writeErr != nil {
			log.Error("Failed to write error response", zap.Error(writeErr))
		}
	}
}

func render(err error) (int, errorBody) {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) && !isAppError(err) {
		msg := http.StatusText(httpErr.Code)
		if s, ok := httpErr.Message.(string); ok && httpErr.Code < http.StatusInternalServerError {
			msg = s
		}
		return httpErr.Code, errorBody{Code: httpCode(httpErr.Code), Message: msg}
	}

	appErr := apperror.From(err)
	return appErr.Kind.HTTPStatus(), errorBody{
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	}
}

func isAppError(err error) bool {
	var appErr *apperror.Error
	return errors.As(err, &appErr)
}

func httpCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return "route_not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusForbidden:
		return "forbidden"
	}
	if status >= http.StatusInternalServerError {
		return "internal_error"
	}
	return "request_error"
}

// bindAndValidate decodes the request body into dst and checks its validate
// tags through the router's Validator.
func bindAndValidate(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return bindError(err)
	}
	return c.Validate(dst)
}

// bindError converts a body decoding failure into a validation error.
func bindError(err error) error {
	return apperror.Validation("invalid_request", "request body is malformed").WithDetail("reason", bindReason(err))
}

func bindReason(err error) string {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		if s, ok := httpErr.Message.(string); ok {
			return s
		}
	}
	return "invalid body"
}
