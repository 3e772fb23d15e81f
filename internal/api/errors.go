package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/jobs"
	"github.com/tphakala/entityindex/internal/logger"
	"github.com/tphakala/entityindex/internal/privacy"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// NewErrorResponse creates an error body. Without err the message is
// used for both fields.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{Error: errorStr, Message: message, Code: code}
}

// HandleError logs err and writes it as a JSON error body.
func (s *Server) HandleError(c echo.Context, err error, message string, code int) error {
	fields := []logger.Field{
		logger.String("method", c.Request().Method),
		logger.String("path", c.Path()),
		logger.Int("code", code),
		logger.String("message", message),
	}
	if err != nil {
		fields = append(fields, logger.Error(privacy.WrapError(err)))
	}
	if code >= http.StatusInternalServerError {
		s.log.Error("API error", fields...)
	} else {
		s.log.Debug("API error", fields...)
	}

	// internal details stay in the log
	if code >= http.StatusInternalServerError {
		err = nil
	}
	return c.JSON(code, NewErrorResponse(err, message, code))
}

// statusFor maps an error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrQueueStopped):
		return http.StatusServiceUnavailable
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// httpErrorHandler renders errors raised by echo itself, such as unknown
// routes or oversized bodies, in the same JSON shape.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	message := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(code)
		}
		err = nil
	}
	if herr := s.HandleError(c, err, message, code); herr != nil {
		s.log.Error("failed to write error response", logger.Error(herr))
	}
}
