// Package envelope writes the JSON envelope shared by every HTTP response:
// {success, message | error, data, timestamp}.
package envelope

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"medconnect/backend/internal/apperror"
)

// Response is the envelope body.
type Response struct {
	Success   bool       `json:"success"`
	Message   string     `json:"message,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
	Data      any        `json:"data,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorBody is the public part of a failure.
type ErrorBody struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	RetryAfter int            `json:"retryAfter,omitempty"`
}

var now = func() time.Time { return time.Now().UTC() }

// OK writes a 200 success envelope.
func OK(c *gin.Context, message string, data any) {
	write(c, http.StatusOK, message, data)
}

// Created writes a 201 success envelope.
func Created(c *gin.Context, message string, data any) {
	write(c, http.StatusCreated, message, data)
}

func write(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Response{Success: true, Message: message, Data: data, Timestamp: now()})
}

// Fail writes the error envelope for err and aborts the chain. Unclassified
// errors become INTERNAL; their detail is logged, never returned.
func Fail(c *gin.Context, err error) {
	e, ok := apperror.As(err)
	if !ok {
		e = apperror.Internal(err)
	}
	status := e.Kind.HTTPStatus()
	body := &ErrorBody{Code: e.PublicCode(), Message: e.Message, Details: e.Details}
	if e.Kind == apperror.KindInternal {
		zerolog.Ctx(c.Request.Context()).Error().Err(e.Err).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Msg("internal error")
		body.Message = "an unexpected error occurred"
		body.Details = nil
	}
	if secs := e.RetryAfterSeconds(); secs > 0 {
		body.RetryAfter = secs
		c.Header("Retry-After", strconv.Itoa(secs))
	}
	c.AbortWithStatusJSON(status, Response{Success: false, Error: body, Timestamp: now()})
}
