package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	apperrors "github.com/jwalitptl/notification-service/pkg/errors"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	TraceID string                 `json:"trace_id,omitempty"`
	Errors  []apperrors.FieldError `json:"errors,omitempty"`
}

// ErrorHandler renders the last error attached to the context. It is the only
// place where error kinds become HTTP status codes.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		traceID := c.GetString(ContextRequestID)
		appErr := Classify(c.Errors.Last().Err)
		status := appErr.StatusCode()

		for _, e := range c.Errors {
			evt := log.Warn()
			if status >= 500 {
				evt = log.Error()
			}
			evt.Err(e.Err).
				Str("trace_id", traceID).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Str("client_ip", c.ClientIP()).
				Str("kind", appErr.Kind.String()).
				Msg("Request error")
		}

		if c.Writer.Written() {
			return
		}
		c.JSON(status, ErrorResponse{
			Code:    status,
			Message: appErr.Message,
			TraceID: traceID,
			Errors:  appErr.Fields,
		})
	}
}

// Classify maps any handler error onto the closed error taxonomy. An AppError
// in the chain keeps its kind whatever it wraps. Otherwise binding and decoding
// failures are validation failures and unknown errors are internal.
func Classify(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var (
		verrs     validator.ValidationErrors
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		numErr    *strconv.NumError
		timeErr   *time.ParseError
		sizeErr   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verrs):
		return apperrors.Validation("invalid request", fieldErrors(verrs)...)
	case errors.As(err, &typeErr):
		return apperrors.Validation("invalid request body", apperrors.FieldError{
			Field:   typeErr.Field,
			Message: "must be of type " + typeErr.Type.String(),
		})
	case errors.As(err, &sizeErr):
		return apperrors.Validation(fmt.Sprintf("request body exceeds %d bytes", sizeErr.Limit))
	case errors.As(err, &syntaxErr), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return apperrors.Validation("request body must be valid JSON")
	case errors.As(err, &numErr):
		return apperrors.Validation("invalid number: " + strconv.Quote(numErr.Num))
	case errors.As(err, &timeErr):
		return apperrors.Validation("invalid timestamp: " + strconv.Quote(timeErr.Value))
	}
	return apperrors.Public(err)
}
