package server

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/entrance/internal/auth/domain"
	signupdomain "github.com/smallbiznis/entrance/internal/signup/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

// mapError renders err with a fixed message per type so storage and
// dependency details never reach the client.
func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, internalPayload()
	case errors.Is(err, signupdomain.ErrInvalid), errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid",
			Message: "invalid request",
			Errors:  fieldErrors(err),
		}
	case errors.Is(err, signupdomain.ErrEmailAlreadyInUse):
		return http.StatusConflict, errorPayload{
			Type:    "email_already_in_use",
			Message: "email address already in use",
		}
	case errors.Is(err, signupdomain.ErrUsernameAlreadyTaken):
		return http.StatusConflict, errorPayload{
			Type:    "username_already_taken",
			Message: "username already taken",
		}
	case errors.Is(err, signupdomain.ErrPasswordTooShort):
		return http.StatusConflict, errorPayload{
			Type:    "password_too_short",
			Message: "password is too short",
		}
	case errors.Is(err, signupdomain.ErrUsernameTooLong):
		return http.StatusConflict, errorPayload{
			Type:    "username_too_long",
			Message: "username is too long",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case isUnauthorized(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, internalPayload()
	}
}

func internalPayload() errorPayload {
	return errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

func isUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, authdomain.ErrInvalidSession) ||
		errors.Is(err, authdomain.ErrSessionExpired) ||
		errors.Is(err, authdomain.ErrSessionRevoked) ||
		errors.Is(err, authdomain.ErrSessionNotFound)
}

func fieldErrors(err error) []ValidationError {
	var vErr *signupdomain.ValidationError
	if !errors.As(err, &vErr) || vErr == nil || len(vErr.Fields) == 0 {
		return nil
	}

	fields := make([]string, 0, len(vErr.Fields))
	for field := range vErr.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	out := make([]ValidationError, 0, len(fields))
	for _, field := range fields {
		code := vErr.Fields[field]
		out = append(out, ValidationError{
			Field:   field,
			Code:    code,
			Message: validationMessage(code),
		})
	}
	return out
}

func validationMessage(code string) string {
	switch code {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return "is too long"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog returns the error type and code logged with a failed
// request.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "system", payload.Type
	case signupdomain.IsInputError(err), errors.Is(err, ErrInvalidRequest):
		return "input", payload.Type
	case signupdomain.IsConflictError(err):
		return "conflict", payload.Type
	default:
		return "client", payload.Type
	}
}
