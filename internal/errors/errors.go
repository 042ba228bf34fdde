// Package errors defines the structured failure taxonomy that the JSON
// middleware converts into `{message, ...extra}` responses. Handlers
// return these types (or wrap arbitrary errors in InternalError); no
// stack trace or internal detail crosses the process boundary.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// AppError is a structured application failure. Message is the
// human-readable reason exactly as raised internally (ported messages
// keep their trailing period); ToResponse strips it before it reaches
// the wire, matching the JSON middleware's behaviour.
type AppError struct {
	Status   int
	Message  string
	Extra    map[string]any
	Internal error
}

func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s (internal: %v)", e.Message, e.Internal)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Internal }

func (e *AppError) WithExtra(key string, value any) *AppError {
	if e.Extra == nil {
		e.Extra = make(map[string]any)
	}
	e.Extra[key] = value
	return e
}

func (e *AppError) WithInternal(err error) *AppError {
	e.Internal = err
	return e
}

// BadRequest is raised for malformed input (ValidationError in spec terms).
func BadRequest(message string) *AppError {
	return &AppError{Status: http.StatusBadRequest, Message: message}
}

// ValidationFailed is BadRequest carrying the offending field.
func ValidationFailed(field, message string) *AppError {
	return BadRequest(message).WithExtra("field", field)
}

func Unauthorized(message string) *AppError {
	return &AppError{Status: http.StatusUnauthorized, Message: message}
}

func Forbidden(message string) *AppError {
	return &AppError{Status: http.StatusForbidden, Message: message}
}

func NotFound(message string) *AppError {
	return &AppError{Status: http.StatusNotFound, Message: message}
}

// Conflict is the general ResourceConflict base; the three named
// variants below carry the exact messages the resource manager raises.
func Conflict(message string) *AppError {
	return &AppError{Status: http.StatusConflict, Message: message}
}

// Exact messages ported from the original service's error module.
// End-to-end scenarios assert on these strings verbatim (minus the
// trailing period, which ToResponse strips).
const (
	MsgResourceLocked   = "Requested resource is already locked by another session."
	MsgSessionBound     = "Requesting session is already bound to a resource."
	MsgResourceNotOwned = "Requesting session is not bound to the requested resource."
)

// ResourceLocked is raised when acquiring a resource already held by
// another session. extra carries {locked_by: <owner display name>}.
func ResourceLocked(lockedBy string) *AppError {
	return Conflict(MsgResourceLocked).WithExtra("locked_by", lockedBy)
}

// SessionBound is raised when a session already holding a resource
// attempts to acquire another. extra carries {session: session.to_json()}.
func SessionBound(session any) *AppError {
	return Conflict(MsgSessionBound).WithExtra("session", session)
}

// ResourceNotOwned is raised by ensure_acquired when the caller's
// session does not hold the resource it is operating on.
func ResourceNotOwned(session any) *AppError {
	return Conflict(MsgResourceNotOwned).WithExtra("session", session)
}

// RateLimitExceeded is a 429 carrying Retry-After in seconds.
func RateLimitExceeded(retryAfterSeconds int) *AppError {
	return &AppError{
		Status:  http.StatusTooManyRequests,
		Message: "Rate limit exceeded",
		Extra:   map[string]any{"retry_after": retryAfterSeconds},
	}
}

// InternalError wraps an upstream failure (Postgres unreachable, bcrypt
// failure) as a 500. The internal error is logged, never surfaced.
func InternalError(message string) *AppError {
	return &AppError{Status: http.StatusInternalServerError, Message: message}
}

func WrapError(err error, message string) *AppError {
	return InternalError(message).WithInternal(err)
}

// Response is the wire shape: {message, ...extra}.
type Response map[string]any

// ToResponse builds the wire body, stripping the trailing period that
// ported messages carry internally.
func (e *AppError) ToResponse() Response {
	body := Response{"message": strings.TrimSuffix(e.Message, ".")}
	for k, v := range e.Extra {
		body[k] = v
	}
	return body
}

// SendError is the JSON-wrapping middleware's core: it converts any
// structured failure into `{message, ...extra}` with the right status,
// and logs unstructured failures before replacing them with a generic
// 500 body. Fiber's auto-generated Content-Type is left untouched here;
// the handler always sets application/json via c.JSON.
func SendError(c *fiber.Ctx, err error, log zerolog.Logger) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Internal != nil {
			log.Error().Err(appErr.Internal).Int("status", appErr.Status).Str("message", appErr.Message).Msg("application error")
		}
		return c.Status(appErr.Status).JSON(appErr.ToResponse())
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(Response{"message": fiberErr.Message})
	}

	log.Error().Err(err).Msg("unexpected error")
	return c.Status(http.StatusInternalServerError).JSON(Response{"message": "Internal server error"})
}

// ErrorHandler adapts SendError to fiber.Config's ErrorHandler slot.
func ErrorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		return SendError(c, err, log)
	}
}

func IsConflict(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Status == http.StatusConflict
}

func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Status == http.StatusNotFound
}
