package httpapi

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/doorforge/quotecontrol/internal/errors"
	"github.com/doorforge/quotecontrol/internal/metrics"
)

// validate is the shared struct-tag validator for request bodies,
// grounded on the teacher's handlers' request DTO validation.
var validate = validator.New()

func bindAndValidate(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return apperrors.BadRequest("Invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			field := verrs[0].Field()
			return apperrors.ValidationFailed(field, field+" is invalid")
		}
		return apperrors.BadRequest("Invalid request body")
	}
	return nil
}

// LoginRequest is the login endpoint's body.
type LoginRequest struct {
	Username  string `json:"username" validate:"required"`
	Password  string `json:"password" validate:"required"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req LoginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	token, _, appErr := s.sessions.Login(c.Context(), req.Username, req.Password, req.SessionID)
	if appErr != nil {
		metrics.AuthAttempts.WithLabelValues("login", "failure").Inc()
		s.log.Warn().Str("username", req.Username).Msg("login failed")
		return appErr
	}
	metrics.AuthAttempts.WithLabelValues("login", "success").Inc()

	return c.JSON(fiber.Map{"message": "Ok", "token": token.ToJSON()})
}

// RefreshRequest is the refresh endpoint's body.
type RefreshRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}

func (s *Server) handleRefresh(c *fiber.Ctx) error {
	var req RefreshRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	token, appErr := s.sessions.Refresh(req.Refresh)
	if appErr != nil {
		metrics.AuthAttempts.WithLabelValues("refresh", "failure").Inc()
		return appErr
	}
	metrics.AuthAttempts.WithLabelValues("refresh", "success").Inc()

	return c.JSON(fiber.Map{"message": "Ok", "token": token.ToJSON()})
}

func (s *Server) handleLogout(c *fiber.Ctx) error {
	header := c.Get("Authorization")
	accessKey := strings.TrimPrefix(header, "Bearer ")

	token, appErr := s.sessions.Logout(accessKey)
	if appErr != nil {
		metrics.AuthAttempts.WithLabelValues("logout", "failure").Inc()
		return appErr
	}
	metrics.AuthAttempts.WithLabelValues("logout", "success").Inc()

	return c.JSON(fiber.Map{"message": "Ok", "token": token.ToJSON()})
}

// handleSession returns the caller's session JSON — a supplement
// beyond the distilled surface, for clients to recover session state
// after a reconnect.
func (s *Server) handleSession(c *fiber.Ctx) error {
	sess := sessionFromCtx(c)
	return c.JSON(fiber.Map{"message": "Ok", "session": sess.ToJSON()})
}
