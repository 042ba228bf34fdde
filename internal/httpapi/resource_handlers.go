package httpapi

import (
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/doorforge/quotecontrol/internal/errors"
	"github.com/doorforge/quotecontrol/internal/model"
	"github.com/doorforge/quotecontrol/internal/permission"
)

// checkPermission enforces user.has_permission_for(ptype, resource.owner)
// before a resource operation proceeds.
func (s *Server) checkPermission(c *fiber.Ctx, r model.Resource, ptype model.PermissionType) error {
	user := userFromCtx(c)
	if !permission.HasPermissionFor(user, ptype, r.Owner()) {
		return apperrors.Forbidden("Insufficient permission for this operation").
			WithExtra("permission", string(ptype))
	}
	return nil
}

func (s *Server) loadResource(c *fiber.Ctx) (model.Resource, error) {
	rtype := c.Params("rtype")
	rid := c.Params("rid")
	r, err := s.resources.Load(c.Context(), rtype, rid)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Server) handleAcquire(c *fiber.Ctx) error {
	r, err := s.loadResource(c)
	if err != nil {
		return err
	}
	if err := s.checkPermission(c, r, model.PermissionAcquire); err != nil {
		return err
	}

	sess := sessionFromCtx(c)
	if appErr := s.resources.Acquire(sess, r, s.sessions.DisplayName); appErr != nil {
		return appErr
	}

	return c.JSON(fiber.Map{"message": "Ok", "resource": r.ToJSON("acquire")})
}

func (s *Server) handleRelease(c *fiber.Ctx) error {
	r, err := s.loadResource(c)
	if err != nil {
		return err
	}

	sess := sessionFromCtx(c)
	if appErr := s.resources.Release(sess, r, false); appErr != nil {
		return appErr
	}

	return c.JSON(fiber.Map{"message": "Ok", "resource": r.ToJSON("release")})
}

func (s *Server) handlePreview(c *fiber.Ctx) error {
	r, err := s.loadResource(c)
	if err != nil {
		return err
	}
	if err := s.checkPermission(c, r, model.PermissionPreview); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"message": "Ok", "resource": r.ToJSON("preview")})
}

func (s *Server) handleView(c *fiber.Ctx) error {
	r, err := s.loadResource(c)
	if err != nil {
		return err
	}
	if err := s.checkPermission(c, r, model.PermissionView); err != nil {
		return err
	}

	sess := sessionFromCtx(c)
	if appErr := s.resources.EnsureAcquired(sess, r); appErr != nil {
		return appErr
	}

	return c.JSON(fiber.Map{"message": "Ok", "resource": r.ToJSON("view")})
}
