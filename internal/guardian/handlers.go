package guardian

import (
	"errors"
	"strconv"

	"backend-selfbell/internal/auth"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/guardians", authMiddleware, func(c *fiber.Ctx) error {
		userID, ok := auth.UserID(c)
		if !ok {
			return fiber.ErrUnauthorized
		}
		var req AddRequest
		if err := c.BodyParser(&req); err != nil || (req.GuardianID == 0 && req.Email == "") {
			return fiber.NewError(fiber.StatusBadRequest, "guardianId or email required")
		}

		var (
			g   Guardian
			err error
		)
		if req.GuardianID != 0 {
			g, err = svc.Add(c.Context(), userID, req.GuardianID)
		} else {
			g, err = svc.AddByEmail(c.Context(), userID, req.Email)
		}
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(g)
	})

	r.Get("/guardians", authMiddleware, func(c *fiber.Ctx) error {
		userID, ok := auth.UserID(c)
		if !ok {
			return fiber.ErrUnauthorized
		}
		guardians, err := svc.List(c.Context(), userID)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(guardians)
	})

	r.Get("/guardians/wards", authMiddleware, func(c *fiber.Ctx) error {
		userID, ok := auth.UserID(c)
		if !ok {
			return fiber.ErrUnauthorized
		}
		wards, err := svc.Wards(c.Context(), userID)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(wards)
	})

	r.Delete("/guardians/:id", authMiddleware, func(c *fiber.Ctx) error {
		userID, ok := auth.UserID(c)
		if !ok {
			return fiber.ErrUnauthorized
		}
		guardianID, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid guardian id")
		}
		if err := svc.Remove(c.Context(), userID, guardianID); err != nil {
			return httpError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotGuardian):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrSelf):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
