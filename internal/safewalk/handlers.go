package safewalk

import (
	"errors"
	"strconv"
	"time"

	"backend-selfbell/internal/api"
	"backend-selfbell/internal/auth"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Use(authMiddleware)

	r.Post("/", func(c *fiber.Ctx) error {
		userID, ok := auth.UserID(c)
		if !ok {
			return fiber.ErrUnauthorized
		}
		var req api.CreateRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		session, err := svc.Create(c.Context(), userID, req)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(session)
	})

	r.Get("/history", func(c *fiber.Ctx) error {
		userID, ok := auth.UserID(c)
		if !ok {
			return fiber.ErrUnauthorized
		}
		from, err := parseTimeQuery(c, "from")
		if err != nil {
			return err
		}
		to, err := parseTimeQuery(c, "to")
		if err != nil {
			return err
		}
		items, err := svc.History(c.Context(), userID, HistoryFilter{
			Target: api.HistoryTarget(c.Query("target")),
			From:   from,
			To:     to,
			Order:  api.SortOrder(c.Query("order")),
		})
		if err != nil {
			return httpError(err)
		}
		return c.JSON(items)
	})

	r.Get("/ward/current", func(c *fiber.Ctx) error {
		userID, ok := auth.UserID(c)
		if !ok {
			return fiber.ErrUnauthorized
		}
		state, err := svc.Current(c.Context(), userID)
		if err != nil {
			return httpError(err)
		}
		if state == nil {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.JSON(state)
	})

	r.Post("/:id/track", func(c *fiber.Ctx) error {
		userID, sessionID, err := ids(c)
		if err != nil {
			return err
		}
		var req api.TrackRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		resp, err := svc.Track(c.Context(), userID, sessionID, req)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(resp)
	})

	r.Put("/:id/end", func(c *fiber.Ctx) error {
		userID, sessionID, err := ids(c)
		if err != nil {
			return err
		}
		var req api.EndRequest
		if err := c.BodyParser(&req); err != nil || req.Reason == "" {
			return fiber.NewError(fiber.StatusBadRequest, "reason required")
		}
		resp, err := svc.End(c.Context(), userID, sessionID, req.Reason)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(resp)
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		userID, sessionID, err := ids(c)
		if err != nil {
			return err
		}
		detail, err := svc.Detail(c.Context(), userID, sessionID)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(detail)
	})

	r.Get("/:id/tracks", func(c *fiber.Ctx) error {
		userID, sessionID, err := ids(c)
		if err != nil {
			return err
		}
		page, err := svc.Tracks(c.Context(), userID, sessionID, TrackQuery{
			Cursor: c.Query("cursor"),
			Size:   c.QueryInt("size"),
			Order:  api.SortOrder(c.Query("order")),
		})
		if err != nil {
			return httpError(err)
		}
		return c.JSON(page)
	})
}

func ids(c *fiber.Ctx) (int64, int64, error) {
	userID, ok := auth.UserID(c)
	if !ok {
		return 0, 0, fiber.ErrUnauthorized
	}
	sessionID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || sessionID <= 0 {
		return 0, 0, fiber.NewError(fiber.StatusBadRequest, "invalid session id")
	}
	return userID, sessionID, nil
}

func parseTimeQuery(c *fiber.Ctx, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, key+" must be RFC3339")
	}
	return &t, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalid):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
