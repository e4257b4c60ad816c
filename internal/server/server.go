package server

import (
	"backend-selfbell/internal/alert"
	"backend-selfbell/internal/auth"
	"backend-selfbell/internal/config"
	"backend-selfbell/internal/guardian"
	"backend-selfbell/internal/places"
	"backend-selfbell/internal/safewalk"
	"backend-selfbell/internal/stream"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App       *fiber.App
	Cfg       config.Config
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Stream    *stream.Hub
	SafeWalks *safewalk.Service
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     db,
		Redis:  redisClient,
		Stream: stream.NewHub(redisClient),
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)
	authSvc := auth.NewService(s.Cfg.JWTSecret, s.DB)
	guardianSvc := guardian.NewService(s.DB)
	alertSvc := alert.NewService(s.DB)
	s.SafeWalks = safewalk.NewService(s.DB, s.Stream, guardianSvc).WithNotifier(alertSvc)

	v1 := s.App.Group("/api/v1")
	auth.RegisterRoutes(v1.Group("/auth"), authSvc, jwtMiddleware)
	guardian.RegisterRoutes(v1.Group("/guardians"), guardianSvc, jwtMiddleware)
	safewalk.RegisterRoutes(v1.Group("/safe-walks"), s.SafeWalks, jwtMiddleware)
	places.RegisterRoutes(v1.Group("/places"), places.NewService(s.DB), jwtMiddleware)
	alert.RegisterRoutes(v1.Group("/alerts"), alertSvc, jwtMiddleware)

	stream.RegisterRoutes(s.App, stream.NewBroker(s.Stream, authSvc, s.SafeWalks))
}
