package stream

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes mounts the STOMP websocket endpoint at /ws.
func RegisterRoutes(r fiber.Router, broker *Broker) {
	r.Get("/ws", websocket.New(func(c *websocket.Conn) {
		broker.Serve(c)
	}))
}
