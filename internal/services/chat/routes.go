package chat

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/marketplace-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для API сообщений
func (s *ChatService) SetupRoutes(app *fiber.App) {
	auth := middleware.AuthMiddleware(s.jwtService)

	api := app.Group("/api")

	// Все маршруты сообщений требуют авторизации
	api.Get("/messages", s.GetMessages, auth)
	api.Get("/messages/thread", s.GetThread, auth)
	api.Post("/messages", s.SendMessage, auth)
	api.Get("/conversations", s.GetConversations, auth)
}
