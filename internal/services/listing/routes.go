package listing

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/marketplace-api/internal/middleware"
)

// SetupRoutes настраивает маршруты для API объявлений
func (s *ListingService) SetupRoutes(app *fiber.App) {
	api := app.Group("/api/items")

	// Публичные маршруты
	api.Get("/", s.GetItems)
	api.Get("/:id", s.GetItem, middleware.OptionalAuth(s.jwtService))

	// Создание объявления требует авторизации
	api.Post("/", s.CreateItem, middleware.AuthMiddleware(s.jwtService))
}
