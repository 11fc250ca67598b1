package cloudinary

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/marketplace-api/internal/middleware"
)

// SetupRoutes настраивает маршрут параметров загрузки
func (s *CloudinaryService) SetupRoutes(app *fiber.App) {
	app.Get("/api/upload/params", s.GenerateUploadParams, middleware.AuthMiddleware(s.jwtService))
}
