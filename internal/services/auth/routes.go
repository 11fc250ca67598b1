package auth

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/marketplace-api/internal/middleware"
)

// SetupRoutes регистрирует маршруты в Fiber
func (s *AuthService) SetupRoutes(app *fiber.App) {
	authGroup := app.Group("/api/auth")
	authGroup.Post("/signup", s.SignUpHandler)
	authGroup.Post("/signin", s.SignInHandler)
	authGroup.Post("/telegram", s.TelegramAuthHandler)

	// Защищенные маршруты
	authGroup.Get("/session", s.SessionHandler, middleware.AuthMiddleware(s.jwtService))
	authGroup.Post("/signout", s.SignOutHandler, middleware.AuthMiddleware(s.jwtService))
}
