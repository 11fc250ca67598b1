package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/marketplace-api/internal/utils"
)

// Ключи c.Locals, которые заполняет middleware
const (
	LocalUserID    = "userID"
	LocalSessionID = "sessionID"
)

// BearerToken достаёт токен из заголовка Authorization
func BearerToken(authHeader string) (string, bool) {
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// AuthMiddleware создаёт middleware для проверки JWT
func AuthMiddleware(jwtService *utils.JWTService) fiber.Handler {
	return func(c fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing authorization header",
			})
		}

		// Проверяем Bearer токен
		tokenString, ok := BearerToken(authHeader)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid authorization header format",
			})
		}

		claims, err := jwtService.ValidateToken(tokenString)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		// Добавляем userID в контекст
		c.Locals(LocalUserID, claims.UserID)
		c.Locals(LocalSessionID, claims.SessionID)

		return c.Next()
	}
}

// OptionalAuth заполняет userID при валидном токене и пропускает анонимные запросы
func OptionalAuth(jwtService *utils.JWTService) fiber.Handler {
	return func(c fiber.Ctx) error {
		if tokenString, ok := BearerToken(c.Get("Authorization")); ok {
			if claims, err := jwtService.ValidateToken(tokenString); err == nil {
				c.Locals(LocalUserID, claims.UserID)
				c.Locals(LocalSessionID, claims.SessionID)
			}
		}
		return c.Next()
	}
}

// UserID возвращает ID пользователя, сохранённый middleware
func UserID(c fiber.Ctx) string {
	userID, _ := c.Locals(LocalUserID).(string)
	return userID
}

// SessionID возвращает ID сессии из токена
func SessionID(c fiber.Ctx) string {
	sessionID, _ := c.Locals(LocalSessionID).(string)
	return sessionID
}
