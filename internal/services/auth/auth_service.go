package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	initdata "github.com/telegram-mini-apps/init-data-golang"
	"golang.org/x/crypto/bcrypt"

	"github.com/rajivgeraev/marketplace-api/internal/config"
	"github.com/rajivgeraev/marketplace-api/internal/db"
	"github.com/rajivgeraev/marketplace-api/internal/middleware"
	"github.com/rajivgeraev/marketplace-api/internal/models"
	"github.com/rajivgeraev/marketplace-api/internal/utils"
)

// minPasswordLength минимальная длина пароля при регистрации
const minPasswordLength = 6

// Store операции хранилища, нужные авторизации
type Store interface {
	CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error)
	GetUserCredentials(ctx context.Context, email string) (*models.User, string, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
	UpsertTelegramUser(ctx context.Context, tg models.TelegramProfile) (*models.User, error)
	OpenSession(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
	CloseSession(ctx context.Context, sessionID, userID uuid.UUID) error
}

// AuthService – структура для обработки авторизации
type AuthService struct {
	cfg        *config.Config
	store      Store
	jwtService *utils.JWTService
	bcryptCost int
}

// NewAuthService – конструктор AuthService
func NewAuthService(cfg *config.Config, store Store, jwtService *utils.JWTService) *AuthService {
	return &AuthService{
		cfg:        cfg,
		store:      store,
		jwtService: jwtService,
		bcryptCost: bcrypt.DefaultCost,
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (p *credentials) normalize() {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
}

// SignUpHandler регистрирует пользователя по email и паролю и сразу открывает сессию
func (s *AuthService) SignUpHandler(c fiber.Ctx) error {
	var payload credentials
	if err := c.Bind().Body(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}
	payload.normalize()

	if _, err := mail.ParseAddress(payload.Email); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid email"})
	}
	if len(payload.Password) < minPasswordLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Password is too short"})
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(payload.Password), s.bcryptCost)
	if err != nil {
		log.Printf("Ошибка хеширования пароля: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create user"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	user, err := s.store.CreateUser(ctx, payload.Email, string(hash))
	if err != nil {
		if errors.Is(err, db.ErrEmailTaken) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Email already registered"})
		}
		log.Printf("Ошибка регистрации пользователя: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create user"})
	}

	return s.issueSession(c, ctx, user, fiber.StatusCreated)
}

// SignInHandler проверяет email и пароль и выдаёт токен
func (s *AuthService) SignInHandler(c fiber.Ctx) error {
	var payload credentials
	if err := c.Bind().Body(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}
	payload.normalize()

	if payload.Email == "" || payload.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Email and password are required"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	user, hash, err := s.store.GetUserCredentials(ctx, payload.Email)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid email or password"})
		}
		log.Printf("Ошибка получения пользователя: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to sign in"})
	}

	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(payload.Password)) != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid email or password"})
	}

	return s.issueSession(c, ctx, user, fiber.StatusOK)
}

// TelegramAuthHandler проверяет initData, сохраняет пользователя и возвращает сессию
func (s *AuthService) TelegramAuthHandler(c fiber.Ctx) error {
	var payload struct {
		InitData string `json:"init_data"`
	}

	if err := c.Bind().Body(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}

	if s.cfg.TelegramBotToken == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Telegram sign in is disabled"})
	}

	// Проверяем initData
	expiration := 24 * time.Hour
	if err := initdata.Validate(payload.InitData, s.cfg.TelegramBotToken, expiration); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid Telegram data"})
	}

	// Парсим данные
	data, err := initdata.Parse(payload.InitData)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Failed to parse initData"})
	}

	rawData, err := json.Marshal(data.User)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Failed to parse initData"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	user, err := s.store.UpsertTelegramUser(ctx, models.TelegramProfile{
		TelegramID:   data.User.ID,
		Username:     data.User.Username,
		FirstName:    data.User.FirstName,
		LastName:     data.User.LastName,
		PhotoURL:     data.User.PhotoURL,
		IsPremium:    data.User.IsPremium,
		LanguageCode: data.User.LanguageCode,
		RawData:      rawData,
	})
	if err != nil {
		log.Printf("Ошибка сохранения пользователя Telegram: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to save user"})
	}

	return s.issueSession(c, ctx, user, fiber.StatusOK)
}

// SessionHandler возвращает текущего пользователя и срок действия токена
func (s *AuthService) SessionHandler(c fiber.Ctx) error {
	userID, err := uuid.Parse(middleware.UserID(c))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid user ID"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "User not found"})
		}
		log.Printf("Ошибка получения пользователя: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load session"})
	}

	token, _ := middleware.BearerToken(c.Get("Authorization"))
	session := models.Session{AccessToken: token, User: *user}
	if claims, err := s.jwtService.ValidateToken(token); err == nil && claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return c.JSON(session)
}

// SignOutHandler закрывает сессию; сам токен остаётся валидным до истечения срока
func (s *AuthService) SignOutHandler(c fiber.Ctx) error {
	userID, err := uuid.Parse(middleware.UserID(c))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid user ID"})
	}

	sessionID, err := uuid.Parse(middleware.SessionID(c))
	if err != nil {
		return c.SendStatus(fiber.StatusNoContent)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	if err := s.store.CloseSession(ctx, sessionID, userID); err != nil && !errors.Is(err, db.ErrNotFound) {
		log.Printf("Ошибка закрытия сессии: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to sign out"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// issueSession открывает сессию в базе и отвечает токеном
func (s *AuthService) issueSession(c fiber.Ctx, ctx context.Context, user *models.User, status int) error {
	sessionID, err := s.store.OpenSession(ctx, user.ID)
	if err != nil {
		log.Printf("Ошибка создания сессии: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create session"})
	}

	// Генерируем JWT
	token, expiresAt, err := s.jwtService.GenerateToken(user.ID, sessionID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate JWT"})
	}

	return c.Status(status).JSON(models.Session{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		User:        *user,
	})
}
