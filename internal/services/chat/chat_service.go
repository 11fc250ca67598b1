package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/marketplace-api/internal/conversation"
	"github.com/rajivgeraev/marketplace-api/internal/db"
	"github.com/rajivgeraev/marketplace-api/internal/middleware"
	"github.com/rajivgeraev/marketplace-api/internal/models"
	"github.com/rajivgeraev/marketplace-api/internal/utils"
)

// Store операции хранилища, нужные сообщениям
type Store interface {
	GetItem(ctx context.Context, id uuid.UUID) (*models.Item, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
	InsertMessage(ctx context.Context, msg models.Message) error
	GetMessageRow(ctx context.Context, id string) (*models.MessageRow, error)
	ListUserMessages(ctx context.Context, userID string) ([]models.MessageRow, error)
	ListThread(ctx context.Context, userID, counterpartID, itemID string) ([]models.Message, error)
}

// Publisher получает вставленные сообщения для realtime-рассылки
type Publisher interface {
	Publish(change models.Change)
}

// ChatService представляет сервис для работы с сообщениями
type ChatService struct {
	store      Store
	publisher  Publisher
	jwtService *utils.JWTService
	now        func() time.Time
}

// NewChatService создает новый экземпляр ChatService.
// publisher равен nil, когда рассылку делает сама база (NOTIFY в PostgreSQL).
func NewChatService(store Store, publisher Publisher, jwtService *utils.JWTService) *ChatService {
	return &ChatService{
		store:      store,
		publisher:  publisher,
		jwtService: jwtService,
		now:        time.Now,
	}
}

// GetMessages возвращает все сообщения пользователя от новых к старым
func (s *ChatService) GetMessages(c fiber.Ctx) error {
	userID := middleware.UserID(c)

	ctx, cancel := db.GetContext()
	defer cancel()

	rows, err := s.store.ListUserMessages(ctx, userID)
	if err != nil {
		log.Printf("Ошибка запроса сообщений: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load messages"})
	}
	return c.JSON(fiber.Map{"messages": rows})
}

// GetConversations возвращает список переписок пользователя
func (s *ChatService) GetConversations(c fiber.Ctx) error {
	userID := middleware.UserID(c)

	ctx, cancel := db.GetContext()
	defer cancel()

	rows, err := s.store.ListUserMessages(ctx, userID)
	if err != nil {
		log.Printf("Ошибка запроса сообщений: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load conversations"})
	}
	return c.JSON(fiber.Map{"conversations": conversation.Aggregate(userID, rows)})
}

// GetThread возвращает переписку с собеседником по объявлению от старых к новым
func (s *ChatService) GetThread(c fiber.Ctx) error {
	userID := middleware.UserID(c)
	itemID := c.Query("item_id")
	counterpartID := c.Query("counterpart_id")

	if itemID == "" || counterpartID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "item_id and counterpart_id are required"})
	}
	if _, err := uuid.Parse(itemID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid item ID"})
	}
	if _, err := uuid.Parse(counterpartID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid counterpart ID"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	messages, err := s.store.ListThread(ctx, userID, counterpartID, itemID)
	if err != nil {
		log.Printf("Ошибка запроса переписки: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load thread"})
	}
	return c.JSON(fiber.Map{"messages": messages})
}

// SendMessage сохраняет сообщение по объявлению и публикует его
func (s *ChatService) SendMessage(c fiber.Ctx) error {
	senderID, err := uuid.Parse(middleware.UserID(c))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid user ID"})
	}

	var req models.NewMessage
	if err := c.Bind().Body(&req); err != nil {
		log.Printf("Ошибка чтения тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}
	req = req.Normalize()

	if req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Message cannot be empty"})
	}
	receiverID, err := uuid.Parse(req.ReceiverID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid receiver ID"})
	}
	if receiverID == senderID {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot message yourself"})
	}
	itemID, err := uuid.Parse(req.ItemID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid item ID"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Item not found"})
		}
		log.Printf("Ошибка получения объявления: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to send message"})
	}

	// Переписка по объявлению всегда ведётся с его продавцом
	if item.SellerID != senderID && item.SellerID != receiverID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Messages must involve the seller"})
	}

	if _, err := s.store.GetUserByID(ctx, receiverID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Receiver not found"})
		}
		log.Printf("Ошибка получения получателя: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to send message"})
	}

	msg := models.Message{
		ID:         models.NewMessageID(),
		SenderID:   senderID.String(),
		ReceiverID: receiverID.String(),
		ItemID:     itemID.String(),
		Content:    req.Content,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		log.Printf("Ошибка сохранения сообщения: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to send message"})
	}

	row, err := s.store.GetMessageRow(ctx, msg.ID)
	if err != nil {
		log.Printf("Ошибка загрузки отправленного сообщения: %v", err)
		row = &models.MessageRow{Message: msg}
	}

	s.publish(*row)
	return c.Status(fiber.StatusCreated).JSON(row)
}

func (s *ChatService) publish(row models.MessageRow) {
	if s.publisher == nil {
		return
	}
	record, err := json.Marshal(row)
	if err != nil {
		log.Printf("Ошибка сериализации сообщения: %v", err)
		return
	}
	s.publisher.Publish(models.Change{
		Type:            models.EventInsert,
		Table:           models.TableMessages,
		Record:          record,
		CommitTimestamp: row.CreatedAt,
	})
}
