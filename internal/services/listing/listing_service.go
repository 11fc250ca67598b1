package listing

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/marketplace-api/internal/db"
	"github.com/rajivgeraev/marketplace-api/internal/middleware"
	"github.com/rajivgeraev/marketplace-api/internal/models"
	"github.com/rajivgeraev/marketplace-api/internal/utils"
)

// Store операции хранилища с объявлениями
type Store interface {
	ListItems(ctx context.Context, search string) ([]models.Item, error)
	GetItem(ctx context.Context, id uuid.UUID) (*models.Item, error)
	CreateItem(ctx context.Context, sellerID uuid.UUID, in models.NewItem) (*models.Item, error)
}

// ImageResolver строит адрес изображения по public_id Cloudinary
type ImageResolver interface {
	DeliveryURL(publicID string) (string, error)
}

// Publisher получает созданные объявления для realtime-рассылки
type Publisher interface {
	Publish(change models.Change)
}

// Ошибки валидации нового объявления
var (
	errTitleRequired = errors.New("title is required")
	errPriceRequired = errors.New("price is required")
	errNegativePrice = errors.New("price must not be negative")
)

// ListingService представляет сервис для работы с объявлениями
type ListingService struct {
	store      Store
	images     ImageResolver
	publisher  Publisher
	jwtService *utils.JWTService
}

// NewListingService создает новый экземпляр ListingService; images и publisher могут быть nil
func NewListingService(store Store, images ImageResolver, publisher Publisher, jwtService *utils.JWTService) *ListingService {
	return &ListingService{store: store, images: images, publisher: publisher, jwtService: jwtService}
}

// createItemRequest тело запроса создания объявления
type createItemRequest struct {
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Price              *float64        `json:"price"`
	ImageURL           string          `json:"image_url"`
	CloudinaryResponse json.RawMessage `json:"cloudinary_response,omitempty"`
}

// GetItems возвращает доступные объявления, ?q= включает поиск
func (s *ListingService) GetItems(c fiber.Ctx) error {
	ctx, cancel := db.GetContext()
	defer cancel()

	items, err := s.store.ListItems(ctx, strings.TrimSpace(c.Query("q")))
	if err != nil {
		log.Printf("Ошибка получения объявлений: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load items"})
	}
	return c.JSON(fiber.Map{"items": items})
}

// GetItem возвращает одно объявление по ID
func (s *ListingService) GetItem(c fiber.Ctx) error {
	itemID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Item not found"})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Item not found"})
		}
		log.Printf("Ошибка получения объявления %s: %v", itemID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load item"})
	}

	// Владелец объявления не может написать самому себе
	viewerID := middleware.UserID(c)
	return c.JSON(fiber.Map{
		"item":        item,
		"is_owner":    viewerID != "" && viewerID == item.SellerID.String(),
		"can_message": viewerID != "" && viewerID != item.SellerID.String() && item.IsAvailable(),
	})
}

// CreateItem обрабатывает создание нового объявления
func (s *ListingService) CreateItem(c fiber.Ctx) error {
	sellerID, err := uuid.Parse(middleware.UserID(c))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid user ID"})
	}

	var req createItemRequest
	if err := c.Bind().Body(&req); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}

	in, err := s.newItem(req)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	item, err := s.store.CreateItem(ctx, sellerID, in)
	if err != nil {
		log.Printf("Ошибка сохранения объявления: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create item"})
	}

	if s.publisher != nil {
		if record, err := json.Marshal(item); err == nil {
			s.publisher.Publish(models.Change{
				Type:            models.EventInsert,
				Table:           models.TableItems,
				Record:          record,
				CommitTimestamp: item.CreatedAt,
			})
		}
	}
	return c.Status(fiber.StatusCreated).JSON(item)
}

// newItem проверяет запрос и выбирает изображение объявления
func (s *ListingService) newItem(req createItemRequest) (models.NewItem, error) {
	in := models.NewItem{
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		ImageURL:    strings.TrimSpace(req.ImageURL),
	}

	if in.Title == "" {
		return in, errTitleRequired
	}
	if req.Price == nil {
		return in, errPriceRequired
	}
	if *req.Price < 0 {
		return in, errNegativePrice
	}
	in.Price = *req.Price

	// Без явного адреса берём изображение из ответа Cloudinary
	if len(req.CloudinaryResponse) > 0 && in.ImageURL == "" {
		resp, err := models.ParseCloudinaryResponse(req.CloudinaryResponse)
		if err != nil {
			log.Printf("Ошибка парсинга ответа Cloudinary: %v", err)
			return in, nil
		}
		in.ImageURL = resp.ImageURL()
		if in.ImageURL == "" && resp.PublicID != "" && s.images != nil {
			if u, err := s.images.DeliveryURL(resp.PublicID); err == nil {
				in.ImageURL = u
			}
		}
	}
	return in, nil
}
