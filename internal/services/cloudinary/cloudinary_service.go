package cloudinary

import (
	"fmt"
	"log"
	"net/url"
	"strconv"
	"time"

	cld "github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/marketplace-api/internal/config"
	"github.com/rajivgeraev/marketplace-api/internal/utils"
)

// CloudinaryService предоставляет методы для работы с Cloudinary
type CloudinaryService struct {
	cfg        config.CloudinaryConfig
	jwtService *utils.JWTService
	media      *cld.Cloudinary
	now        func() time.Time
}

// NewCloudinaryService создает новый экземпляр CloudinaryService
func NewCloudinaryService(cfg *config.Config, jwtService *utils.JWTService) (*CloudinaryService, error) {
	s := &CloudinaryService{
		cfg:        cfg.CloudinaryConfig,
		jwtService: jwtService,
		now:        time.Now,
	}
	if !cfg.CloudinaryConfig.Enabled() {
		log.Println("⚠️ Cloudinary не настроен, загрузка изображений отключена")
		return s, nil
	}

	media, err := cld.NewFromParams(cfg.CloudinaryConfig.CloudName, cfg.CloudinaryConfig.APIKey, cfg.CloudinaryConfig.APISecret)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации Cloudinary: %w", err)
	}
	s.media = media
	return s, nil
}

// Enabled сообщает, настроен ли Cloudinary
func (s *CloudinaryService) Enabled() bool {
	return s.media != nil
}

// GenerateSignature создаёт подпись параметров загрузки
func (s *CloudinaryService) GenerateSignature(params url.Values) (string, error) {
	return api.SignParameters(params, s.cfg.APISecret)
}

// DeliveryURL строит https-адрес изображения по его public_id
func (s *CloudinaryService) DeliveryURL(publicID string) (string, error) {
	if s.media == nil {
		return "", fmt.Errorf("cloudinary не настроен")
	}
	image, err := s.media.Image(publicID)
	if err != nil {
		return "", fmt.Errorf("ошибка построения адреса изображения: %w", err)
	}
	return image.String()
}

// GenerateUploadParams создаёт параметры для подписанной загрузки изображения
func (s *CloudinaryService) GenerateUploadParams(c fiber.Ctx) error {
	if !s.Enabled() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Image upload is not configured"})
	}

	// Группа загрузки объединяет изображения одного объявления
	uploadGroupID := c.Query("upload_group_id")
	if uploadGroupID == "" {
		uploadGroupID = uuid.New().String()
	}

	timestamp := strconv.FormatInt(s.now().Unix(), 10)
	folder := s.cfg.UploadFolder + "/" + uploadGroupID

	params := url.Values{}
	params.Set("timestamp", timestamp)
	params.Set("folder", folder)
	if s.cfg.UploadPreset != "" {
		params.Set("upload_preset", s.cfg.UploadPreset)
	}

	signature, err := s.GenerateSignature(params)
	if err != nil {
		log.Printf("Ошибка подписи параметров загрузки: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to sign upload"})
	}

	return c.JSON(fiber.Map{
		"timestamp":       timestamp,
		"signature":       signature,
		"folder":          folder,
		"upload_preset":   s.cfg.UploadPreset,
		"api_key":         s.cfg.APIKey,
		"cloud_name":      s.cfg.CloudName,
		"upload_group_id": uploadGroupID,
		"upload_url":      "https://api.cloudinary.com/v1_1/" + s.cfg.CloudName + "/image/upload",
	})
}
