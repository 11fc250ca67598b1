package models

import (
	"encoding/json"
	"time"
)

// CloudinaryResponse представляет ответ Cloudinary на загрузку изображения,
// который клиент пересылает вместе с новым объявлением
type CloudinaryResponse struct {
	AssetID          string    `json:"asset_id"`
	PublicID         string    `json:"public_id"`
	Version          int       `json:"version"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	Format           string    `json:"format"`
	ResourceType     string    `json:"resource_type"`
	CreatedAt        time.Time `json:"created_at"`
	Bytes            int       `json:"bytes"`
	URL              string    `json:"url"`
	SecureURL        string    `json:"secure_url"`
	OriginalFilename string    `json:"original_filename"`
	Eager            []Eager   `json:"eager"`
}

// Eager содержит информацию о трансформациях изображения
type Eager struct {
	Status    string `json:"status"`
	BatchID   string `json:"batch_id"`
	URL       string `json:"url"`
	SecureURL string `json:"secure_url"`
}

// ExtractPreviewURL извлекает URL превью из ответа Cloudinary
func ExtractPreviewURL(cr CloudinaryResponse) string {
	for _, eager := range cr.Eager {
		if eager.Status == "processing" || eager.Status == "completed" {
			return eager.SecureURL
		}
	}
	return ""
}

// ImageURL выбирает лучший URL изображения: превью, затем https, затем http
func (cr CloudinaryResponse) ImageURL() string {
	if preview := ExtractPreviewURL(cr); preview != "" {
		return preview
	}
	if cr.SecureURL != "" {
		return cr.SecureURL
	}
	return cr.URL
}

// ParseCloudinaryResponse конвертирует JSON-ответ от Cloudinary в структуру
func ParseCloudinaryResponse(data []byte) (CloudinaryResponse, error) {
	var response CloudinaryResponse
	err := json.Unmarshal(data, &response)
	return response, err
}
