package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Статусы объявления
const (
	ItemStatusAvailable = "available"
	ItemStatusReserved  = "reserved"
	ItemStatusSold      = "sold"
)

// Item представляет объявление (товар) в маркетплейсе
type Item struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	ImageURL    string    `json:"image_url,omitempty"`
	SellerID    uuid.UUID `json:"seller_id"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsAvailable сообщает, можно ли ещё связаться с продавцом по объявлению
func (i Item) IsAvailable() bool {
	return i.Status == ItemStatusAvailable
}

// NewItem содержит данные для создания объявления
type NewItem struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	ImageURL    string  `json:"image_url,omitempty"`
	SellerID    string  `json:"seller_id,omitempty"`
}

// RoundPrice приводит цену к копейкам (центам)
func RoundPrice(price float64) float64 {
	return math.Round(price*100) / 100
}
