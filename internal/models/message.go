package models

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Message представляет личное сообщение по объявлению
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	ItemID     string    `json:"item_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Involves сообщает, участвует ли пользователь в переписке
func (m Message) Involves(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// CounterpartOf возвращает второго участника относительно userID
func (m Message) CounterpartOf(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// MessageRow сообщение вместе с присоединёнными полями объявления и участников.
// Присоединённые поля равны nil, если связанная запись не найдена.
type MessageRow struct {
	Message
	ItemTitle     *string `json:"item_title"`
	SenderLabel   *string `json:"sender_label"`
	ReceiverLabel *string `json:"receiver_label"`
}

// Joined сообщает, что все присоединённые поля на месте
func (r MessageRow) Joined() bool {
	return r.ItemTitle != nil && r.SenderLabel != nil && r.ReceiverLabel != nil
}

// NewMessage содержит данные для отправки сообщения
type NewMessage struct {
	SenderID   string `json:"sender_id,omitempty"`
	ReceiverID string `json:"receiver_id"`
	ItemID     string `json:"item_id"`
	Content    string `json:"content"`
}

// Normalize обрезает пробелы в тексте сообщения
func (m NewMessage) Normalize() NewMessage {
	m.Content = strings.TrimSpace(m.Content)
	return m
}

// NewMessageID генерирует сортируемый по времени идентификатор сообщения
func NewMessageID() string {
	return ulid.Make().String()
}
