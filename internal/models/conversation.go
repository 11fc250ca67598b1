package models

import "time"

// Conversation производная переписка текущего пользователя с одним собеседником
// по одному объявлению. В базе не хранится.
type Conversation struct {
	ItemID          string    `json:"item_id"`
	ItemTitle       string    `json:"item_title"`
	OtherUserID     string    `json:"other_user_id"`
	OtherUserLabel  string    `json:"other_user_label"`
	LastMessage     string    `json:"last_message"`
	LastMessageID   string    `json:"last_message_id"`
	LastMessageTime time.Time `json:"last_message_time"`
}

// ConversationID однозначно определяет переписку: пара из ID объявления и ID собеседника.
// ID непрозрачны, поэтому поля не склеиваются в одну строку.
type ConversationID struct {
	ItemID      string
	OtherUserID string
}

// Key возвращает составной ключ переписки
func (c Conversation) Key() ConversationID {
	return ConversationKey(c.ItemID, c.OtherUserID)
}

// ConversationKey собирает ключ из ID объявления и ID собеседника
func ConversationKey(itemID, otherUserID string) ConversationID {
	return ConversationID{ItemID: itemID, OtherUserID: otherUserID}
}
