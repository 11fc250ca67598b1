package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User представляет минимальную информацию о пользователе для API
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email,omitempty"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
}

// Label возвращает отображаемое имя пользователя
func (u User) Label() string {
	return DisplayLabel(u.Email, u.Username, u.FirstName, u.LastName, u.ID.String())
}

// DisplayLabel выбирает первое непустое представление пользователя
func DisplayLabel(email, username, firstName, lastName, id string) string {
	if email != "" {
		return email
	}
	if username != "" {
		return username
	}
	if name := strings.TrimSpace(firstName + " " + lastName); name != "" {
		return name
	}
	return id
}

// Session данные текущей сессии, которые возвращает бэкенд
type Session struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        User      `json:"user"`
}

// UserID возвращает ID пользователя сессии; для nil-сессии пустую строку
func (s *Session) UserID() string {
	if s == nil {
		return ""
	}
	return s.User.ID.String()
}

// TelegramProfile содержит данные пользователя из Telegram init data
type TelegramProfile struct {
	TelegramID   int64
	Username     string
	FirstName    string
	LastName     string
	PhotoURL     string
	IsPremium    bool
	LanguageCode string
	RawData      []byte
}
