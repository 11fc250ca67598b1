// Package backend описывает возможности бэкенда, которыми пользуется клиентская часть:
// сессия и уведомления об авторизации, чтение и вставка строк, realtime-подписка на вставки.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rajivgeraev/marketplace-api/internal/models"
)

// AuthEvent событие смены состояния авторизации
type AuthEvent string

// События авторизации
const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// AuthListener получает событие и новую сессию (nil после выхода)
type AuthListener func(event AuthEvent, session *models.Session)

// Subscription активная подписка; Unsubscribe можно вызывать повторно
type Subscription interface {
	Unsubscribe()
}

// ChangeHandler получает вставку строки из realtime-ленты
type ChangeHandler func(change models.Change)

// ItemQuery параметры выборки объявлений
type ItemQuery struct {
	Search string
}

// ThreadQuery переписка пользователя с собеседником по объявлению
type ThreadQuery struct {
	UserID        string
	CounterpartID string
	ItemID        string
}

// Client всё, что клиентской части нужно от бэкенда
type Client interface {
	Session(ctx context.Context) (*models.Session, error)
	OnAuthStateChange(fn AuthListener) Subscription
	SignIn(ctx context.Context, email, password string) (*models.Session, error)
	SignUp(ctx context.Context, email, password string) (*models.Session, error)
	SignOut(ctx context.Context) error

	ListItems(ctx context.Context, q ItemQuery) ([]models.Item, error)
	GetItem(ctx context.Context, id string) (*models.Item, error)
	InsertItem(ctx context.Context, in models.NewItem) (*models.Item, error)

	ListUserMessages(ctx context.Context, userID string) ([]models.MessageRow, error)
	ListThread(ctx context.Context, q ThreadQuery) ([]models.Message, error)
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	InsertMessage(ctx context.Context, in models.NewMessage) (*models.MessageRow, error)

	SubscribeInserts(ctx context.Context, table string, fn ChangeHandler) (Subscription, error)
}

var (
	// ErrNotFound запрошенной строки нет
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized действие требует входа
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError ошибка, которую вернул сервер
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: %d %s", e.Status, http.StatusText(e.Status))
	}
	return e.Message
}

// Is сопоставляет статусы ответа с ErrNotFound и ErrUnauthorized
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	}
	return false
}
