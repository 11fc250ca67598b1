package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/marketplace-api/internal/models"
)

// HTTPClient реализует Client поверх HTTP API сервера и WebSocket-ленты
type HTTPClient struct {
	baseURL string
	http    *http.Client
	feed    *feed

	mu        sync.RWMutex
	session   *models.Session
	nextID    uint64
	listeners map[uint64]AuthListener
}

// Option настраивает HTTPClient
type Option func(*HTTPClient)

// WithHTTPClient подменяет http.Client
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.http = c }
}

// WithAccessToken восстанавливает ранее выданный токен; сессия проверяется первым вызовом Session
func WithAccessToken(token string) Option {
	return func(h *HTTPClient) {
		if token != "" {
			h.session = &models.Session{AccessToken: token}
		}
	}
}

// NewHTTPClient создаёт клиента. Пустой wsURL выводится из baseURL (http→ws, путь /ws).
func NewHTTPClient(baseURL, wsURL string, opts ...Option) *HTTPClient {
	baseURL = strings.TrimRight(baseURL, "/")
	if wsURL == "" {
		wsURL = "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	}

	c := &HTTPClient{
		baseURL:   baseURL,
		http:      &http.Client{Timeout: 15 * time.Second},
		listeners: make(map[uint64]AuthListener),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.feed = newFeed(wsURL, c.accessToken)
	return c
}

// Close закрывает realtime-соединение
func (c *HTTPClient) Close() {
	c.feed.close()
}

func (c *HTTPClient) accessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessToken
}

// Session возвращает текущую сессию или nil. Токен проверяется на сервере;
// отклонённый токен сбрасывает сессию с событием SIGNED_OUT.
func (c *HTTPClient) Session(ctx context.Context) (*models.Session, error) {
	if c.accessToken() == "" {
		return nil, nil
	}

	var session models.Session
	err := c.do(ctx, http.MethodGet, "/api/auth/session", nil, &session)
	if err != nil {
		if IsUnauthorized(err) {
			c.setSession(EventSignedOut, nil)
			return nil, nil
		}
		return nil, err
	}

	// Восстановленный токен ещё не знает пользователя
	c.mu.Lock()
	restored := c.session == nil || c.session.User.ID == uuid.Nil
	if !restored {
		c.session = &session
	}
	c.mu.Unlock()

	if restored {
		c.setSession(EventSignedIn, &session)
	}
	return c.currentSession(), nil
}

func (c *HTTPClient) currentSession() *models.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// OnAuthStateChange подписывает fn на события авторизации
func (c *HTTPClient) OnAuthStateChange(fn AuthListener) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	return &funcSubscription{fn: func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}}
}

// setSession меняет сессию и уведомляет слушателей в порядке подписки
func (c *HTTPClient) setSession(event AuthEvent, session *models.Session) {
	c.mu.Lock()
	c.session = session
	ids := make([]uint64, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]AuthListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, c.listeners[id])
	}
	c.mu.Unlock()

	var snapshot *models.Session
	if session != nil {
		s := *session
		snapshot = &s
	}
	for _, fn := range listeners {
		fn(event, snapshot)
	}
}

// SignIn входит по email и паролю
func (c *HTTPClient) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	return c.authenticate(ctx, "/api/auth/signin", email, password)
}

// SignUp регистрирует пользователя и сразу входит
func (c *HTTPClient) SignUp(ctx context.Context, email, password string) (*models.Session, error) {
	return c.authenticate(ctx, "/api/auth/signup", email, password)
}

func (c *HTTPClient) authenticate(ctx context.Context, path, email, password string) (*models.Session, error) {
	var session models.Session
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, path, body, &session); err != nil {
		return nil, err
	}
	c.setSession(EventSignedIn, &session)
	return c.currentSession(), nil
}

// SignOut закрывает сессию на сервере и всегда сбрасывает локальную
func (c *HTTPClient) SignOut(ctx context.Context) error {
	var err error
	if c.accessToken() != "" {
		err = c.do(ctx, http.MethodPost, "/api/auth/signout", nil, nil)
		if IsUnauthorized(err) {
			err = nil
		}
	}
	c.feed.close()
	c.setSession(EventSignedOut, nil)
	return err
}

// ListItems возвращает доступные объявления, с поиском при непустом Search
func (c *HTTPClient) ListItems(ctx context.Context, q ItemQuery) ([]models.Item, error) {
	path := "/api/items"
	if search := strings.TrimSpace(q.Search); search != "" {
		path += "?q=" + url.QueryEscape(search)
	}

	var resp struct {
		Items []models.Item `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// GetItem возвращает объявление по ID
func (c *HTTPClient) GetItem(ctx context.Context, id string) (*models.Item, error) {
	var resp struct {
		Item models.Item `json:"item"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/items/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Item, nil
}

// InsertItem создаёт объявление от имени текущего пользователя
func (c *HTTPClient) InsertItem(ctx context.Context, in models.NewItem) (*models.Item, error) {
	var item models.Item
	body := map[string]any{
		"title":       in.Title,
		"description": in.Description,
		"price":       in.Price,
		"image_url":   in.ImageURL,
	}
	if err := c.do(ctx, http.MethodPost, "/api/items", body, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// ListUserMessages возвращает сообщения текущего пользователя от новых к старым.
// Сервер определяет пользователя по токену, userID лишь сверяется с сессией.
func (c *HTTPClient) ListUserMessages(ctx context.Context, userID string) ([]models.MessageRow, error) {
	if current := c.currentSession(); current == nil || (userID != "" && current.UserID() != userID) {
		return nil, ErrUnauthorized
	}

	var resp struct {
		Messages []models.MessageRow `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/messages", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// ListThread возвращает переписку от старых к новым
func (c *HTTPClient) ListThread(ctx context.Context, q ThreadQuery) ([]models.Message, error) {
	params := url.Values{}
	params.Set("item_id", q.ItemID)
	params.Set("counterpart_id", q.CounterpartID)

	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/messages/thread?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// ListConversations возвращает переписки, собранные сервером
func (c *HTTPClient) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var resp struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// InsertMessage отправляет сообщение; отправителя сервер берёт из токена
func (c *HTTPClient) InsertMessage(ctx context.Context, in models.NewMessage) (*models.MessageRow, error) {
	var row models.MessageRow
	body := map[string]string{
		"receiver_id": in.ReceiverID,
		"item_id":     in.ItemID,
		"content":     in.Content,
	}
	if err := c.do(ctx, http.MethodPost, "/api/messages", body, &row); err != nil {
		return nil, err
	}
	return &row, nil
}

// SubscribeInserts подписывает fn на вставки в таблицу через WebSocket
func (c *HTTPClient) SubscribeInserts(ctx context.Context, table string, fn ChangeHandler) (Subscription, error) {
	if c.accessToken() == "" {
		return nil, ErrUnauthorized
	}
	return c.feed.subscribe(ctx, table, fn)
}

// do выполняет JSON-запрос и разбирает ответ в out
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("backend: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.accessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s %s: %w", method, path, err)
	}
	return nil
}

// IsUnauthorized сообщает, что сервер отклонил токен
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

type funcSubscription struct {
	once sync.Once
	fn   func()
}

func (s *funcSubscription) Unsubscribe() {
	s.once.Do(s.fn)
}
