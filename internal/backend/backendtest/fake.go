// Package backendtest содержит Client в памяти для тестов представлений.
package backendtest

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/marketplace-api/internal/backend"
	"github.com/rajivgeraev/marketplace-api/internal/conversation"
	"github.com/rajivgeraev/marketplace-api/internal/models"
)

// Fake хранит объявления и сообщения в памяти.
// Поля *Err позволяют заставить соответствующий вызов вернуть ошибку.
type Fake struct {
	mu sync.Mutex

	session   *models.Session
	users     map[string]models.User
	items     []models.Item
	messages  []models.MessageRow
	listeners map[uint64]backend.AuthListener
	handlers  map[uint64]handler
	nextID    uint64

	SessionErr       error
	ListItemsErr     error
	GetItemErr       error
	InsertItemErr    error
	ListMessagesErr  error
	ListThreadErr    error
	InsertMessageErr error
	SubscribeErr     error
	SignInErr        error

	// Block, если задан, удерживает запросы чтения до закрытия канала
	Block chan struct{}

	// AfterListMessages, если задан, вызывается, когда ListUserMessages уже сняла выборку,
	// но ещё не вернула её
	AfterListMessages func()

	Calls map[string]int
}

type handler struct {
	table string
	fn    backend.ChangeHandler
}

// New создаёт пустой Fake без сессии
func New() *Fake {
	return &Fake{
		users:     make(map[string]models.User),
		listeners: make(map[uint64]backend.AuthListener),
		handlers:  make(map[uint64]handler),
		Calls:     make(map[string]int),
	}
}

var _ backend.Client = (*Fake)(nil)

// AddUser регистрирует пользователя с email
func (f *Fake) AddUser(email string) models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := models.User{ID: uuid.New(), Email: email}
	f.users[u.ID.String()] = u
	return u
}

// SignInAs ставит сессию пользователя без уведомления слушателей
func (f *Fake) SignInAs(u models.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = &models.Session{AccessToken: "token-" + u.ID.String(), ExpiresAt: time.Now().Add(time.Hour), User: u}
}

// AddItem добавляет объявление; пустые ID, статус и время заполняются
func (f *Fake) AddItem(item models.Item) models.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Status == "" {
		item.Status = models.ItemStatusAvailable
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	f.items = append(f.items, item)
	return item
}

// AddMessage сохраняет готовую строку сообщения без рассылки
func (f *Fake) AddMessage(row models.MessageRow) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, row)
}

// Emit доставляет изменение подписчикам таблицы
func (f *Fake) Emit(change models.Change) {
	if change.Type == "" {
		change.Type = models.EventInsert
	}
	f.mu.Lock()
	ids := make([]uint64, 0, len(f.handlers))
	for id, h := range f.handlers {
		if h.table == change.Table {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]backend.ChangeHandler, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, f.handlers[id].fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}

// EmitMessage рассылает строку сообщения как вставку
func (f *Fake) EmitMessage(row models.MessageRow) {
	record, _ := json.Marshal(row)
	f.Emit(models.Change{Table: models.TableMessages, Record: record, CommitTimestamp: row.CreatedAt})
}

// SetSession меняет сессию и уведомляет слушателей
func (f *Fake) SetSession(event backend.AuthEvent, session *models.Session) {
	f.mu.Lock()
	f.session = session
	ids := make([]uint64, 0, len(f.listeners))
	for id := range f.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]backend.AuthListener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, f.listeners[id])
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(event, session)
	}
}

// Subscribers возвращает число активных realtime-подписок
func (f *Fake) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

// Listeners возвращает число слушателей авторизации
func (f *Fake) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// CallCount возвращает число вызовов метода
func (f *Fake) CallCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[name]
}

func (f *Fake) call(ctx context.Context, name string, blocking bool) error {
	f.mu.Lock()
	f.Calls[name]++
	block := f.Block
	f.mu.Unlock()

	if blocking && block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *Fake) Session(ctx context.Context) (*models.Session, error) {
	f.call(ctx, "Session", false)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SessionErr != nil {
		return nil, f.SessionErr
	}
	if f.session == nil {
		return nil, nil
	}
	s := *f.session
	return &s, nil
}

func (f *Fake) OnAuthStateChange(fn backend.AuthListener) backend.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = fn
	return unsubscribeFunc(func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	})
}

func (f *Fake) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	f.call(ctx, "SignIn", false)
	if f.SignInErr != nil {
		return nil, f.SignInErr
	}
	f.mu.Lock()
	var user *models.User
	for _, u := range f.users {
		if u.Email == email {
			u := u
			user = &u
		}
	}
	f.mu.Unlock()
	if user == nil {
		return nil, &backend.APIError{Status: 401, Message: "Invalid email or password"}
	}
	session := &models.Session{AccessToken: "token-" + user.ID.String(), ExpiresAt: time.Now().Add(time.Hour), User: *user}
	f.SetSession(backend.EventSignedIn, session)
	return session, nil
}

func (f *Fake) SignUp(ctx context.Context, email, password string) (*models.Session, error) {
	f.call(ctx, "SignUp", false)
	f.mu.Lock()
	for _, u := range f.users {
		if u.Email == email {
			f.mu.Unlock()
			return nil, &backend.APIError{Status: 409, Message: "Email already registered"}
		}
	}
	f.mu.Unlock()
	user := f.AddUser(email)
	session := &models.Session{AccessToken: "token-" + user.ID.String(), ExpiresAt: time.Now().Add(time.Hour), User: user}
	f.SetSession(backend.EventSignedIn, session)
	return session, nil
}

func (f *Fake) SignOut(ctx context.Context) error {
	f.call(ctx, "SignOut", false)
	f.SetSession(backend.EventSignedOut, nil)
	return nil
}

func (f *Fake) ListItems(ctx context.Context, q backend.ItemQuery) ([]models.Item, error) {
	if err := f.call(ctx, "ListItems", true); err != nil {
		return nil, err
	}
	if f.ListItemsErr != nil {
		return nil, f.ListItemsErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	search := strings.ToLower(strings.TrimSpace(q.Search))
	var out []models.Item
	for _, item := range f.items {
		if !item.IsAvailable() {
			continue
		}
		text := strings.ToLower(item.Title + " " + item.Description)
		if search != "" && !strings.Contains(text, search) {
			continue
		}
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *Fake) GetItem(ctx context.Context, id string) (*models.Item, error) {
	if err := f.call(ctx, "GetItem", true); err != nil {
		return nil, err
	}
	if f.GetItemErr != nil {
		return nil, f.GetItemErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.ID.String() == id {
			item := item
			return &item, nil
		}
	}
	return nil, &backend.APIError{Status: 404, Message: "Item not found"}
}

func (f *Fake) InsertItem(ctx context.Context, in models.NewItem) (*models.Item, error) {
	f.call(ctx, "InsertItem", false)
	if f.InsertItemErr != nil {
		return nil, f.InsertItemErr
	}
	f.mu.Lock()
	session := f.session
	f.mu.Unlock()
	if session == nil {
		return nil, backend.ErrUnauthorized
	}
	item := f.AddItem(models.Item{
		Title:       in.Title,
		Description: in.Description,
		Price:       models.RoundPrice(in.Price),
		ImageURL:    in.ImageURL,
		SellerID:    session.User.ID,
	})
	return &item, nil
}

func (f *Fake) ListUserMessages(ctx context.Context, userID string) ([]models.MessageRow, error) {
	if err := f.call(ctx, "ListUserMessages", true); err != nil {
		return nil, err
	}
	if f.ListMessagesErr != nil {
		return nil, f.ListMessagesErr
	}
	f.mu.Lock()
	var out []models.MessageRow
	for _, row := range f.messages {
		if row.Involves(userID) {
			out = append(out, row)
		}
	}
	hook := f.AfterListMessages
	f.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if hook != nil {
		hook()
	}
	return out, nil
}

func (f *Fake) ListThread(ctx context.Context, q backend.ThreadQuery) ([]models.Message, error) {
	if err := f.call(ctx, "ListThread", true); err != nil {
		return nil, err
	}
	if f.ListThreadErr != nil {
		return nil, f.ListThreadErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Message
	for _, row := range f.messages {
		if row.ItemID == q.ItemID && row.Involves(q.UserID) && row.CounterpartOf(q.UserID) == q.CounterpartID {
			out = append(out, row.Message)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *Fake) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	f.mu.Lock()
	session := f.session
	f.mu.Unlock()
	if session == nil {
		return nil, backend.ErrUnauthorized
	}
	rows, err := f.ListUserMessages(ctx, session.UserID())
	if err != nil {
		return nil, err
	}
	return conversation.Aggregate(session.UserID(), rows), nil
}

// InsertMessage сохраняет сообщение и рассылает его подписчикам
func (f *Fake) InsertMessage(ctx context.Context, in models.NewMessage) (*models.MessageRow, error) {
	f.call(ctx, "InsertMessage", false)
	if f.InsertMessageErr != nil {
		return nil, f.InsertMessageErr
	}
	f.mu.Lock()
	session := f.session
	f.mu.Unlock()
	if session == nil {
		return nil, backend.ErrUnauthorized
	}

	row := models.MessageRow{Message: models.Message{
		ID:         models.NewMessageID(),
		SenderID:   session.UserID(),
		ReceiverID: in.ReceiverID,
		ItemID:     in.ItemID,
		Content:    strings.TrimSpace(in.Content),
		CreatedAt:  time.Now(),
	}}
	f.mu.Lock()
	for _, item := range f.items {
		if item.ID.String() == in.ItemID {
			title := item.Title
			row.ItemTitle = &title
		}
	}
	if u, ok := f.users[row.SenderID]; ok {
		label := u.Label()
		row.SenderLabel = &label
	}
	if u, ok := f.users[row.ReceiverID]; ok {
		label := u.Label()
		row.ReceiverLabel = &label
	}
	f.messages = append(f.messages, row)
	f.mu.Unlock()

	f.EmitMessage(row)
	return &row, nil
}

func (f *Fake) SubscribeInserts(ctx context.Context, table string, fn backend.ChangeHandler) (backend.Subscription, error) {
	f.call(ctx, "SubscribeInserts", false)
	if f.SubscribeErr != nil {
		return nil, f.SubscribeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.handlers[id] = handler{table: table, fn: fn}
	return unsubscribeFunc(func() {
		f.mu.Lock()
		delete(f.handlers, id)
		f.mu.Unlock()
	}), nil
}

type unsubscribeFunc func()

func (u unsubscribeFunc) Unsubscribe() { u() }
