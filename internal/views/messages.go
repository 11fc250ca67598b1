package views

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rajivgeraev/marketplace-api/internal/backend"
	"github.com/rajivgeraev/marketplace-api/internal/conversation"
	"github.com/rajivgeraev/marketplace-api/internal/models"
	"github.com/rajivgeraev/marketplace-api/internal/session"
)

// SelectPrompt показывается, пока переписка не выбрана
const SelectPrompt = "Select a conversation to start messaging"

// refetchTimeout ограничивает полную перезагрузку переписок из realtime-обработчика
const refetchTimeout = 10 * time.Second

var errNoConversation = errors.New("no conversation selected")

// Selection выбранная переписка: объявление и собеседник
type Selection struct {
	ItemID        string
	CounterpartID string
}

// Messages экран сообщений: список переписок, выбранная лента и форма отправки
type Messages struct {
	client   backend.Client
	sessions *session.Store

	mu        sync.Mutex
	gen       generation
	userID    string
	loading   bool
	convs     *conversation.Set
	selected  *Selection
	threadGen uint64
	thread    []models.Message
	draft     string
	sending   bool
	err       error
	sub       backend.Subscription
	onChange  func()
}

// NewMessages создаёт экран сообщений
func NewMessages(client backend.Client, sessions *session.Store) *Messages {
	return &Messages{client: client, sessions: sessions, loading: true}
}

// OnChange задаёт функцию, которую экран вызывает после realtime-обновлений
func (m *Messages) OnChange(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Mount подписывается на новые сообщения и загружает переписки
func (m *Messages) Mount(ctx context.Context) error {
	userID := m.sessions.UserID()
	if userID == "" {
		return ErrNotSignedIn
	}

	m.mu.Lock()
	if m.gen.unmounted {
		m.mu.Unlock()
		return ErrUnmounted
	}
	m.userID = userID
	m.convs = conversation.NewSet(userID)
	m.loading = true
	gen := m.gen.next()
	m.mu.Unlock()

	sub, err := m.client.SubscribeInserts(ctx, models.TableMessages, m.handleInsert)
	if err != nil {
		log.Printf("Ошибка подписки на сообщения: %v", err)
	} else {
		m.mu.Lock()
		if m.gen.unmounted {
			m.mu.Unlock()
			sub.Unsubscribe()
			return ErrUnmounted
		}
		m.sub = sub
		m.mu.Unlock()
	}

	return m.refresh(ctx, gen)
}

// refresh заново выбирает сообщения пользователя и пересчитывает переписки
func (m *Messages) refresh(ctx context.Context, gen uint64) error {
	rows, err := m.client.ListUserMessages(ctx, m.currentUser())

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.gen.valid(gen) {
		return nil
	}
	m.loading = false
	if err != nil {
		log.Printf("Ошибка загрузки сообщений: %v", err)
		m.err = err
		return err
	}
	m.convs.Reset(rows)
	return nil
}

func (m *Messages) currentUser() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// handleInsert обрабатывает новое сообщение из realtime-ленты
func (m *Messages) handleInsert(change models.Change) {
	row, err := change.DecodeMessageRow()
	if err != nil {
		log.Printf("Ошибка разбора сообщения: %v", err)
		return
	}

	m.mu.Lock()
	if m.gen.unmounted || m.convs == nil || !row.Involves(m.userID) {
		m.mu.Unlock()
		return
	}
	gen := m.gen.current
	counterpart := row.CounterpartOf(m.userID)

	// Без присоединённых полей новую переписку не подписать, перечитываем всё
	refetch := !row.Joined() && !m.convs.Has(row.ItemID, counterpart)
	if !refetch {
		m.convs.Upsert(row)
	}
	if m.selected != nil && m.selected.ItemID == row.ItemID && m.selected.CounterpartID == counterpart {
		m.appendLocked(row.Message)
	}
	notify := m.onChange
	m.mu.Unlock()

	if refetch {
		ctx, cancel := context.WithTimeout(context.Background(), refetchTimeout)
		m.refresh(ctx, gen)
		cancel()
	}
	if notify != nil {
		notify()
	}
}

// appendLocked добавляет сообщение в ленту без дублей, сохраняя порядок от старых к новым
func (m *Messages) appendLocked(msg models.Message) {
	for _, existing := range m.thread {
		if existing.ID == msg.ID {
			return
		}
	}
	m.thread = append(m.thread, msg)
	sort.SliceStable(m.thread, func(i, j int) bool {
		a, b := m.thread[i], m.thread[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Loading сообщает, что первая загрузка переписок ещё не завершилась
func (m *Messages) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// Conversations возвращает переписки от самой свежей к самой старой
func (m *Messages) Conversations() []models.Conversation {
	m.mu.Lock()
	convs := m.convs
	m.mu.Unlock()
	if convs == nil {
		return nil
	}
	return convs.List()
}

// Select выбирает переписку и загружает её ленту от старых сообщений к новым
func (m *Messages) Select(ctx context.Context, sel Selection) error {
	m.mu.Lock()
	if m.gen.unmounted {
		m.mu.Unlock()
		return ErrUnmounted
	}
	m.selected = &sel
	m.thread = nil
	m.err = nil
	m.threadGen++
	threadGen := m.threadGen
	gen := m.gen.current
	query := backend.ThreadQuery{UserID: m.userID, CounterpartID: sel.CounterpartID, ItemID: sel.ItemID}
	m.mu.Unlock()

	msgs, err := m.client.ListThread(ctx, query)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.gen.valid(gen) || m.threadGen != threadGen {
		return nil
	}
	if err != nil {
		m.err = err
		return err
	}
	// Сообщения, пришедшие по realtime во время загрузки, сохраняются
	arrived := m.thread
	m.thread = nil
	for _, msg := range msgs {
		m.appendLocked(msg)
	}
	for _, msg := range arrived {
		m.appendLocked(msg)
	}
	return nil
}

// Selected возвращает выбранную переписку
func (m *Messages) Selected() (Selection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selected == nil {
		return Selection{}, false
	}
	return *m.selected, true
}

// Prompt возвращает подсказку, пока переписка не выбрана
func (m *Messages) Prompt() string {
	if _, ok := m.Selected(); ok {
		return ""
	}
	return SelectPrompt
}

// Thread возвращает ленту выбранной переписки
func (m *Messages) Thread() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Message(nil), m.thread...)
}

// SetDraft меняет текст в форме отправки
func (m *Messages) SetDraft(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draft = text
}

// Draft возвращает текст формы
func (m *Messages) Draft() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draft
}

// CanSend сообщает, можно ли отправить текст формы
func (m *Messages) CanSend() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected != nil && !m.sending && strings.TrimSpace(m.draft) != ""
}

// Err возвращает последнюю ошибку экрана
func (m *Messages) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Send отправляет текст формы собеседнику выбранной переписки.
// Пустой текст не отправляется и остаётся в форме; при ошибке текст сохраняется.
func (m *Messages) Send(ctx context.Context) error {
	m.mu.Lock()
	if m.gen.unmounted {
		m.mu.Unlock()
		return ErrUnmounted
	}
	content := strings.TrimSpace(m.draft)
	if content == "" {
		m.mu.Unlock()
		return ErrEmptyMessage
	}
	if m.selected == nil {
		m.mu.Unlock()
		return errNoConversation
	}
	if m.sending {
		m.mu.Unlock()
		return nil
	}
	in := models.NewMessage{
		SenderID:   m.userID,
		ReceiverID: m.selected.CounterpartID,
		ItemID:     m.selected.ItemID,
		Content:    content,
	}
	sel := *m.selected
	m.sending = true
	m.err = nil
	gen := m.gen.current
	m.mu.Unlock()

	row, err := m.client.InsertMessage(ctx, in)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sending = false
	if !m.gen.valid(gen) {
		return err
	}
	if err != nil {
		m.err = err
		return err
	}
	m.draft = ""
	if row != nil {
		m.convs.Upsert(*row)
		if m.selected != nil && *m.selected == sel {
			m.appendLocked(row.Message)
		}
	}
	return nil
}

// Unmount отписывается от realtime-ленты; поздние ответы игнорируются
func (m *Messages) Unmount() {
	m.mu.Lock()
	m.gen.unmount()
	sub := m.sub
	m.sub = nil
	m.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}
