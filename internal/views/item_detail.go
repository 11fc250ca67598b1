package views

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rajivgeraev/marketplace-api/internal/backend"
	"github.com/rajivgeraev/marketplace-api/internal/models"
	"github.com/rajivgeraev/marketplace-api/internal/session"
)

// DetailState состояние карточки объявления
type DetailState int

const (
	DetailLoading DetailState = iota
	DetailLoaded
	DetailNotFound
	DetailError
)

// Тексты подсказок карточки объявления
const (
	SignInHintText  = "Please sign in to contact the seller"
	MessageSentText = "Message sent successfully!"
)

// ItemDetail карточка одного объявления с формой сообщения продавцу
type ItemDetail struct {
	client   backend.Client
	sessions *session.Store

	mu      sync.Mutex
	gen     generation
	state   DetailState
	item    *models.Item
	err     error
	draft   string
	sending bool
	notice  string
	sendErr error
}

// NewItemDetail создаёт карточку объявления
func NewItemDetail(client backend.Client, sessions *session.Store) *ItemDetail {
	return &ItemDetail{client: client, sessions: sessions, state: DetailLoading}
}

// Load загружает объявление по ID из маршрута
func (d *ItemDetail) Load(ctx context.Context, id string) error {
	d.mu.Lock()
	if d.gen.unmounted {
		d.mu.Unlock()
		return ErrUnmounted
	}
	gen := d.gen.next()
	d.state = DetailLoading
	d.item = nil
	d.err = nil
	d.mu.Unlock()

	item, err := d.client.GetItem(ctx, id)

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.gen.valid(gen) {
		return nil
	}
	switch {
	case errors.Is(err, backend.ErrNotFound):
		d.state = DetailNotFound
		d.err = err
	case err != nil:
		d.state = DetailError
		d.err = err
	default:
		d.state = DetailLoaded
		d.item = item
	}
	return err
}

// State возвращает состояние загрузки
func (d *ItemDetail) State() DetailState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Item возвращает загруженное объявление или nil
func (d *ItemDetail) Item() *models.Item {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.item == nil {
		return nil
	}
	item := *d.item
	return &item
}

// Err возвращает ошибку загрузки
func (d *ItemDetail) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// CanMessage сообщает, показывать ли форму: зритель вошёл, он не продавец и объявление доступно
func (d *ItemDetail) CanMessage() bool {
	viewer := d.sessions.UserID()
	d.mu.Lock()
	defer d.mu.Unlock()
	return canMessage(d.item, viewer)
}

func canMessage(item *models.Item, viewerID string) bool {
	if item == nil || viewerID == "" {
		return false
	}
	return item.SellerID.String() != viewerID && item.IsAvailable()
}

// SignInHint сообщает, что анонимному зрителю нужно предложить войти
func (d *ItemDetail) SignInHint() bool {
	return !d.sessions.Authenticated()
}

// IsOwner сообщает, что зритель является продавцом объявления
func (d *ItemDetail) IsOwner() bool {
	viewer := d.sessions.UserID()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.item != nil && viewer != "" && d.item.SellerID.String() == viewer
}

// SetDraft меняет текст сообщения
func (d *ItemDetail) SetDraft(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.draft = text
	d.notice = ""
}

// Draft возвращает текст сообщения
func (d *ItemDetail) Draft() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draft
}

// Notice возвращает подсказку после успешной отправки
func (d *ItemDetail) Notice() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.notice
}

// SendErr возвращает ошибку последней отправки
func (d *ItemDetail) SendErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendErr
}

// Sending сообщает, что отправка ещё идёт
func (d *ItemDetail) Sending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sending
}

// Send отправляет одно сообщение продавцу.
// Пустой текст не отправляется; при ошибке текст остаётся для повтора.
func (d *ItemDetail) Send(ctx context.Context) error {
	viewer := d.sessions.UserID()

	d.mu.Lock()
	if d.gen.unmounted {
		d.mu.Unlock()
		return ErrUnmounted
	}
	content := strings.TrimSpace(d.draft)
	if content == "" {
		d.mu.Unlock()
		return ErrEmptyMessage
	}
	if viewer == "" {
		d.mu.Unlock()
		return ErrNotSignedIn
	}
	if !canMessage(d.item, viewer) {
		d.mu.Unlock()
		return ErrCannotMessage
	}
	if d.sending {
		d.mu.Unlock()
		return nil
	}
	in := models.NewMessage{
		SenderID:   viewer,
		ReceiverID: d.item.SellerID.String(),
		ItemID:     d.item.ID.String(),
		Content:    content,
	}
	d.sending = true
	d.sendErr = nil
	d.notice = ""
	gen := d.gen.current
	d.mu.Unlock()

	_, err := d.client.InsertMessage(ctx, in)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.sending = false
	if !d.gen.valid(gen) {
		return err
	}
	if err != nil {
		d.sendErr = err
		return err
	}
	d.draft = ""
	d.notice = MessageSentText
	return nil
}

// Unmount закрывает карточку
func (d *ItemDetail) Unmount() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen.unmount()
}
