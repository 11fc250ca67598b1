package views

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/rajivgeraev/marketplace-api/internal/backend"
	"github.com/rajivgeraev/marketplace-api/internal/models"
	"github.com/rajivgeraev/marketplace-api/internal/session"
)

var (
	errTitleRequired = errors.New("title is required")
	errInvalidPrice  = errors.New("price must be a number")
	errNegativePrice = errors.New("price cannot be negative")
)

// ItemForm поля формы нового объявления в том виде, как их ввёл пользователь
type ItemForm struct {
	Title       string
	Description string
	Price       string
	ImageURL    string
}

// Validate проверяет форму и собирает данные объявления
func (f ItemForm) Validate() (models.NewItem, error) {
	title := strings.TrimSpace(f.Title)
	if title == "" {
		return models.NewItem{}, errTitleRequired
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(f.Price), 64)
	if err != nil {
		return models.NewItem{}, errInvalidPrice
	}
	if price < 0 {
		return models.NewItem{}, errNegativePrice
	}
	return models.NewItem{
		Title:       title,
		Description: strings.TrimSpace(f.Description),
		Price:       models.RoundPrice(price),
		ImageURL:    strings.TrimSpace(f.ImageURL),
	}, nil
}

// NewItem форма размещения объявления
type NewItem struct {
	client   backend.Client
	sessions *session.Store

	mu         sync.Mutex
	gen        generation
	form       ItemForm
	submitting bool
	err        error
}

// NewNewItem создаёт форму нового объявления
func NewNewItem(client backend.Client, sessions *session.Store) *NewItem {
	return &NewItem{client: client, sessions: sessions}
}

// SetForm заменяет значения полей
func (n *NewItem) SetForm(form ItemForm) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.form = form
}

// Form возвращает значения полей
func (n *NewItem) Form() ItemForm {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.form
}

// Err возвращает ошибку последней отправки
func (n *NewItem) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Submit размещает объявление от имени текущего пользователя и возвращает его ID
func (n *NewItem) Submit(ctx context.Context) (string, error) {
	sellerID := n.sessions.UserID()

	n.mu.Lock()
	if n.gen.unmounted {
		n.mu.Unlock()
		return "", ErrUnmounted
	}
	if sellerID == "" {
		n.err = ErrNotSignedIn
		n.mu.Unlock()
		return "", ErrNotSignedIn
	}
	in, err := n.form.Validate()
	if err != nil {
		n.err = err
		n.mu.Unlock()
		return "", err
	}
	in.SellerID = sellerID
	n.submitting = true
	n.err = nil
	gen := n.gen.next()
	n.mu.Unlock()

	item, err := n.client.InsertItem(ctx, in)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.submitting = false
	if !n.gen.valid(gen) {
		return "", ErrUnmounted
	}
	if err != nil {
		n.err = err
		return "", err
	}
	n.form = ItemForm{}
	return item.ID.String(), nil
}

// Unmount закрывает форму
func (n *NewItem) Unmount() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.gen.unmount()
}
