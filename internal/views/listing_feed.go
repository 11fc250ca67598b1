package views

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/rajivgeraev/marketplace-api/internal/backend"
	"github.com/rajivgeraev/marketplace-api/internal/models"
)

// FeedState состояние ленты объявлений
type FeedState int

const (
	StateLoading FeedState = iota
	StateEmpty
	StateGrid
	StateError
)

func (s FeedState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateEmpty:
		return "empty"
	case StateGrid:
		return "grid"
	case StateError:
		return "error"
	}
	return "unknown"
}

// ItemCard карточка объявления в сетке
type ItemCard struct {
	ID          string
	Title       string
	Description string
	Price       string
	ImageURL    string
}

// ListingFeed лента доступных объявлений с поиском
type ListingFeed struct {
	client backend.Client

	mu    sync.Mutex
	gen   generation
	state FeedState
	query string
	items []models.Item
	err   error
}

// NewListingFeed создаёт ленту в состоянии загрузки
func NewListingFeed(client backend.Client) *ListingFeed {
	return &ListingFeed{client: client, state: StateLoading}
}

// Load загружает доступные объявления от новых к старым
func (f *ListingFeed) Load(ctx context.Context) error {
	return f.Search(ctx, "")
}

// Search выполняет поиск; пустой запрос возвращает обычный список.
// Каждый вызов отправляет новый полный запрос.
func (f *ListingFeed) Search(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)

	f.mu.Lock()
	if f.gen.unmounted {
		f.mu.Unlock()
		return ErrUnmounted
	}
	gen := f.gen.next()
	f.state = StateLoading
	f.query = query
	f.err = nil
	f.mu.Unlock()

	items, err := f.client.ListItems(ctx, backend.ItemQuery{Search: query})

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.gen.valid(gen) {
		return nil
	}
	if err != nil {
		log.Printf("Ошибка загрузки объявлений: %v", err)
		f.state = StateError
		f.items = nil
		f.err = err
		return err
	}

	f.items = items
	if len(items) == 0 {
		f.state = StateEmpty
	} else {
		f.state = StateGrid
	}
	return nil
}

// State возвращает текущее состояние ленты
func (f *ListingFeed) State() FeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Query возвращает последний отправленный поисковый запрос
func (f *ListingFeed) Query() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.query
}

// Err возвращает ошибку последней загрузки
func (f *ListingFeed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Items возвращает загруженные объявления
func (f *ListingFeed) Items() []models.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Item(nil), f.items...)
}

// Cards возвращает карточки для сетки
func (f *ListingFeed) Cards() []ItemCard {
	items := f.Items()
	cards := make([]ItemCard, 0, len(items))
	for _, item := range items {
		cards = append(cards, ItemCard{
			ID:          item.ID.String(),
			Title:       item.Title,
			Description: item.Description,
			Price:       FormatPrice(item.Price),
			ImageURL:    ImageOrPlaceholder(item.ImageURL),
		})
	}
	return cards
}

// Unmount закрывает ленту; незавершённые запросы будут проигнорированы
func (f *ListingFeed) Unmount() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen.unmount()
}
