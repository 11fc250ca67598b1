package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rajivgeraev/marketplace-api/internal/models"
)

const itemColumns = `id, title, description, price, image_url, seller_id, status, created_at`

// ListItems возвращает доступные объявления от новых к старым.
// Непустой search заменяет выборку полнотекстовым поиском по search_vector.
func (s *Store) ListItems(ctx context.Context, search string) ([]models.Item, error) {
	var rows pgx.Rows
	var err error

	if search == "" {
		rows, err = s.Pool.Query(ctx, `
			SELECT `+itemColumns+`
			FROM items
			WHERE status = $1
			ORDER BY created_at DESC
		`, models.ItemStatusAvailable)
	} else {
		rows, err = s.Pool.Query(ctx, `
			SELECT `+itemColumns+`
			FROM items, websearch_to_tsquery('simple', $2) AS query
			WHERE status = $1 AND search_vector @@ query
			ORDER BY ts_rank(search_vector, query) DESC, created_at DESC
		`, models.ItemStatusAvailable, search)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса объявлений: %w", err)
	}
	defer rows.Close()

	items := make([]models.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования объявления: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// GetItem возвращает объявление по ID
func (s *Store) GetItem(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения объявления: %w", err)
	}
	return item, nil
}

// CreateItem сохраняет новое объявление продавца со статусом available
func (s *Store) CreateItem(ctx context.Context, sellerID uuid.UUID, in models.NewItem) (*models.Item, error) {
	item := &models.Item{
		ID:          uuid.New(),
		Title:       in.Title,
		Description: in.Description,
		Price:       models.RoundPrice(in.Price),
		ImageURL:    in.ImageURL,
		SellerID:    sellerID,
		Status:      models.ItemStatusAvailable,
		CreatedAt:   time.Now().UTC(),
	}

	var imageURL *string
	if item.ImageURL != "" {
		imageURL = &item.ImageURL
	}

	_, err := s.Pool.Exec(ctx, `
		INSERT INTO items (id, title, description, price, image_url, seller_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.Title, item.Description, item.Price, imageURL, item.SellerID, item.Status, item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ошибка сохранения объявления: %w", err)
	}
	return item, nil
}

func scanItem(row pgx.Row) (*models.Item, error) {
	var item models.Item
	var imageURL pgtype.Text

	if err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Description,
		&item.Price,
		&imageURL,
		&item.SellerID,
		&item.Status,
		&item.CreatedAt,
	); err != nil {
		return nil, err
	}

	if imageURL.Valid {
		item.ImageURL = imageURL.String
	}
	return &item, nil
}
