package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rajivgeraev/marketplace-api/internal/db"
	"github.com/rajivgeraev/marketplace-api/internal/models"
)

// Store хранилище маркетплейса поверх SQLite для локального запуска и тестов
type Store struct {
	db *sql.DB
}

// Open открывает базу по пути dsn и применяет миграции
func Open(dsn string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы SQLite: %w", err)
	}
	// Каждое соединение с :memory: получает свою базу, держим одно
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ошибка включения внешних ключей: %w", err)
	}

	store := &Store{db: conn}
	if err := store.Migrate(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}

	log.Printf("✅ База SQLite открыта: %s", dsn)
	return store, nil
}

// Close закрывает базу
func (s *Store) Close() {
	if err := s.db.Close(); err != nil {
		log.Printf("Ошибка закрытия базы SQLite: %v", err)
	}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE,
		password_hash TEXT,
		username TEXT,
		first_name TEXT,
		last_name TEXT,
		avatar_url TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_login_at DATETIME,
		is_active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS telegram_users (
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		telegram_id INTEGER PRIMARY KEY,
		username TEXT,
		first_name TEXT,
		last_name TEXT,
		photo_url TEXT,
		is_premium INTEGER NOT NULL DEFAULT 0,
		language_code TEXT,
		raw_data TEXT,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS user_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		login_time DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		logout_time DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price REAL NOT NULL CHECK (price >= 0),
		image_url TEXT,
		status TEXT NOT NULL DEFAULT 'available',
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_items_status_created ON items(status, created_at)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		receiver_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		item_id TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		content TEXT NOT NULL CHECK (length(trim(content)) > 0),
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver_id, created_at)`,
}

// Migrate создаёт таблицы и индексы, если их ещё нет
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ошибка миграции %d: %w", i, err)
		}
	}
	return nil
}

const itemColumns = `id, title, description, price, image_url, seller_id, status, created_at`

// likeEscaper экранирует спецсимволы шаблона LIKE
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListItems возвращает доступные объявления от новых к старым.
// Непустой search ищет подстроку в названии и описании без учёта регистра.
func (s *Store) ListItems(ctx context.Context, search string) ([]models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE status = ?`
	args := []any{models.ItemStatusAvailable}

	if search = strings.TrimSpace(search); search != "" {
		pattern := "%" + likeEscaper.Replace(search) + "%"
		query += ` AND (title LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	item, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
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

	var imageURL sql.NullString
	if item.ImageURL != "" {
		imageURL = sql.NullString{String: item.ImageURL, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, title, description, price, image_url, seller_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID.String(), item.Title, item.Description, item.Price, imageURL, item.SellerID.String(), item.Status, item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ошибка сохранения объявления: %w", err)
	}
	return item, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*models.Item, error) {
	var item models.Item
	var imageURL sql.NullString

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

	item.ImageURL = imageURL.String
	return &item, nil
}

// InsertMessage сохраняет сообщение; ID и время создания заполняет вызывающий
func (s *Store) InsertMessage(ctx context.Context, msg models.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, item_id, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.SenderID, msg.ReceiverID, msg.ItemID, msg.Content, msg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("ошибка сохранения сообщения: %w", err)
	}
	return nil
}

// ListUserMessages возвращает сообщения пользователя от новых к старым с присоединёнными полями
func (s *Store) ListUserMessages(ctx context.Context, userID string) ([]models.MessageRow, error) {
	rows, err := s.db.QueryContext(ctx, db.MessageRowSelect+`
		WHERE m.sender_id = ?1 OR m.receiver_id = ?1
		ORDER BY m.created_at DESC, m.id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса сообщений: %w", err)
	}
	defer rows.Close()

	result := make([]models.MessageRow, 0)
	for rows.Next() {
		row, err := scanMessageRow(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования сообщения: %w", err)
		}
		result = append(result, *row)
	}
	return result, rows.Err()
}

// GetMessageRow возвращает одно сообщение с присоединёнными полями
func (s *Store) GetMessageRow(ctx context.Context, id string) (*models.MessageRow, error) {
	row, err := scanMessageRow(s.db.QueryRowContext(ctx, db.MessageRowSelect+` WHERE m.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения сообщения: %w", err)
	}
	return row, nil
}

// ListThread возвращает переписку двух пользователей по объявлению от старых к новым
func (s *Store) ListThread(ctx context.Context, userID, counterpartID, itemID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, item_id, content, created_at
		FROM messages
		WHERE item_id = ?3
		  AND ((sender_id = ?1 AND receiver_id = ?2) OR (sender_id = ?2 AND receiver_id = ?1))
		ORDER BY created_at ASC, id ASC
	`, userID, counterpartID, itemID)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса переписки: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.ItemID, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования сообщения: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func scanMessageRow(row scanner) (*models.MessageRow, error) {
	var r models.MessageRow
	var title, senderLabel, receiverLabel sql.NullString

	if err := row.Scan(
		&r.ID,
		&r.SenderID,
		&r.ReceiverID,
		&r.ItemID,
		&r.Content,
		&r.CreatedAt,
		&title,
		&senderLabel,
		&receiverLabel,
	); err != nil {
		return nil, err
	}

	r.ItemTitle = stringPtr(title)
	r.SenderLabel = stringPtr(senderLabel)
	r.ReceiverLabel = stringPtr(receiverLabel)
	return &r, nil
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
