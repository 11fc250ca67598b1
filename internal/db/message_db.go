package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rajivgeraev/marketplace-api/internal/models"
)

// LabelExpr строит SQL-выражение отображаемого имени пользователя из алиаса users.
// Выражение равно NULL, если строка пользователя не присоединилась.
func LabelExpr(alias string) string {
	return `COALESCE(NULLIF(` + alias + `.email, ''), NULLIF(` + alias + `.username, ''), ` +
		`NULLIF(TRIM(COALESCE(` + alias + `.first_name, '') || ' ' || COALESCE(` + alias + `.last_name, '')), ''), ` +
		`CAST(` + alias + `.id AS TEXT))`
}

// MessageRowSelect общая часть выборки сообщений с присоединёнными полями
var MessageRowSelect = `
	SELECT CAST(m.id AS TEXT), CAST(m.sender_id AS TEXT), CAST(m.receiver_id AS TEXT),
	       CAST(m.item_id AS TEXT), m.content, m.created_at,
	       i.title, ` + LabelExpr("s") + `, ` + LabelExpr("r") + `
	FROM messages m
	LEFT JOIN items i ON i.id = m.item_id
	LEFT JOIN users s ON s.id = m.sender_id
	LEFT JOIN users r ON r.id = m.receiver_id
`

// InsertMessage сохраняет сообщение; ID и время создания заполняет вызывающий
func (s *Store) InsertMessage(ctx context.Context, msg models.Message) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, item_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.SenderID, msg.ReceiverID, msg.ItemID, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения сообщения: %w", err)
	}
	return nil
}

// ListUserMessages возвращает все сообщения, где пользователь отправитель или получатель,
// от новых к старым, вместе с названием объявления и именами участников
func (s *Store) ListUserMessages(ctx context.Context, userID string) ([]models.MessageRow, error) {
	rows, err := s.Pool.Query(ctx, MessageRowSelect+`
		WHERE m.sender_id = $1 OR m.receiver_id = $1
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
	row, err := scanMessageRow(s.Pool.QueryRow(ctx, MessageRowSelect+` WHERE m.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения сообщения: %w", err)
	}
	return row, nil
}

// ListThread возвращает переписку двух пользователей по объявлению от старых к новым
func (s *Store) ListThread(ctx context.Context, userID, counterpartID, itemID string) ([]models.Message, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, CAST(sender_id AS TEXT), CAST(receiver_id AS TEXT), CAST(item_id AS TEXT), content, created_at
		FROM messages
		WHERE item_id = $3
		  AND ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
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

func scanMessageRow(row pgx.Row) (*models.MessageRow, error) {
	var r models.MessageRow
	var title, senderLabel, receiverLabel pgtype.Text

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

	r.ItemTitle = textPtr(title)
	r.SenderLabel = textPtr(senderLabel)
	r.ReceiverLabel = textPtr(receiverLabel)
	return &r, nil
}

// textPtr преобразует nullable-поле в указатель
func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}
