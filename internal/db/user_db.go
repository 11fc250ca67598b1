package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rajivgeraev/marketplace-api/internal/models"
)

// uniqueViolation код ошибки PostgreSQL при нарушении уникальности
const uniqueViolation = "23505"

const userColumns = `id, email, username, first_name, last_name, avatar_url`

// CreateUser регистрирует пользователя по email и хешу пароля
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	var userID uuid.UUID
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, last_login_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		RETURNING id
	`, email, passwordHash).Scan(&userID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("ошибка при создании пользователя: %w", err)
	}

	return &models.User{ID: userID, Email: email}, nil
}

// GetUserCredentials возвращает пользователя и хеш пароля по email
func (s *Store) GetUserCredentials(ctx context.Context, email string) (*models.User, string, error) {
	var hash pgtype.Text
	user, err := scanUser(s.Pool.QueryRow(ctx, `
		SELECT `+userColumns+`, password_hash
		FROM users
		WHERE email = $1 AND is_active
	`, email), &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("ошибка при получении пользователя: %w", err)
	}

	if _, err := s.Pool.Exec(ctx, `UPDATE users SET last_login_at = CURRENT_TIMESTAMP WHERE id = $1`, user.ID); err != nil {
		return nil, "", fmt.Errorf("ошибка при обновлении времени входа пользователя: %w", err)
	}

	return user, hash.String, nil
}

// GetUserByID получает пользователя по ID
func (s *Store) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := scanUser(s.Pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка при получении пользователя: %w", err)
	}
	return user, nil
}

// UpsertTelegramUser создает нового пользователя через Telegram или обновляет существующего
func (s *Store) UpsertTelegramUser(ctx context.Context, tg models.TelegramProfile) (*models.User, error) {
	// Начинаем транзакцию
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка при начале транзакции: %w", err)
	}
	defer tx.Rollback(ctx) // Откатываем транзакцию в случае ошибки

	var userID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT user_id FROM telegram_users WHERE telegram_id = $1`, tg.TelegramID).Scan(&userID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ошибка при проверке существования пользователя Telegram: %w", err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		// Создаем запись в users
		err = tx.QueryRow(ctx, `
			INSERT INTO users (first_name, last_name, username, avatar_url, last_login_at)
			VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
			RETURNING id
		`, tg.FirstName, tg.LastName, tg.Username, tg.PhotoURL).Scan(&userID)
		if err != nil {
			return nil, fmt.Errorf("ошибка при создании пользователя: %w", err)
		}

		// Создаем запись в telegram_users
		_, err = tx.Exec(ctx, `
			INSERT INTO telegram_users (user_id, telegram_id, username, first_name, last_name, photo_url, is_premium, language_code, raw_data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, userID, tg.TelegramID, tg.Username, tg.FirstName, tg.LastName, tg.PhotoURL, tg.IsPremium, tg.LanguageCode, tg.RawData)
		if err != nil {
			return nil, fmt.Errorf("ошибка при создании Telegram пользователя: %w", err)
		}
	} else {
		// Обновляем профиль и время входа существующего пользователя
		_, err = tx.Exec(ctx, `
			UPDATE users
			SET first_name = $1, last_name = $2, username = $3, avatar_url = $4,
			    last_login_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			WHERE id = $5
		`, tg.FirstName, tg.LastName, tg.Username, tg.PhotoURL, userID)
		if err != nil {
			return nil, fmt.Errorf("ошибка при обновлении пользователя: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE telegram_users
			SET username = $1, first_name = $2, last_name = $3, photo_url = $4,
			    is_premium = $5, language_code = $6, raw_data = $7, updated_at = CURRENT_TIMESTAMP
			WHERE telegram_id = $8
		`, tg.Username, tg.FirstName, tg.LastName, tg.PhotoURL, tg.IsPremium, tg.LanguageCode, tg.RawData, tg.TelegramID)
		if err != nil {
			return nil, fmt.Errorf("ошибка при обновлении Telegram пользователя: %w", err)
		}
	}

	user, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении пользователя: %w", err)
	}

	// Фиксируем транзакцию
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка при фиксации транзакции: %w", err)
	}
	return user, nil
}

// OpenSession создает запись в user_sessions и возвращает её ID
func (s *Store) OpenSession(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	var sessionID uuid.UUID
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO user_sessions (user_id, login_time)
		VALUES ($1, CURRENT_TIMESTAMP)
		RETURNING id
	`, userID).Scan(&sessionID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ошибка при создании сессии пользователя: %w", err)
	}
	return sessionID, nil
}

// CloseSession отмечает время выхода для сессии пользователя
func (s *Store) CloseSession(ctx context.Context, sessionID, userID uuid.UUID) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE user_sessions
		SET logout_time = CURRENT_TIMESTAMP
		WHERE id = $1 AND user_id = $2 AND logout_time IS NULL
	`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("ошибка при закрытии сессии пользователя: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanUser читает пользователя; extra получает дополнительные колонки после основных
func scanUser(row pgx.Row, extra ...any) (*models.User, error) {
	var user models.User
	var email, username, firstName, lastName, avatarURL pgtype.Text

	dest := append([]any{&user.ID, &email, &username, &firstName, &lastName, &avatarURL}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	// Преобразуем nullable поля
	user.Email = email.String
	user.Username = username.String
	user.FirstName = firstName.String
	user.LastName = lastName.String
	user.AvatarURL = avatarURL.String
	return &user, nil
}
