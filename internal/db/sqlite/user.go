package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/rajivgeraev/marketplace-api/internal/db"
	"github.com/rajivgeraev/marketplace-api/internal/models"
)

const userColumns = `id, email, username, first_name, last_name, avatar_url`

// CreateUser регистрирует пользователя по email и хешу пароля
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	userID := uuid.New()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, last_login_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	`, userID.String(), email, passwordHash)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, db.ErrEmailTaken
		}
		return nil, fmt.Errorf("ошибка при создании пользователя: %w", err)
	}
	return &models.User{ID: userID, Email: email}, nil
}

// GetUserCredentials возвращает пользователя и хеш пароля по email
func (s *Store) GetUserCredentials(ctx context.Context, email string) (*models.User, string, error) {
	var hash sql.NullString
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`, password_hash
		FROM users
		WHERE email = ? AND is_active = 1
	`, email), &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", db.ErrNotFound
		}
		return nil, "", fmt.Errorf("ошибка при получении пользователя: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE users SET last_login_at = CURRENT_TIMESTAMP WHERE id = ?`, user.ID.String()); err != nil {
		return nil, "", fmt.Errorf("ошибка при обновлении времени входа пользователя: %w", err)
	}
	return user, hash.String, nil
}

// GetUserByID получает пользователя по ID
func (s *Store) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка при получении пользователя: %w", err)
	}
	return user, nil
}

// UpsertTelegramUser создает пользователя Telegram или обновляет его профиль
func (s *Store) UpsertTelegramUser(ctx context.Context, tg models.TelegramProfile) (*models.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка при начале транзакции: %w", err)
	}
	defer tx.Rollback()

	var userID string
	err = tx.QueryRowContext(ctx, `SELECT user_id FROM telegram_users WHERE telegram_id = ?`, tg.TelegramID).Scan(&userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		userID = uuid.NewString()
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO users (id, first_name, last_name, username, avatar_url, last_login_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		`, userID, tg.FirstName, tg.LastName, tg.Username, tg.PhotoURL); err != nil {
			return nil, fmt.Errorf("ошибка при создании пользователя: %w", err)
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO telegram_users (user_id, telegram_id, username, first_name, last_name, photo_url, is_premium, language_code, raw_data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, userID, tg.TelegramID, tg.Username, tg.FirstName, tg.LastName, tg.PhotoURL, tg.IsPremium, tg.LanguageCode, string(tg.RawData)); err != nil {
			return nil, fmt.Errorf("ошибка при создании Telegram пользователя: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("ошибка при проверке существования пользователя Telegram: %w", err)
	default:
		if _, err = tx.ExecContext(ctx, `
			UPDATE users
			SET first_name = ?, last_name = ?, username = ?, avatar_url = ?,
			    last_login_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, tg.FirstName, tg.LastName, tg.Username, tg.PhotoURL, userID); err != nil {
			return nil, fmt.Errorf("ошибка при обновлении пользователя: %w", err)
		}
		if _, err = tx.ExecContext(ctx, `
			UPDATE telegram_users
			SET username = ?, first_name = ?, last_name = ?, photo_url = ?,
			    is_premium = ?, language_code = ?, raw_data = ?, updated_at = CURRENT_TIMESTAMP
			WHERE telegram_id = ?
		`, tg.Username, tg.FirstName, tg.LastName, tg.PhotoURL, tg.IsPremium, tg.LanguageCode, string(tg.RawData), tg.TelegramID); err != nil {
			return nil, fmt.Errorf("ошибка при обновлении Telegram пользователя: %w", err)
		}
	}

	user, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении пользователя: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("ошибка при фиксации транзакции: %w", err)
	}
	return user, nil
}

// OpenSession создает запись в user_sessions и возвращает её ID
func (s *Store) OpenSession(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	sessionID := uuid.New()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_sessions (id, user_id, login_time)
		VALUES (?, ?, CURRENT_TIMESTAMP)
	`, sessionID.String(), userID.String())
	if err != nil {
		return uuid.Nil, fmt.Errorf("ошибка при создании сессии пользователя: %w", err)
	}
	return sessionID, nil
}

// CloseSession отмечает время выхода для сессии пользователя
func (s *Store) CloseSession(ctx context.Context, sessionID, userID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_sessions
		SET logout_time = CURRENT_TIMESTAMP
		WHERE id = ? AND user_id = ? AND logout_time IS NULL
	`, sessionID.String(), userID.String())
	if err != nil {
		return fmt.Errorf("ошибка при закрытии сессии пользователя: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка при закрытии сессии пользователя: %w", err)
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}

func scanUser(row scanner, extra ...any) (*models.User, error) {
	var user models.User
	var email, username, firstName, lastName, avatarURL sql.NullString

	dest := append([]any{&user.ID, &email, &username, &firstName, &lastName, &avatarURL}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	user.Email = email.String
	user.Username = username.String
	user.FirstName = firstName.String
	user.LastName = lastName.String
	user.AvatarURL = avatarURL.String
	return &user, nil
}
