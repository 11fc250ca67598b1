package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rajivgeraev/marketplace-api/internal/config"
)

var (
	// ErrNotFound возвращается, когда запрошенной записи нет
	ErrNotFound = errors.New("запись не найдена")
	// ErrEmailTaken возвращается при повторной регистрации email
	ErrEmailTaken = errors.New("email уже зарегистрирован")
)

// Store хранилище маркетплейса поверх пула соединений PostgreSQL
type Store struct {
	Pool *pgxpool.Pool
}

// Connect инициализирует пул соединений с базой данных
func Connect(cfg *config.Config) (*Store, error) {
	log.Printf("Подключение к базе данных %s:%s/%s\n",
		cfg.DatabaseConfig.Host, cfg.DatabaseConfig.Port, cfg.DatabaseConfig.Name)

	// Создаем контекст с таймаутом для подключения
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Настраиваем конфигурацию пула соединений
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка при разборе URL базы данных: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка при создании пула соединений: %w", err)
	}

	// Проверяем соединение
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка при проверке соединения: %w", err)
	}

	log.Println("✅ Успешное подключение к базе данных")
	return &Store{Pool: pool}, nil
}

// Close закрывает соединение с базой данных
func (s *Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// GetContext возвращает контекст с таймаутом для запросов к базе данных
func GetContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
