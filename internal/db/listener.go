package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/rajivgeraev/marketplace-api/internal/models"
)

// notification полезная нагрузка pg_notify из триггера notify_row_insert
type notification struct {
	Table string `json:"table"`
	Type  string `json:"type"`
	ID    string `json:"id"`
}

// RowLoader загружает строки, о вставке которых сообщил триггер
type RowLoader interface {
	GetMessageRow(ctx context.Context, id string) (*models.MessageRow, error)
	GetItem(ctx context.Context, id uuid.UUID) (*models.Item, error)
}

// ChangeListener слушает NOTIFY из PostgreSQL и передаёт вставки сообщений и объявлений в deliver.
// Каждый инстанс получает уведомления сам, поэтому доставка только локальная.
type ChangeListener struct {
	listener *pq.Listener
	rows     RowLoader
	deliver  func(models.Change)
}

// NewChangeListener создает слушателя канала ChangesChannel
func NewChangeListener(databaseURL string, rows RowLoader, deliver func(models.Change)) (*ChangeListener, error) {
	listener := pq.NewListener(databaseURL, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("Ошибка слушателя PostgreSQL (%d): %v", ev, err)
		}
	})
	if err := listener.Listen(ChangesChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("ошибка подписки на канал %s: %w", ChangesChannel, err)
	}

	return &ChangeListener{listener: listener, rows: rows, deliver: deliver}, nil
}

// Run обрабатывает уведомления до отмены ctx
func (l *ChangeListener) Run(ctx context.Context) {
	ticker := time.NewTicker(90 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-l.listener.Notify:
			// После переподключения приходит nil
			if n == nil {
				continue
			}
			l.handle(n.Extra)
		case <-ticker.C:
			go func() {
				if err := l.listener.Ping(); err != nil {
					log.Printf("Ошибка проверки соединения слушателя: %v", err)
				}
			}()
		}
	}
}

func (l *ChangeListener) handle(payload string) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		log.Printf("Ошибка разбора уведомления: %v", err)
		return
	}

	ctx, cancel := GetContext()
	defer cancel()

	var row any
	var err error
	switch n.Table {
	case models.TableMessages:
		row, err = l.rows.GetMessageRow(ctx, n.ID)
	case models.TableItems:
		var itemID uuid.UUID
		if itemID, err = uuid.Parse(n.ID); err == nil {
			row, err = l.rows.GetItem(ctx, itemID)
		}
	default:
		return
	}
	if err != nil {
		log.Printf("Ошибка загрузки строки %s/%s для рассылки: %v", n.Table, n.ID, err)
		return
	}

	record, err := json.Marshal(row)
	if err != nil {
		log.Printf("Ошибка сериализации строки: %v", err)
		return
	}

	l.deliver(models.Change{
		Type:            n.Type,
		Table:           n.Table,
		Record:          record,
		CommitTimestamp: time.Now(),
	})
}

// Close прекращает прослушивание
func (l *ChangeListener) Close() error {
	return l.listener.Close()
}
