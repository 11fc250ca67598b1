package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rajivgeraev/marketplace-api/internal/models"
)

const (
	// Максимальное время ожидания для pong от клиента
	pongWait = 60 * time.Second

	// Отправлять ping-сообщения клиенту с этим интервалом
	pingPeriod = (pongWait * 9) / 10

	// Таймаут записи одного кадра
	writeWait = 10 * time.Second

	// Максимальный размер сообщения от клиента
	maxMessageSize = 4 * 1024

	// Размер буфера для отправляемых сообщений
	writeBufferSize = 256
)

// Типы управляющих кадров от клиента и подтверждений сервера
const (
	FrameSubscribe    = "subscribe"
	FrameUnsubscribe  = "unsubscribe"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameError        = "error"
)

// ControlFrame управляющий кадр подписки
type ControlFrame struct {
	Type  string `json:"type"`
	Table string `json:"table,omitempty"`
	Error string `json:"error,omitempty"`
}

// Client представляет собой отдельное WebSocket соединение
type Client struct {
	ID      uuid.UUID
	UserID  string
	conn    *websocket.Conn
	send    chan []byte // Буферизованный канал исходящих сообщений
	manager *Manager

	mu     sync.RWMutex
	tables map[string]bool
	closed bool
	done   chan struct{}
}

// NewClient создает новый экземпляр Client
func NewClient(userID string, conn *websocket.Conn, manager *Manager) *Client {
	return &Client{
		ID:      uuid.New(),
		UserID:  userID,
		conn:    conn,
		send:    make(chan []byte, writeBufferSize),
		manager: manager,
		tables:  make(map[string]bool),
		done:    make(chan struct{}),
	}
}

// Start запускает клиентские горутины для чтения и записи
func (c *Client) Start() {
	// Добавляем клиент к менеджеру
	c.manager.AddClient(c)

	// Запускаем горутины для чтения и записи
	go c.readPump()
	go c.writePump()
}

// Subscribed сообщает, подписан ли клиент на таблицу
func (c *Client) Subscribed(table string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tables[table]
}

// trySend ставит кадр в очередь; false означает переполнение очереди
func (c *Client) trySend(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close останавливает writePump и закрывает соединение
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	c.conn.Close()
}

// readPump обрабатывает входящие сообщения от клиента
func (c *Client) readPump() {
	defer c.manager.RemoveClient(c.ID)

	// Настраиваем соединение
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Бесконечный цикл чтения сообщений
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("Unexpected close error: %v", err)
			}
			return
		}

		// Обрабатываем входящее сообщение
		c.handleIncomingMessage(message)
	}
}

// writePump отправляет сообщения клиенту
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Error writing message: %v", err)
				c.manager.RemoveClient(c.ID)
				return
			}
		case <-ticker.C:
			// Отправляем ping для поддержания соединения
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.manager.RemoveClient(c.ID)
				return
			}
		case <-c.done:
			// Соединение закрыто
			return
		}
	}
}

// handleIncomingMessage обрабатывает управляющие кадры подписки
func (c *Client) handleIncomingMessage(message []byte) {
	var frame ControlFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		log.Printf("Error unmarshaling frame: %v", err)
		c.reply(ControlFrame{Type: FrameError, Error: "invalid frame"})
		return
	}

	if frame.Table != models.TableMessages && frame.Table != models.TableItems {
		c.reply(ControlFrame{Type: FrameError, Table: frame.Table, Error: "unknown table"})
		return
	}

	switch frame.Type {
	case FrameSubscribe:
		c.mu.Lock()
		c.tables[frame.Table] = true
		c.mu.Unlock()
		c.reply(ControlFrame{Type: FrameSubscribed, Table: frame.Table})
	case FrameUnsubscribe:
		c.mu.Lock()
		delete(c.tables, frame.Table)
		c.mu.Unlock()
		c.reply(ControlFrame{Type: FrameUnsubscribed, Table: frame.Table})
	default:
		log.Printf("Unhandled frame type: %s", frame.Type)
		c.reply(ControlFrame{Type: FrameError, Error: "unknown frame type"})
	}
}

func (c *Client) reply(frame ControlFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if !c.trySend(data) {
		c.manager.RemoveClient(c.ID)
	}
}
