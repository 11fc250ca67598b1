package websocket

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/rajivgeraev/marketplace-api/internal/models"
	"github.com/rajivgeraev/marketplace-api/internal/realtime"
)

// Manager представляет центральный менеджер для всех WebSocket соединений
type Manager struct {
	clients      map[uuid.UUID]*Client
	clientsMutex sync.RWMutex
	userClients  map[string]map[uuid.UUID]bool // userID -> map[clientID]bool
	userMutex    sync.RWMutex
	subs         []realtime.Subscription
}

// NewManager создает новый экземпляр Manager
func NewManager() *Manager {
	return &Manager{
		clients:     make(map[uuid.UUID]*Client),
		userClients: make(map[string]map[uuid.UUID]bool),
	}
}

// Attach подписывает менеджер на вставки сообщений и объявлений из брокера
func (m *Manager) Attach(broker *realtime.Broker) {
	m.subs = append(m.subs,
		broker.Subscribe(models.TableMessages, models.EventInsert, m.routeMessage),
		broker.Subscribe(models.TableItems, models.EventInsert, m.routeItem),
	)
}

// routeMessage доставляет вставку сообщения только его отправителю и получателю
func (m *Manager) routeMessage(change models.Change) {
	row, err := change.DecodeMessageRow()
	if err != nil {
		log.Printf("Ошибка разбора сообщения для рассылки: %v", err)
		return
	}

	frame, err := json.Marshal(change)
	if err != nil {
		log.Printf("Error marshaling change: %v", err)
		return
	}

	m.SendToUser(row.SenderID, change.Table, frame)
	if row.ReceiverID != row.SenderID {
		m.SendToUser(row.ReceiverID, change.Table, frame)
	}
}

// routeItem рассылает новое объявление всем подписанным клиентам
func (m *Manager) routeItem(change models.Change) {
	frame, err := json.Marshal(change)
	if err != nil {
		log.Printf("Error marshaling change: %v", err)
		return
	}

	m.clientsMutex.RLock()
	targets := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		targets = append(targets, client)
	}
	m.clientsMutex.RUnlock()

	for _, client := range targets {
		m.enqueue(client, change.Table, frame)
	}
}

// AddClient регистрирует нового клиента
func (m *Manager) AddClient(client *Client) {
	m.clientsMutex.Lock()
	m.clients[client.ID] = client
	m.clientsMutex.Unlock()

	// Связываем клиент с пользователем
	m.userMutex.Lock()
	if _, exists := m.userClients[client.UserID]; !exists {
		m.userClients[client.UserID] = make(map[uuid.UUID]bool)
	}
	m.userClients[client.UserID][client.ID] = true
	m.userMutex.Unlock()

	log.Printf("WebSocket client %s connected for user %s", client.ID, client.UserID)
}

// RemoveClient удаляет клиента
func (m *Manager) RemoveClient(clientID uuid.UUID) {
	m.clientsMutex.Lock()
	client, exists := m.clients[clientID]
	delete(m.clients, clientID)
	m.clientsMutex.Unlock()

	if !exists {
		return
	}

	// Удаляем клиент из связи с пользователем
	m.userMutex.Lock()
	if clients, ok := m.userClients[client.UserID]; ok {
		delete(clients, clientID)
		// Если это был последний клиент пользователя, удаляем запись пользователя
		if len(clients) == 0 {
			delete(m.userClients, client.UserID)
		}
	}
	m.userMutex.Unlock()

	client.close()
	log.Printf("WebSocket client %s disconnected for user %s", clientID, client.UserID)
}

// SendToUser отправляет кадр всем соединениям пользователя, подписанным на таблицу
func (m *Manager) SendToUser(userID, table string, frame []byte) {
	if userID == "" {
		return
	}

	m.userMutex.RLock()
	clientIDs := make([]uuid.UUID, 0, len(m.userClients[userID]))
	for clientID := range m.userClients[userID] {
		clientIDs = append(clientIDs, clientID)
	}
	m.userMutex.RUnlock()

	for _, clientID := range clientIDs {
		m.clientsMutex.RLock()
		client, exists := m.clients[clientID]
		m.clientsMutex.RUnlock()

		if exists {
			m.enqueue(client, table, frame)
		}
	}
}

// enqueue кладёт кадр в очередь клиента, не блокируясь
func (m *Manager) enqueue(client *Client, table string, frame []byte) {
	if !client.Subscribed(table) {
		return
	}
	if !client.trySend(frame) {
		// Канал заполнен, клиент слишком медленный - закрываем соединение
		log.Printf("Send channel full for client %s, closing connection", client.ID)
		m.RemoveClient(client.ID)
	}
}

// Count возвращает число подключенных клиентов
func (m *Manager) Count() int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	return len(m.clients)
}

// Shutdown корректно завершает работу менеджера WebSocket
func (m *Manager) Shutdown() {
	for _, sub := range m.subs {
		sub.Unsubscribe()
	}
	m.subs = nil

	m.clientsMutex.Lock()
	clients := m.clients
	m.clients = make(map[uuid.UUID]*Client)
	m.clientsMutex.Unlock()

	m.userMutex.Lock()
	m.userClients = make(map[string]map[uuid.UUID]bool)
	m.userMutex.Unlock()

	for _, client := range clients {
		client.close()
	}
}
