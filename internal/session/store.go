// Package session хранит текущую сессию клиентской части и уведомляет подписчиков о её смене.
package session

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/rajivgeraev/marketplace-api/internal/backend"
	"github.com/rajivgeraev/marketplace-api/internal/models"
)

// Listener получает новую сессию (nil после выхода)
type Listener func(session *models.Session)

// Store общий для всех представлений кэш сессии
type Store struct {
	client backend.Client

	mu        sync.RWMutex
	session   *models.Session
	ready     bool
	nextID    uint64
	listeners map[uint64]Listener
	authSub   backend.Subscription
}

// NewStore создаёт хранилище поверх клиента бэкенда
func NewStore(client backend.Client) *Store {
	return &Store{
		client:    client,
		listeners: make(map[uint64]Listener),
	}
}

// Init читает текущую сессию и подписывается на события авторизации
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.authSub == nil {
		s.authSub = s.client.OnAuthStateChange(func(event backend.AuthEvent, session *models.Session) {
			s.set(session)
		})
	}
	s.mu.Unlock()

	session, err := s.client.Session(ctx)
	if err != nil {
		log.Printf("Ошибка получения сессии: %v", err)
		s.set(nil)
		return err
	}
	s.set(session)
	return nil
}

// Close отписывается от событий авторизации
func (s *Store) Close() {
	s.mu.Lock()
	sub := s.authSub
	s.authSub = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// Session возвращает копию текущей сессии или nil
func (s *Store) Session() *models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	snapshot := *s.session
	return &snapshot
}

// Ready сообщает, что начальная сессия уже получена
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Authenticated сообщает, есть ли вошедший пользователь
func (s *Store) Authenticated() bool {
	return s.Session() != nil
}

// UserID возвращает ID вошедшего пользователя или пустую строку
func (s *Store) UserID() string {
	return s.Session().UserID()
}

// Subscribe подписывает fn на смену сессии
func (s *Store) Subscribe(fn Listener) backend.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	return &subscription{store: s, id: id}
}

// SignOut завершает сессию через бэкенд
func (s *Store) SignOut(ctx context.Context) error {
	return s.client.SignOut(ctx)
}

func (s *Store) set(session *models.Session) {
	s.mu.Lock()
	if session != nil {
		snapshot := *session
		session = &snapshot
	}
	s.session = session
	s.ready = true
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(s.Session())
	}
}

type subscription struct {
	store *Store
	id    uint64
}

func (u *subscription) Unsubscribe() {
	u.store.mu.Lock()
	delete(u.store.listeners, u.id)
	u.store.mu.Unlock()
}
