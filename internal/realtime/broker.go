// Package realtime раздаёт изменения строк (вставки сообщений и объявлений)
// подписчикам внутри процесса и, при наличии ретранслятора, между инстансами.
package realtime

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/rajivgeraev/marketplace-api/internal/models"
)

// Handler получает изменение строки
type Handler func(change models.Change)

// Subscription активная подписка; Unsubscribe можно вызывать повторно
type Subscription interface {
	Unsubscribe()
}

type subscriber struct {
	id      uint64
	table   string
	event   string
	handler Handler
}

// Broker рассылает изменения подписчикам по таблице и типу события
type Broker struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscriber
	relays []func(models.Change)
}

// NewBroker создает пустой брокер
func NewBroker() *Broker {
	return &Broker{subs: make(map[uint64]*subscriber)}
}

// Subscribe регистрирует обработчик изменений таблицы. Пустой event означает любое событие.
func (b *Broker) Subscribe(table, event string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := &subscriber{id: b.nextID, table: table, event: event, handler: handler}
	b.subs[s.id] = s
	return &brokerSubscription{broker: b, id: s.id}
}

// OnPublish добавляет функцию, которая получает каждое локально опубликованное изменение
// (используется ретрансляторами между инстансами)
func (b *Broker) OnPublish(fn func(models.Change)) {
	b.mu.Lock()
	b.relays = append(b.relays, fn)
	b.mu.Unlock()
}

// Publish доставляет изменение локальным подписчикам и ретрансляторам
func (b *Broker) Publish(change models.Change) {
	change = normalize(change)
	b.Deliver(change)

	b.mu.RLock()
	relays := append([]func(models.Change){}, b.relays...)
	b.mu.RUnlock()
	for _, relay := range relays {
		relay(change)
	}
}

// Deliver доставляет изменение только локальным подписчикам
func (b *Broker) Deliver(change models.Change) {
	change = normalize(change)

	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.table == change.Table && (s.event == "" || s.event == change.Type) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	// Порядок регистрации подписчиков сохраняется
	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })
	for _, s := range targets {
		deliver(s, change)
	}
}

// Count возвращает число активных подписок
func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func normalize(change models.Change) models.Change {
	if change.CommitTimestamp.IsZero() {
		change.CommitTimestamp = time.Now()
	}
	if change.Type == "" {
		change.Type = models.EventInsert
	}
	return change
}

func (b *Broker) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

func deliver(s *subscriber, change models.Change) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Паника в обработчике подписки %d на %s: %v", s.id, s.table, r)
		}
	}()
	s.handler(change)
}

type brokerSubscription struct {
	broker *Broker
	id     uint64
	once   sync.Once
}

func (s *brokerSubscription) Unsubscribe() {
	s.once.Do(func() { s.broker.remove(s.id) })
}
