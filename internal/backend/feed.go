package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rajivgeraev/marketplace-api/internal/models"
)

const (
	// Паузы между попытками переподключения
	minReconnectDelay = 500 * time.Millisecond
	maxReconnectDelay = 30 * time.Second

	// Сколько ждать подтверждения подписки
	ackTimeout = 5 * time.Second
)

// frame кадр сервера: изменение строки или подтверждение подписки
type frame struct {
	Type            string          `json:"type"`
	Table           string          `json:"table"`
	Record          json.RawMessage `json:"record,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
	Error           string          `json:"error,omitempty"`
}

type feedSub struct {
	table string
	fn    ChangeHandler
}

// feed держит одно WebSocket-соединение на клиента и раздаёт вставки подписчикам
type feed struct {
	url    string
	token  func() string
	dialer *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	gen    uint64
	nextID uint64
	subs   map[uint64]feedSub
	acks   map[string][]chan struct{}

	writeMu sync.Mutex
}

func newFeed(rawURL string, token func() string) *feed {
	return &feed{
		url:    rawURL,
		token:  token,
		dialer: websocket.DefaultDialer,
		subs:   make(map[uint64]feedSub),
		acks:   make(map[string][]chan struct{}),
	}
}

// subscribe регистрирует обработчик и ждёт, пока сервер подтвердит подписку на таблицу
func (f *feed) subscribe(ctx context.Context, table string, fn ChangeHandler) (Subscription, error) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	isNew := !f.hasTableLocked(table)
	f.subs[id] = feedSub{table: table, fn: fn}
	var ack chan struct{}
	if isNew {
		ack = make(chan struct{})
		f.acks[table] = append(f.acks[table], ack)
	}
	f.mu.Unlock()

	sub := &funcSubscription{fn: func() { f.unsubscribe(id, table) }}

	fresh, err := f.ensureConnected(ctx)
	if err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	if !isNew {
		return sub, nil
	}

	// Свежее соединение уже отправило подписки на все таблицы
	if !fresh {
		if err := f.send(controlFrame("subscribe", table)); err != nil {
			sub.Unsubscribe()
			return nil, err
		}
	}

	timer := time.NewTimer(ackTimeout)
	defer timer.Stop()
	select {
	case <-ack:
		return sub, nil
	case <-ctx.Done():
		sub.Unsubscribe()
		return nil, ctx.Err()
	case <-timer.C:
		sub.Unsubscribe()
		return nil, fmt.Errorf("backend: subscribe %s: no acknowledgement", table)
	}
}

func (f *feed) hasTableLocked(table string) bool {
	for _, s := range f.subs {
		if s.table == table {
			return true
		}
	}
	return false
}

func (f *feed) unsubscribe(id uint64, table string) {
	f.mu.Lock()
	delete(f.subs, id)
	last := !f.hasTableLocked(table)
	connected := f.conn != nil
	f.mu.Unlock()

	if last && connected {
		if err := f.send(controlFrame("unsubscribe", table)); err != nil {
			log.Printf("realtime: unsubscribe %s: %v", table, err)
		}
	}
}

// ensureConnected открывает соединение, если его нет; fresh сообщает, что оно новое
func (f *feed) ensureConnected(ctx context.Context) (fresh bool, err error) {
	f.mu.Lock()
	if f.conn != nil {
		f.mu.Unlock()
		return false, nil
	}
	gen := f.gen
	f.mu.Unlock()

	conn, err := f.dial(ctx)
	if err != nil {
		return false, err
	}

	f.mu.Lock()
	if f.conn != nil || f.gen != gen {
		f.mu.Unlock()
		conn.Close()
		return false, nil
	}
	f.conn = conn
	f.mu.Unlock()

	f.resubscribe(conn)
	go f.readLoop(conn, gen)
	return true, nil
}

func (f *feed) dial(ctx context.Context) (*websocket.Conn, error) {
	target := f.url + "?token=" + url.QueryEscape(f.token())
	conn, _, err := f.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("backend: realtime connect: %w", err)
	}
	return conn, nil
}

// resubscribe отправляет подписки на все таблицы, у которых есть обработчики
func (f *feed) resubscribe(conn *websocket.Conn) {
	f.mu.Lock()
	tables := make(map[string]bool)
	for _, s := range f.subs {
		tables[s.table] = true
	}
	f.mu.Unlock()

	for table := range tables {
		if err := f.write(conn, controlFrame("subscribe", table)); err != nil {
			log.Printf("realtime: subscribe %s: %v", table, err)
		}
	}
}

func (f *feed) send(v any) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("backend: realtime not connected")
	}
	return f.write(conn, v)
}

func (f *feed) write(conn *websocket.Conn, v any) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}

// readLoop раздаёт кадры, пока соединение живо, затем переподключается
func (f *feed) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		var fr frame
		if err := conn.ReadJSON(&fr); err != nil {
			conn.Close()
			f.mu.Lock()
			current := f.gen == gen && f.conn == conn
			if current {
				f.conn = nil
			}
			f.mu.Unlock()
			if current {
				log.Printf("realtime: connection lost: %v", err)
				f.reconnect(gen)
			}
			return
		}
		f.dispatch(fr)
	}
}

func (f *feed) dispatch(fr frame) {
	switch fr.Type {
	case "subscribed":
		f.mu.Lock()
		waiters := f.acks[fr.Table]
		delete(f.acks, fr.Table)
		f.mu.Unlock()
		for _, ch := range waiters {
			close(ch)
		}
	case "unsubscribed":
	case "error":
		log.Printf("realtime: server error for %q: %s", fr.Table, fr.Error)
	default:
		if len(fr.Record) == 0 {
			return
		}
		change := models.Change{Type: fr.Type, Table: fr.Table, Record: fr.Record, CommitTimestamp: fr.CommitTimestamp}

		f.mu.Lock()
		ids := make([]uint64, 0, len(f.subs))
		for id, s := range f.subs {
			if s.table == fr.Table {
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		handlers := make([]ChangeHandler, 0, len(ids))
		for _, id := range ids {
			handlers = append(handlers, f.subs[id].fn)
		}
		f.mu.Unlock()

		for _, fn := range handlers {
			fn(change)
		}
	}
}

// reconnect повторяет подключение с растущей паузой, пока есть подписчики
func (f *feed) reconnect(gen uint64) {
	delay := minReconnectDelay
	for {
		time.Sleep(delay)

		f.mu.Lock()
		stale := f.gen != gen || f.conn != nil || len(f.subs) == 0
		f.mu.Unlock()
		if stale || f.token() == "" {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := f.dial(ctx)
		cancel()
		if err != nil {
			log.Printf("realtime: reconnect failed, retry in %s: %v", delay, err)
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			continue
		}

		f.mu.Lock()
		if f.gen != gen || f.conn != nil {
			f.mu.Unlock()
			conn.Close()
			return
		}
		f.conn = conn
		f.mu.Unlock()

		f.resubscribe(conn)
		go f.readLoop(conn, gen)
		return
	}
}

// close разрывает соединение и сбрасывает подписки
func (f *feed) close() {
	f.mu.Lock()
	f.gen++
	conn := f.conn
	f.conn = nil
	f.subs = make(map[uint64]feedSub)
	f.acks = make(map[string][]chan struct{})
	f.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func controlFrame(kind, table string) map[string]string {
	return map[string]string{"type": kind, "table": table}
}
