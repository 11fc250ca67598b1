// Package conversation сворачивает плоский список сообщений пользователя
// в переписки: одна запись на пару (объявление, собеседник), с последним сообщением.
package conversation

import (
	"sort"
	"sync"

	"github.com/rajivgeraev/marketplace-api/internal/models"
)

// Подстановки для присоединённых полей, которых нет в строке
const (
	UnknownItemTitle = "Unknown item"
)

// Aggregate строит список переписок userID из его сообщений.
// Порядок входа не важен: строки обходятся от новых к старым, и для каждого ключа
// остаётся первая встреченная, то есть самая новая. Результат упорядочен так же.
func Aggregate(userID string, rows []models.MessageRow) []models.Conversation {
	ordered := make([]models.MessageRow, 0, len(rows))
	for _, row := range rows {
		if row.Involves(userID) {
			ordered = append(ordered, row)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return newer(ordered[i].Message, ordered[j].Message)
	})

	seen := make(map[models.ConversationID]struct{}, len(ordered))
	conversations := make([]models.Conversation, 0)
	for _, row := range ordered {
		conv := snapshot(userID, row)
		key := conv.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		conversations = append(conversations, conv)
	}
	return conversations
}

// snapshot фиксирует переписку по одной строке
func snapshot(userID string, row models.MessageRow) models.Conversation {
	other := row.CounterpartOf(userID)

	title := UnknownItemTitle
	if row.ItemTitle != nil {
		title = *row.ItemTitle
	}

	label := other
	otherLabel := row.SenderLabel
	if row.SenderID == userID {
		otherLabel = row.ReceiverLabel
	}
	if otherLabel != nil && *otherLabel != "" {
		label = *otherLabel
	}

	return models.Conversation{
		ItemID:          row.ItemID,
		ItemTitle:       title,
		OtherUserID:     other,
		OtherUserLabel:  label,
		LastMessage:     row.Content,
		LastMessageID:   row.ID,
		LastMessageTime: row.CreatedAt,
	}
}

// newer сравнивает сообщения по времени, при равенстве по ID (ULID растёт со временем)
func newer(a, b models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// Set хранит переписки пользователя и обновляет их по одной строке,
// без повторной выборки всей истории
type Set struct {
	mu     sync.RWMutex
	userID string
	convs  map[models.ConversationID]models.Conversation
}

// NewSet создаёт пустой набор переписок пользователя
func NewSet(userID string) *Set {
	return &Set{
		userID: userID,
		convs:  make(map[models.ConversationID]models.Conversation),
	}
}

// Reset пересчитывает набор по выборке строк. Выборка могла устареть, пока шла по сети:
// сообщения только добавляются, поэтому уже известная более новая запись остаётся,
// а переписки, которых в выборке нет, сохраняются.
func (s *Set) Reset(rows []models.MessageRow) {
	fetched := Aggregate(s.userID, rows)

	s.mu.Lock()
	defer s.mu.Unlock()
	convs := make(map[models.ConversationID]models.Conversation, len(fetched)+len(s.convs))
	for _, c := range fetched {
		convs[c.Key()] = c
	}
	for key, cur := range s.convs {
		got, ok := convs[key]
		if !ok {
			convs[key] = cur
			continue
		}
		if !newer(lastMessage(cur), lastMessage(got)) {
			continue
		}
		// Подписи из выборки точнее, чем у строки без присоединённых полей
		if cur.ItemTitle == UnknownItemTitle {
			cur.ItemTitle = got.ItemTitle
		}
		if cur.OtherUserLabel == cur.OtherUserID {
			cur.OtherUserLabel = got.OtherUserLabel
		}
		convs[key] = cur
	}
	s.convs = convs
}

func lastMessage(c models.Conversation) models.Message {
	return models.Message{ID: c.LastMessageID, CreatedAt: c.LastMessageTime}
}

// Upsert учитывает одно новое сообщение. Возвращает true, если набор изменился.
// Более старое сообщение не вытесняет уже известное новое.
func (s *Set) Upsert(row models.MessageRow) bool {
	if !row.Involves(s.userID) {
		return false
	}
	conv := snapshot(s.userID, row)
	key := conv.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.convs[key]; ok {
		if !newer(row.Message, lastMessage(cur)) {
			return false
		}
		// В realtime-строке присоединённых полей может не быть, сохраняем известные
		if row.ItemTitle == nil {
			conv.ItemTitle = cur.ItemTitle
		}
		if conv.OtherUserLabel == conv.OtherUserID {
			conv.OtherUserLabel = cur.OtherUserLabel
		}
	}
	s.convs[key] = conv
	return true
}

// Has сообщает, известна ли переписка с таким ключом
func (s *Set) Has(itemID, otherUserID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.convs[models.ConversationKey(itemID, otherUserID)]
	return ok
}

// Len возвращает число переписок
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

// List возвращает переписки от самой свежей к самой старой
func (s *Set) List() []models.Conversation {
	s.mu.RLock()
	list := make([]models.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		list = append(list, c)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return newer(lastMessage(list[i]), lastMessage(list[j]))
	})
	return list
}
