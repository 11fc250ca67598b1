package models

import (
	"encoding/json"
	"time"
)

// Таблицы и события realtime-ленты
const (
	TableMessages = "messages"
	TableItems    = "items"

	EventInsert = "INSERT"
)

// Change описывает изменение строки, доставляемое подписчикам
type Change struct {
	Type            string          `json:"type"`
	Table           string          `json:"table"`
	Record          json.RawMessage `json:"record"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// DecodeMessageRow разбирает запись сообщения из изменения
func (c Change) DecodeMessageRow() (MessageRow, error) {
	var row MessageRow
	err := json.Unmarshal(c.Record, &row)
	return row, err
}
