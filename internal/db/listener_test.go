package db

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/marketplace-api/internal/models"
)

type fakeRows struct {
	messages map[string]models.MessageRow
	items    map[uuid.UUID]models.Item
}

func (f fakeRows) GetMessageRow(_ context.Context, id string) (*models.MessageRow, error) {
	row, ok := f.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &row, nil
}

func (f fakeRows) GetItem(_ context.Context, id uuid.UUID) (*models.Item, error) {
	item, ok := f.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &item, nil
}

func TestChangeListenerDeliversEnrichedMessage(t *testing.T) {
	title := "Bike"
	rows := fakeRows{messages: map[string]models.MessageRow{"m1": {
		Message:   models.Message{ID: "m1", SenderID: "u1", ReceiverID: "u2", ItemID: "i1", Content: "hi", CreatedAt: time.Now()},
		ItemTitle: &title,
	}}}

	var got []models.Change
	l := &ChangeListener{rows: rows, deliver: func(c models.Change) { got = append(got, c) }}

	l.handle(`{"table":"messages","type":"INSERT","id":"m1"}`)
	l.handle(`{"table":"messages","type":"INSERT","id":"missing"}`)
	l.handle(`{"table":"items","type":"INSERT","id":"i1"}`)
	l.handle(`{"table":"users","type":"INSERT","id":"u1"}`)
	l.handle(`not json`)

	require.Len(t, got, 1)
	assert.Equal(t, models.TableMessages, got[0].Table)
	assert.Equal(t, models.EventInsert, got[0].Type)

	row, err := got[0].DecodeMessageRow()
	require.NoError(t, err)
	assert.Equal(t, "m1", row.ID)
	assert.Equal(t, "hi", row.Content)
	require.NotNil(t, row.ItemTitle)
	assert.Equal(t, "Bike", *row.ItemTitle)
}

func TestChangeListenerDeliversItems(t *testing.T) {
	item := models.Item{ID: uuid.New(), Title: "Lamp", Status: models.ItemStatusAvailable}
	rows := fakeRows{items: map[uuid.UUID]models.Item{item.ID: item}}

	var got []models.Change
	l := &ChangeListener{rows: rows, deliver: func(c models.Change) { got = append(got, c) }}
	l.handle(`{"table":"items","type":"INSERT","id":"` + item.ID.String() + `"}`)
	l.handle(`{"table":"items","type":"INSERT","id":"` + uuid.NewString() + `"}`)

	require.Len(t, got, 1)
	assert.Equal(t, models.TableItems, got[0].Table)

	var decoded models.Item
	require.NoError(t, json.Unmarshal(got[0].Record, &decoded))
	assert.Equal(t, item.ID, decoded.ID)
	assert.Equal(t, "Lamp", decoded.Title)
}

func TestLabelExprFallsBackToID(t *testing.T) {
	expr := LabelExpr("s")
	assert.Contains(t, expr, "NULLIF(s.email, '')")
	assert.Contains(t, expr, "CAST(s.id AS TEXT)")
}
