package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/marketplace-api/internal/models"
)

func TestBrokerDeliversByTableAndEvent(t *testing.T) {
	b := NewBroker()

	var got []string
	b.Subscribe(models.TableMessages, models.EventInsert, func(c models.Change) {
		got = append(got, "insert:"+string(c.Record))
	})
	b.Subscribe(models.TableMessages, "", func(c models.Change) {
		got = append(got, "any:"+string(c.Record))
	})
	b.Subscribe(models.TableItems, models.EventInsert, func(c models.Change) {
		got = append(got, "items")
	})

	b.Publish(models.Change{Table: models.TableMessages, Record: json.RawMessage(`1`)})
	b.Publish(models.Change{Table: models.TableMessages, Type: "UPDATE", Record: json.RawMessage(`2`)})

	assert.Equal(t, []string{"insert:1", "any:1", "any:2"}, got)
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()

	count := 0
	sub := b.Subscribe(models.TableMessages, models.EventInsert, func(models.Change) { count++ })
	b.Publish(models.Change{Table: models.TableMessages})
	sub.Unsubscribe()
	sub.Unsubscribe()
	b.Publish(models.Change{Table: models.TableMessages})

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, b.Count())
}

func TestBrokerSurvivesPanickingHandler(t *testing.T) {
	b := NewBroker()

	delivered := false
	b.Subscribe(models.TableMessages, "", func(models.Change) { panic("boom") })
	b.Subscribe(models.TableMessages, "", func(models.Change) { delivered = true })

	require.NotPanics(t, func() { b.Publish(models.Change{Table: models.TableMessages}) })
	assert.True(t, delivered)
}

func TestBrokerRelaysOnlyPublishedChanges(t *testing.T) {
	b := NewBroker()

	var relayed []models.Change
	b.OnPublish(func(c models.Change) { relayed = append(relayed, c) })

	b.Publish(models.Change{Table: models.TableMessages})
	b.Deliver(models.Change{Table: models.TableMessages})

	require.Len(t, relayed, 1)
	assert.Equal(t, models.EventInsert, relayed[0].Type)
	assert.False(t, relayed[0].CommitTimestamp.IsZero())
}
