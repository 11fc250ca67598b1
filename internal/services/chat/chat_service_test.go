package chat

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/marketplace-api/internal/db/sqlite"
	"github.com/rajivgeraev/marketplace-api/internal/models"
	"github.com/rajivgeraev/marketplace-api/internal/utils"
)

type recordingPublisher struct {
	mu      sync.Mutex
	changes []models.Change
}

func (p *recordingPublisher) Publish(change models.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
}

type testEnv struct {
	app       *fiber.App
	store     *sqlite.Store
	publisher *recordingPublisher
	jwt       *utils.JWTService
	seller    *models.User
	buyer     *models.User
	item      *models.Item
	clock     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)

	seller, err := store.CreateUser(ctx, "seller@example.com", "hash")
	require.NoError(t, err)
	buyer, err := store.CreateUser(ctx, "buyer@example.com", "hash")
	require.NoError(t, err)
	item, err := store.CreateItem(ctx, seller.ID, models.NewItem{Title: "Bike", Price: 10})
	require.NoError(t, err)

	env := &testEnv{
		store:     store,
		publisher: &recordingPublisher{},
		jwt:       utils.NewJWTService("secret", time.Hour),
		seller:    seller,
		buyer:     buyer,
		item:      item,
		clock:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	svc := NewChatService(store, env.publisher, env.jwt)
	svc.now = func() time.Time {
		env.clock = env.clock.Add(time.Minute)
		return env.clock
	}

	env.app = fiber.New()
	svc.SetupRoutes(env.app)
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string, user *models.User, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		token, _, err := e.jwt.GenerateToken(user.ID, uuid.Nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.app.Test(req)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *testEnv) send(t *testing.T, from, to *models.User, content string) models.MessageRow {
	t.Helper()
	var row models.MessageRow
	body := `{"receiver_id":"` + to.ID.String() + `","item_id":"` + e.item.ID.String() + `","content":"` + content + `"}`
	status := e.do(t, "POST", "/api/messages", body, from, &row)
	require.Equal(t, fiber.StatusCreated, status)
	return row
}

func TestSendMessagePublishesEnrichedRow(t *testing.T) {
	env := newTestEnv(t)

	row := env.send(t, env.buyer, env.seller, "  Is it available?  ")
	assert.Equal(t, "Is it available?", row.Content)
	assert.Len(t, row.ID, 26)
	require.NotNil(t, row.ItemTitle)
	assert.Equal(t, "Bike", *row.ItemTitle)
	require.NotNil(t, row.SenderLabel)
	assert.Equal(t, "buyer@example.com", *row.SenderLabel)

	require.Len(t, env.publisher.changes, 1)
	change := env.publisher.changes[0]
	assert.Equal(t, models.TableMessages, change.Table)
	assert.Equal(t, models.EventInsert, change.Type)

	published, err := change.DecodeMessageRow()
	require.NoError(t, err)
	assert.Equal(t, row.ID, published.ID)
	assert.True(t, published.Joined())
}

func TestSendMessageValidation(t *testing.T) {
	env := newTestEnv(t)
	stranger, err := env.store.CreateUser(context.Background(), "stranger@example.com", "hash")
	require.NoError(t, err)

	item := env.item.ID.String()
	tests := []struct {
		name   string
		user   *models.User
		body   string
		status int
	}{
		{"anonymous", nil, `{}`, fiber.StatusUnauthorized},
		{"blank content", env.buyer, `{"receiver_id":"` + env.seller.ID.String() + `","item_id":"` + item + `","content":"   "}`, fiber.StatusBadRequest},
		{"self", env.seller, `{"receiver_id":"` + env.seller.ID.String() + `","item_id":"` + item + `","content":"hi"}`, fiber.StatusBadRequest},
		{"bad receiver", env.buyer, `{"receiver_id":"x","item_id":"` + item + `","content":"hi"}`, fiber.StatusBadRequest},
		{"missing item", env.buyer, `{"receiver_id":"` + env.seller.ID.String() + `","item_id":"` + uuid.NewString() + `","content":"hi"}`, fiber.StatusNotFound},
		{"seller not involved", env.buyer, `{"receiver_id":"` + stranger.ID.String() + `","item_id":"` + item + `","content":"hi"}`, fiber.StatusForbidden},
		{"unknown receiver", env.seller, `{"receiver_id":"` + uuid.NewString() + `","item_id":"` + item + `","content":"hi"}`, fiber.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, env.do(t, "POST", "/api/messages", tt.body, tt.user, nil))
		})
	}
	assert.Empty(t, env.publisher.changes)
}

func TestConversationsAndThread(t *testing.T) {
	env := newTestEnv(t)

	first := env.send(t, env.buyer, env.seller, "Is it available?")
	second := env.send(t, env.seller, env.buyer, "Yes")

	var conversations struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	status := env.do(t, "GET", "/api/conversations", "", env.seller, &conversations)
	require.Equal(t, fiber.StatusOK, status)
	require.Len(t, conversations.Conversations, 1)

	conv := conversations.Conversations[0]
	assert.Equal(t, env.item.ID.String(), conv.ItemID)
	assert.Equal(t, "Bike", conv.ItemTitle)
	assert.Equal(t, env.buyer.ID.String(), conv.OtherUserID)
	assert.Equal(t, "buyer@example.com", conv.OtherUserLabel)
	assert.Equal(t, "Yes", conv.LastMessage)

	var thread struct {
		Messages []models.Message `json:"messages"`
	}
	target := "/api/messages/thread?item_id=" + env.item.ID.String() + "&counterpart_id=" + env.seller.ID.String()
	status = env.do(t, "GET", target, "", env.buyer, &thread)
	require.Equal(t, fiber.StatusOK, status)
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, first.ID, thread.Messages[0].ID)
	assert.Equal(t, second.ID, thread.Messages[1].ID)

	var all struct {
		Messages []models.MessageRow `json:"messages"`
	}
	status = env.do(t, "GET", "/api/messages", "", env.buyer, &all)
	require.Equal(t, fiber.StatusOK, status)
	require.Len(t, all.Messages, 2)
	assert.Equal(t, second.ID, all.Messages[0].ID)
}

func TestThreadRequiresParams(t *testing.T) {
	env := newTestEnv(t)

	status := env.do(t, "GET", "/api/messages/thread?item_id="+env.item.ID.String(), "", env.buyer, nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
}
