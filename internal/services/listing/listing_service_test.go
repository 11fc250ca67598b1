package listing

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

	"github.com/rajivgeraev/marketplace-api/internal/db"
	"github.com/rajivgeraev/marketplace-api/internal/models"
	"github.com/rajivgeraev/marketplace-api/internal/utils"
)

type fakeStore struct {
	mu     sync.Mutex
	items  []models.Item
	search []string
}

func (f *fakeStore) ListItems(_ context.Context, search string) ([]models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.search = append(f.search, search)

	result := make([]models.Item, 0)
	for _, item := range f.items {
		if search == "" || strings.Contains(strings.ToLower(item.Title), strings.ToLower(search)) {
			result = append(result, item)
		}
	}
	return result, nil
}

func (f *fakeStore) GetItem(_ context.Context, id uuid.UUID) (*models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.ID == id {
			return &item, nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeStore) CreateItem(_ context.Context, sellerID uuid.UUID, in models.NewItem) (*models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := models.Item{ID: uuid.New(), Title: in.Title, Description: in.Description, Price: in.Price,
		ImageURL: in.ImageURL, SellerID: sellerID, Status: models.ItemStatusAvailable, CreatedAt: time.Now()}
	f.items = append([]models.Item{item}, f.items...)
	return &item, nil
}

type fakeImages struct{}

func (fakeImages) DeliveryURL(publicID string) (string, error) {
	return "https://res.example/" + publicID, nil
}

type recordingPublisher struct {
	changes []models.Change
}

func (p *recordingPublisher) Publish(change models.Change) {
	p.changes = append(p.changes, change)
}

type testEnv struct {
	app       *fiber.App
	store     *fakeStore
	publisher *recordingPublisher
	jwt       *utils.JWTService
}

func newTestEnv(t *testing.T, items ...models.Item) *testEnv {
	t.Helper()
	store := &fakeStore{items: items}
	jwtService := utils.NewJWTService("secret", time.Hour)
	publisher := &recordingPublisher{}
	app := fiber.New()
	NewListingService(store, fakeImages{}, publisher, jwtService).SetupRoutes(app)
	return &testEnv{app: app, store: store, publisher: publisher, jwt: jwtService}
}

func (e *testEnv) do(t *testing.T, method, target, body string, userID uuid.UUID) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != uuid.Nil {
		token, _, err := e.jwt.GenerateToken(userID, uuid.Nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.app.Test(req)
	require.NoError(t, err)

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestGetItemsPassesSearch(t *testing.T) {
	seller := uuid.New()
	env := newTestEnv(t,
		models.Item{ID: uuid.New(), Title: "Bike", SellerID: seller, Status: models.ItemStatusAvailable},
		models.Item{ID: uuid.New(), Title: "Lamp", SellerID: seller, Status: models.ItemStatusAvailable},
	)

	status, body := env.do(t, "GET", "/api/items?q=bi", "", uuid.Nil)
	require.Equal(t, fiber.StatusOK, status)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "Bike", items[0].(map[string]any)["title"])
	assert.Equal(t, []string{"bi"}, env.store.search)

	status, body = env.do(t, "GET", "/api/items", "", uuid.Nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["items"], 2)
}

func TestGetItemViewerFlags(t *testing.T) {
	seller, buyer := uuid.New(), uuid.New()
	item := models.Item{ID: uuid.New(), Title: "Bike", SellerID: seller, Status: models.ItemStatusAvailable}
	env := newTestEnv(t, item)

	tests := []struct {
		name       string
		viewer     uuid.UUID
		canMessage bool
		isOwner    bool
	}{
		{"anonymous", uuid.Nil, false, false},
		{"owner", seller, false, true},
		{"buyer", buyer, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, "GET", "/api/items/"+item.ID.String(), "", tt.viewer)
			require.Equal(t, fiber.StatusOK, status)
			assert.Equal(t, tt.canMessage, body["can_message"])
			assert.Equal(t, tt.isOwner, body["is_owner"])
		})
	}
}

func TestGetItemNotFound(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, "GET", "/api/items/"+uuid.NewString(), "", uuid.Nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = env.do(t, "GET", "/api/items/not-a-uuid", "", uuid.Nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestCreateItem(t *testing.T) {
	env := newTestEnv(t)
	seller := uuid.New()

	status, _ := env.do(t, "POST", "/api/items", `{"title":"Bike","price":10}`, uuid.Nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, body := env.do(t, "POST", "/api/items", `{"title":"  ","price":10}`, seller)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, errTitleRequired.Error(), body["error"])

	status, body = env.do(t, "POST", "/api/items", `{"title":"Bike","price":-1}`, seller)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, errNegativePrice.Error(), body["error"])

	status, body = env.do(t, "POST", "/api/items", `{"title":"Bike"}`, seller)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, errPriceRequired.Error(), body["error"])

	status, body = env.do(t, "POST", "/api/items", `{"title":" Bike ","description":"Red","price":0}`, seller)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "Bike", body["title"])
	assert.Equal(t, seller.String(), body["seller_id"])
	assert.Equal(t, models.ItemStatusAvailable, body["status"])

	require.Len(t, env.publisher.changes, 1)
	assert.Equal(t, models.TableItems, env.publisher.changes[0].Table)
	assert.Contains(t, string(env.publisher.changes[0].Record), `"title":"Bike"`)
}

func TestCreateItemImageFromCloudinary(t *testing.T) {
	env := newTestEnv(t)
	seller := uuid.New()

	status, body := env.do(t, "POST", "/api/items",
		`{"title":"Bike","price":5,"cloudinary_response":{"public_id":"items/bike","secure_url":"https://res.example/bike.jpg"}}`, seller)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "https://res.example/bike.jpg", body["image_url"])

	status, body = env.do(t, "POST", "/api/items",
		`{"title":"Lamp","price":5,"cloudinary_response":{"public_id":"items/lamp"}}`, seller)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "https://res.example/items/lamp", body["image_url"])
}
