package auth

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/rajivgeraev/marketplace-api/internal/config"
	"github.com/rajivgeraev/marketplace-api/internal/db/sqlite"
	"github.com/rajivgeraev/marketplace-api/internal/models"
	"github.com/rajivgeraev/marketplace-api/internal/utils"
)

func newTestApp(t *testing.T, cfg *config.Config) *fiber.App {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)

	svc := NewAuthService(cfg, store, utils.NewJWTService("secret", time.Hour))
	svc.bcryptCost = bcrypt.MinCost

	app := fiber.New()
	svc.SetupRoutes(app)
	return app
}

func call(t *testing.T, app *fiber.App, method, target, body, token string, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestSignUpSignInFlow(t *testing.T) {
	app := newTestApp(t, &config.Config{})

	var created models.Session
	status := call(t, app, "POST", "/api/auth/signup", `{"email":" Ann@Example.com ","password":"secret1"}`, "", &created)
	require.Equal(t, fiber.StatusCreated, status)
	assert.NotEmpty(t, created.AccessToken)
	assert.Equal(t, "ann@example.com", created.User.Email)
	assert.True(t, created.ExpiresAt.After(time.Now()))

	status = call(t, app, "POST", "/api/auth/signup", `{"email":"ann@example.com","password":"secret2"}`, "", nil)
	assert.Equal(t, fiber.StatusConflict, status)

	status = call(t, app, "POST", "/api/auth/signin", `{"email":"ann@example.com","password":"wrong!"}`, "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	var signedIn models.Session
	status = call(t, app, "POST", "/api/auth/signin", `{"email":"ann@example.com","password":"secret1"}`, "", &signedIn)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, created.User.ID, signedIn.User.ID)

	var current models.Session
	status = call(t, app, "GET", "/api/auth/session", "", signedIn.AccessToken, &current)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ann@example.com", current.User.Label())
	assert.Equal(t, signedIn.AccessToken, current.AccessToken)

	status = call(t, app, "POST", "/api/auth/signout", "", signedIn.AccessToken, nil)
	assert.Equal(t, fiber.StatusNoContent, status)
}

func TestSignUpValidation(t *testing.T) {
	app := newTestApp(t, &config.Config{})

	assert.Equal(t, fiber.StatusBadRequest,
		call(t, app, "POST", "/api/auth/signup", `{"email":"not-an-email","password":"secret1"}`, "", nil))
	assert.Equal(t, fiber.StatusBadRequest,
		call(t, app, "POST", "/api/auth/signup", `{"email":"a@b.c","password":"123"}`, "", nil))
	assert.Equal(t, fiber.StatusBadRequest,
		call(t, app, "POST", "/api/auth/signin", `{"email":"","password":""}`, "", nil))
}

func TestSessionRequiresToken(t *testing.T) {
	app := newTestApp(t, &config.Config{})

	assert.Equal(t, fiber.StatusUnauthorized, call(t, app, "GET", "/api/auth/session", "", "", nil))
	assert.Equal(t, fiber.StatusUnauthorized, call(t, app, "POST", "/api/auth/signout", "", "garbage", nil))
}

func TestTelegramAuth(t *testing.T) {
	disabled := newTestApp(t, &config.Config{})
	assert.Equal(t, fiber.StatusNotFound,
		call(t, disabled, "POST", "/api/auth/telegram", `{"init_data":"user=1"}`, "", nil))

	enabled := newTestApp(t, &config.Config{TelegramBotToken: "123:ABC"})
	assert.Equal(t, fiber.StatusUnauthorized,
		call(t, enabled, "POST", "/api/auth/telegram", `{"init_data":"user=1&hash=bad"}`, "", nil))
}
