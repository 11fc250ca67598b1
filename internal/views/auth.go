package views

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rajivgeraev/marketplace-api/internal/backend"
)

// AuthMode режим формы входа
type AuthMode string

const (
	ModeSignIn AuthMode = "signin"
	ModeSignUp AuthMode = "signup"
)

var errCredentialsRequired = errors.New("email and password are required")

// Auth форма входа и регистрации
type Auth struct {
	client backend.Client

	mu       sync.Mutex
	mode     AuthMode
	email    string
	password string
	busy     bool
	err      error
}

// NewAuth создаёт форму; режим берётся из параметра ?mode= маршрута
func NewAuth(client backend.Client, params map[string]string) *Auth {
	mode := ModeSignIn
	if params["mode"] == string(ModeSignUp) {
		mode = ModeSignUp
	}
	return &Auth{client: client, mode: mode}
}

// Mode возвращает текущий режим
func (a *Auth) Mode() AuthMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// ToggleMode переключает вход и регистрацию
func (a *Auth) ToggleMode() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mode == ModeSignIn {
		a.mode = ModeSignUp
	} else {
		a.mode = ModeSignIn
	}
	a.err = nil
}

// SetCredentials задаёт email и пароль
func (a *Auth) SetCredentials(email, password string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.email = email
	a.password = password
}

// Err возвращает ошибку последней попытки
func (a *Auth) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Submit входит или регистрирует пользователя; о новой сессии бэкенд сообщит слушателям
func (a *Auth) Submit(ctx context.Context) error {
	a.mu.Lock()
	email := strings.TrimSpace(a.email)
	password := a.password
	mode := a.mode
	if email == "" || password == "" {
		a.err = errCredentialsRequired
		a.mu.Unlock()
		return errCredentialsRequired
	}
	if a.busy {
		a.mu.Unlock()
		return nil
	}
	a.busy = true
	a.err = nil
	a.mu.Unlock()

	var err error
	if mode == ModeSignUp {
		_, err = a.client.SignUp(ctx, email, password)
	} else {
		_, err = a.client.SignIn(ctx, email, password)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.busy = false
	a.err = err
	if err == nil {
		a.password = ""
	}
	return err
}
