package views

import (
	"context"
	"net/url"
	"strings"

	"github.com/rajivgeraev/marketplace-api/internal/models"
	"github.com/rajivgeraev/marketplace-api/internal/session"
)

// Route экран клиентской части
type Route string

const (
	RouteHome       Route = "/"
	RouteAuth       Route = "/auth"
	RouteNewItem    Route = "/new-item"
	RouteMessages   Route = "/messages"
	RouteItemDetail Route = "/items/:id"
	RouteNotFound   Route = ""
)

// protected экраны только для вошедших пользователей
var protected = map[Route]bool{
	RouteNewItem:  true,
	RouteMessages: true,
}

// Match результат разбора пути: экран и параметры
type Match struct {
	Route  Route
	Params map[string]string
}

// Resolve сопоставляет путь с таблицей маршрутов; параметры запроса попадают в Params
func Resolve(path string) Match {
	u, err := url.Parse(path)
	if err != nil {
		return Match{Route: RouteNotFound}
	}
	params := make(map[string]string)
	for key, values := range u.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	p := strings.TrimRight(u.Path, "/")
	if p == "" {
		return Match{Route: RouteHome, Params: params}
	}
	switch Route(p) {
	case RouteAuth, RouteNewItem, RouteMessages:
		return Match{Route: Route(p), Params: params}
	}
	if id, ok := strings.CutPrefix(p, "/items/"); ok && id != "" && !strings.Contains(id, "/") {
		params["id"] = id
		return Match{Route: RouteItemDetail, Params: params}
	}
	return Match{Route: RouteNotFound, Params: params}
}

// ItemPath возвращает путь карточки объявления
func ItemPath(id string) string {
	return "/items/" + id
}

// NavAction действие пункта навигации
type NavAction int

const (
	NavLink NavAction = iota
	NavSignOut
)

// NavItem пункт навигационной панели
type NavItem struct {
	Label  string
	Path   string
	Action NavAction
}

// Shell держит сессию, строит навигацию и ограничивает доступ к экранам
type Shell struct {
	sessions *session.Store
}

// NewShell создаёт оболочку поверх общего хранилища сессии
func NewShell(sessions *session.Store) *Shell {
	return &Shell{sessions: sessions}
}

// Mount получает начальную сессию и подписывается на события авторизации
func (s *Shell) Mount(ctx context.Context) error {
	return s.sessions.Init(ctx)
}

// Unmount отписывается от событий авторизации
func (s *Shell) Unmount() {
	s.sessions.Close()
}

// Session возвращает текущую сессию
func (s *Shell) Session() *models.Session {
	return s.sessions.Session()
}

// Nav возвращает пункты навигации для текущей сессии
func (s *Shell) Nav() []NavItem {
	if s.sessions.Authenticated() {
		return []NavItem{
			{Label: "Sell", Path: string(RouteNewItem)},
			{Label: "Messages", Path: string(RouteMessages)},
			{Label: "Sign Out", Action: NavSignOut},
		}
	}
	return []NavItem{
		{Label: "Sign In", Path: string(RouteAuth)},
		{Label: "Sign Up", Path: string(RouteAuth) + "?mode=" + string(ModeSignUp)},
	}
}

// Navigate разбирает путь; анонимного пользователя закрытые экраны отправляют на /auth
func (s *Shell) Navigate(path string) Match {
	match := Resolve(path)
	if protected[match.Route] && !s.sessions.Authenticated() {
		return Match{Route: RouteAuth, Params: map[string]string{}}
	}
	return match
}

// SignOut завершает сессию через бэкенд
func (s *Shell) SignOut(ctx context.Context) error {
	return s.sessions.SignOut(ctx)
}
