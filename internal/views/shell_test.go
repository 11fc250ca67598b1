package views

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/marketplace-api/internal/backend/backendtest"
	"github.com/rajivgeraev/marketplace-api/internal/session"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		path   string
		route  Route
		params map[string]string
	}{
		{path: "/", route: RouteHome, params: map[string]string{}},
		{path: "", route: RouteHome, params: map[string]string{}},
		{path: "/auth", route: RouteAuth, params: map[string]string{}},
		{path: "/auth?mode=signup", route: RouteAuth, params: map[string]string{"mode": "signup"}},
		{path: "/new-item", route: RouteNewItem, params: map[string]string{}},
		{path: "/messages/", route: RouteMessages, params: map[string]string{}},
		{path: "/items/42", route: RouteItemDetail, params: map[string]string{"id": "42"}},
		{path: "/items/", route: RouteNotFound, params: map[string]string{}},
		{path: "/items/42/edit", route: RouteNotFound, params: map[string]string{}},
		{path: "/unknown", route: RouteNotFound, params: map[string]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			match := Resolve(tt.path)
			assert.Equal(t, tt.route, match.Route)
			assert.Equal(t, tt.params, match.Params)
		})
	}
}

func TestShellNavFollowsSession(t *testing.T) {
	fake := backendtest.New()
	fake.AddUser("buyer@example.com")
	store := session.NewStore(fake)
	shell := NewShell(store)
	require.NoError(t, shell.Mount(context.Background()))
	defer shell.Unmount()

	assert.Equal(t, []NavItem{
		{Label: "Sign In", Path: "/auth"},
		{Label: "Sign Up", Path: "/auth?mode=signup"},
	}, shell.Nav())

	_, err := fake.SignIn(context.Background(), "buyer@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, []NavItem{
		{Label: "Sell", Path: "/new-item"},
		{Label: "Messages", Path: "/messages"},
		{Label: "Sign Out", Action: NavSignOut},
	}, shell.Nav())

	require.NoError(t, shell.SignOut(context.Background()))
	assert.Nil(t, shell.Session())
	assert.Len(t, shell.Nav(), 2)
}

func TestShellGatesProtectedRoutes(t *testing.T) {
	fake := backendtest.New()
	sessions, _ := newSessions(t, fake, "")
	shell := NewShell(sessions)

	assert.Equal(t, RouteAuth, shell.Navigate("/messages").Route)
	assert.Equal(t, RouteAuth, shell.Navigate("/new-item").Route)
	assert.Equal(t, RouteHome, shell.Navigate("/").Route)
	assert.Equal(t, RouteItemDetail, shell.Navigate("/items/abc").Route)

	user := fake.AddUser("seller@example.com")
	fake.SignInAs(user)
	require.NoError(t, sessions.Init(context.Background()))
	assert.Equal(t, RouteMessages, shell.Navigate("/messages").Route)
	assert.Equal(t, RouteNewItem, shell.Navigate("/new-item").Route)
}

func TestShellUnmountReleasesListener(t *testing.T) {
	fake := backendtest.New()
	shell := NewShell(session.NewStore(fake))
	require.NoError(t, shell.Mount(context.Background()))
	assert.Equal(t, 1, fake.Listeners())

	shell.Unmount()
	assert.Equal(t, 0, fake.Listeners())
}
