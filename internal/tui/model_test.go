package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/marketplace-api/internal/backend/backendtest"
	"github.com/rajivgeraev/marketplace-api/internal/models"
	"github.com/rajivgeraev/marketplace-api/internal/views"
)

func newTestModel(t *testing.T, fake *backendtest.Fake) *Model {
	t.Helper()
	m := New(context.Background(), fake)
	require.NoError(t, m.shell.Mount(context.Background()))
	t.Cleanup(m.Close)
	drive(m, navigateMsg{path: "/"})
	return m
}

// drive прогоняет сообщение и все порождённые им команды
func drive(m *Model, msg tea.Msg) {
	for i := 0; msg != nil && i < 20; i++ {
		_, cmd := m.Update(msg)
		if cmd == nil {
			return
		}
		msg = cmd()
	}
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

var (
	enter = tea.KeyMsg{Type: tea.KeyEnter}
	tab   = tea.KeyMsg{Type: tea.KeyTab}
	esc   = tea.KeyMsg{Type: tea.KeyEsc}
)

func TestHomeListsItemsAndOpensDetail(t *testing.T) {
	fake := backendtest.New()
	seller := fake.AddUser("seller@example.com")
	lamp := fake.AddItem(models.Item{Title: "Desk lamp", Price: 15, SellerID: seller.ID})

	m := newTestModel(t, fake)
	assert.Equal(t, views.RouteHome, m.route.Route)
	view := m.View()
	assert.Contains(t, view, "Desk lamp")
	assert.Contains(t, view, "$15.00")
	assert.Contains(t, view, "Sign In")

	drive(m, enter)
	assert.Equal(t, views.RouteItemDetail, m.route.Route)
	assert.Equal(t, lamp.ID.String(), m.route.Params["id"])
	assert.Contains(t, m.View(), views.SignInHintText)

	drive(m, esc)
	assert.Equal(t, views.RouteHome, m.route.Route)
}

func TestMountErrorShownOnHome(t *testing.T) {
	fake := backendtest.New()
	fake.AddItem(models.Item{Title: "Desk lamp"})
	fake.SessionErr = errors.New("backend unreachable")
	m := New(context.Background(), fake)
	t.Cleanup(m.Close)

	drive(m, m.mount())

	assert.Equal(t, views.RouteHome, m.route.Route)
	assert.False(t, m.sessions.Authenticated())
	view := m.View()
	assert.Contains(t, view, "backend unreachable")
	assert.Contains(t, view, "Desk lamp")
	assert.Contains(t, view, "Sign In")
}

func TestEmptyFeedMessage(t *testing.T) {
	m := newTestModel(t, backendtest.New())
	assert.Contains(t, m.View(), "No items found")
}

func TestSearchKey(t *testing.T) {
	fake := backendtest.New()
	fake.AddItem(models.Item{Title: "Desk lamp"})
	fake.AddItem(models.Item{Title: "Office chair"})
	m := newTestModel(t, fake)

	drive(m, runes("/"))
	drive(m, runes("chair"))
	drive(m, enter)

	assert.Equal(t, "chair", m.feed.Query())
	view := m.View()
	assert.Contains(t, view, "Office chair")
	assert.NotContains(t, view, "Desk lamp")
}

func TestProtectedScreensRedirectToAuth(t *testing.T) {
	m := newTestModel(t, backendtest.New())

	drive(m, runes("m"))
	assert.Equal(t, views.RouteAuth, m.route.Route)

	drive(m, esc)
	drive(m, runes("s"))
	assert.Equal(t, views.RouteAuth, m.route.Route)
}

func TestSignInFlow(t *testing.T) {
	fake := backendtest.New()
	fake.AddUser("buyer@example.com")
	m := newTestModel(t, fake)

	drive(m, runes("a"))
	require.Equal(t, views.RouteAuth, m.route.Route)
	drive(m, runes("buyer@example.com"))
	drive(m, tab)
	drive(m, runes("secret1"))
	assert.Contains(t, m.View(), "*******")
	drive(m, enter)

	assert.Equal(t, views.RouteHome, m.route.Route)
	assert.True(t, m.sessions.Authenticated())
	assert.Contains(t, m.View(), "Sign Out")

	drive(m, runes("m"))
	assert.Equal(t, views.RouteMessages, m.route.Route)
	assert.Contains(t, m.View(), "No conversations yet")

	drive(m, runes("o"))
	assert.False(t, m.sessions.Authenticated())
	assert.Equal(t, views.RouteHome, m.route.Route)
}

func TestMessageSellerFromDetail(t *testing.T) {
	fake := backendtest.New()
	seller := fake.AddUser("seller@example.com")
	fake.AddItem(models.Item{Title: "Desk lamp", SellerID: seller.ID})
	buyer := fake.AddUser("buyer@example.com")
	fake.SignInAs(buyer)
	m := newTestModel(t, fake)

	drive(m, enter)
	require.Equal(t, views.RouteItemDetail, m.route.Route)
	drive(m, runes("c"))
	drive(m, runes("hi"))
	drive(m, enter)

	assert.Contains(t, m.View(), views.MessageSentText)
	rows, err := fake.ListUserMessages(context.Background(), seller.ID.String())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "hi", rows[0].Content)
}
