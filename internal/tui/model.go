// Package tui терминальный интерфейс маркетплейса поверх моделей экранов.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rajivgeraev/marketplace-api/internal/backend"
	"github.com/rajivgeraev/marketplace-api/internal/models"
	"github.com/rajivgeraev/marketplace-api/internal/session"
	"github.com/rajivgeraev/marketplace-api/internal/views"
)

// Сообщения цикла событий
type (
	navigateMsg struct {
		path string
		err  error
	}
	loadedMsg   struct{ err error }
	changedMsg  struct{}
	doneMsg     struct {
		status string
		err    error
		next   string
	}
)

// Model корневая модель bubbletea
type Model struct {
	ctx      context.Context
	client   backend.Client
	sessions *session.Store
	shell    *views.Shell
	updates  chan struct{}
	sub      backend.Subscription

	route   views.Match
	history []string

	feed     *views.ListingFeed
	detail   *views.ItemDetail
	messages *views.Messages
	newItem  *views.NewItem
	auth     *views.Auth

	cursor  int
	mode    editMode
	input   string
	form    *form
	status  string
	failure string
	width   int
}

// New создаёт модель; ctx ограничивает все запросы к бэкенду
func New(ctx context.Context, client backend.Client) *Model {
	sessions := session.NewStore(client)
	m := &Model{
		ctx:      ctx,
		client:   client,
		sessions: sessions,
		shell:    views.NewShell(sessions),
		updates:  make(chan struct{}, 1),
	}
	m.sub = sessions.Subscribe(func(*models.Session) { m.notify() })
	return m
}

// notify будит цикл событий; лишние сигналы схлопываются
func (m *Model) notify() {
	select {
	case m.updates <- struct{}{}:
	default:
	}
}

func (m *Model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.updates:
			return changedMsg{}
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.mount, m.waitForUpdate())
}

// mount читает сессию и открывает главный экран; без сессии интерфейс работает
// анонимно, а ошибка показывается на экране
func (m *Model) mount() tea.Msg {
	return navigateMsg{path: string(views.RouteHome), err: m.shell.Mount(m.ctx)}
}

// Close закрывает текущий экран и отписывается от сессии
func (m *Model) Close() {
	m.leave()
	m.sub.Unsubscribe()
	m.shell.Unmount()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		return m, nil
	case navigateMsg:
		load := m.navigate(typed.path, true)
		if typed.err == nil {
			return m, load
		}
		m.setErr(typed.err)
		if load == nil {
			return m, nil
		}
		// Загрузка экрана сбросила бы ошибку, поэтому она возвращается после неё
		return m, func() tea.Msg {
			if msg, ok := load().(loadedMsg); ok && msg.err != nil {
				return msg
			}
			return loadedMsg{err: typed.err}
		}
	case loadedMsg:
		m.setErr(typed.err)
		if typed.err != nil && m.messages != nil && m.mode == editComposer {
			m.input = m.messages.Draft()
		}
		return m, nil
	case changedMsg:
		return m, m.waitForUpdate()
	case doneMsg:
		m.status = typed.status
		m.setErr(typed.err)
		if typed.err != nil {
			return m, nil
		}
		if m.mode == editComposer {
			m.mode = editNone
			m.input = ""
		}
		if typed.next != "" {
			return m, m.navigate(typed.next, true)
		}
		return m, nil
	case tea.KeyMsg:
		return m, m.handleKey(typed)
	}
	return m, nil
}

func (m *Model) setErr(err error) {
	if err == nil {
		m.failure = ""
		return
	}
	m.failure = err.Error()
}

// leave закрывает модель текущего экрана
func (m *Model) leave() {
	if m.feed != nil {
		m.feed.Unmount()
		m.feed = nil
	}
	if m.detail != nil {
		m.detail.Unmount()
		m.detail = nil
	}
	if m.messages != nil {
		m.messages.Unmount()
		m.messages = nil
	}
	if m.newItem != nil {
		m.newItem.Unmount()
		m.newItem = nil
	}
	m.auth = nil
}

// navigate открывает экран по пути и запускает его загрузку
func (m *Model) navigate(path string, remember bool) tea.Cmd {
	m.leave()
	if remember && m.route.Route != views.RouteNotFound {
		m.history = append(m.history, m.currentPath())
	}
	m.route = m.shell.Navigate(path)
	m.cursor = 0
	m.mode = editNone
	m.input = ""
	m.form = nil
	m.failure = ""

	switch m.route.Route {
	case views.RouteHome:
		feed := views.NewListingFeed(m.client)
		m.feed = feed
		return func() tea.Msg { return loadedMsg{err: ignoreFeedErr(feed.Load(m.ctx))} }
	case views.RouteItemDetail:
		detail := views.NewItemDetail(m.client, m.sessions)
		m.detail = detail
		id := m.route.Params["id"]
		return func() tea.Msg { return loadedMsg{err: detail.Load(m.ctx, id)} }
	case views.RouteMessages:
		messages := views.NewMessages(m.client, m.sessions)
		messages.OnChange(m.notify)
		m.messages = messages
		return func() tea.Msg { return loadedMsg{err: messages.Mount(m.ctx)} }
	case views.RouteNewItem:
		m.newItem = views.NewNewItem(m.client, m.sessions)
		m.form = newForm("Title", "Description", "Price", "Image URL")
		m.mode = editForm
	case views.RouteAuth:
		m.auth = views.NewAuth(m.client, m.route.Params)
		m.form = newForm("Email", "Password")
		m.mode = editForm
	}
	return nil
}

// Ошибки ленты уже записаны в лог и показаны состоянием ленты
func ignoreFeedErr(error) error { return nil }

func (m *Model) currentPath() string {
	switch m.route.Route {
	case views.RouteItemDetail:
		return views.ItemPath(m.route.Params["id"])
	case views.RouteAuth:
		if mode := m.route.Params["mode"]; mode != "" {
			return string(views.RouteAuth) + "?mode=" + mode
		}
	}
	return string(m.route.Route)
}

func (m *Model) back() tea.Cmd {
	if len(m.history) == 0 {
		return nil
	}
	prev := m.history[len(m.history)-1]
	m.history = m.history[:len(m.history)-1]
	return m.navigate(prev, false)
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	if msg.Type == tea.KeyCtrlC {
		m.Close()
		return tea.Quit
	}
	if m.mode != editNone {
		return m.handleEditKey(msg)
	}

	switch msg.String() {
	case "q":
		m.Close()
		return tea.Quit
	case "esc":
		return m.back()
	case "j", "down":
		m.moveCursor(1)
	case "k", "up":
		m.moveCursor(-1)
	case "/":
		if m.feed != nil {
			m.mode = editSearch
			m.input = m.feed.Query()
		}
	case "c":
		if (m.detail != nil && m.detail.CanMessage()) || m.messages != nil {
			m.mode = editComposer
			m.input = ""
		}
	case "enter":
		return m.open()
	case "m":
		return m.navigate(string(views.RouteMessages), true)
	case "s":
		return m.navigate(string(views.RouteNewItem), true)
	case "a":
		if !m.sessions.Authenticated() {
			return m.navigate(string(views.RouteAuth), true)
		}
	case "o":
		if m.sessions.Authenticated() {
			return func() tea.Msg {
				err := m.shell.SignOut(m.ctx)
				return doneMsg{status: "Signed out", err: err, next: string(views.RouteHome)}
			}
		}
	}
	return nil
}

func (m *Model) moveCursor(delta int) {
	n := 0
	switch {
	case m.feed != nil:
		n = len(m.feed.Items())
	case m.messages != nil:
		n = len(m.messages.Conversations())
	}
	if n == 0 {
		m.cursor = 0
		return
	}
	m.cursor = (m.cursor + delta + n) % n
}

// open открывает выбранную карточку или переписку
func (m *Model) open() tea.Cmd {
	switch {
	case m.feed != nil:
		items := m.feed.Items()
		if m.cursor < len(items) {
			return m.navigate(views.ItemPath(items[m.cursor].ID.String()), true)
		}
	case m.messages != nil:
		convs := m.messages.Conversations()
		if m.cursor < len(convs) {
			messages := m.messages
			sel := views.Selection{ItemID: convs[m.cursor].ItemID, CounterpartID: convs[m.cursor].OtherUserID}
			return func() tea.Msg { return loadedMsg{err: messages.Select(m.ctx, sel)} }
		}
	}
	return nil
}

func (m *Model) handleEditKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEsc:
		if m.mode == editForm {
			m.mode = editNone
			return m.back()
		}
		m.mode = editNone
		m.input = ""
		return nil
	case tea.KeyTab:
		if m.form != nil {
			m.form.next()
		}
		return nil
	case tea.KeyEnter:
		return m.submit()
	}

	if m.mode == editForm {
		m.form.edit(msg)
	} else {
		m.input = editLine(m.input, msg)
	}
	return nil
}

// submit отправляет поиск, сообщение или форму
func (m *Model) submit() tea.Cmd {
	switch m.mode {
	case editSearch:
		m.mode = editNone
		feed, query := m.feed, m.input
		m.cursor = 0
		return func() tea.Msg { return loadedMsg{err: ignoreFeedErr(feed.Search(m.ctx, query))} }
	case editComposer:
		return m.sendDraft()
	case editForm:
		if !m.form.last() {
			m.form.next()
			return nil
		}
		return m.submitForm()
	}
	return nil
}

func (m *Model) sendDraft() tea.Cmd {
	text := m.input
	switch {
	case m.detail != nil:
		detail := m.detail
		detail.SetDraft(text)
		return func() tea.Msg {
			if err := detail.Send(m.ctx); err != nil {
				return loadedMsg{err: err}
			}
			return doneMsg{status: detail.Notice()}
		}
	case m.messages != nil:
		messages := m.messages
		messages.SetDraft(text)
		m.input = ""
		return func() tea.Msg { return loadedMsg{err: messages.Send(m.ctx)} }
	}
	return nil
}

func (m *Model) submitForm() tea.Cmd {
	switch {
	case m.newItem != nil:
		newItem := m.newItem
		newItem.SetForm(views.ItemForm{
			Title:       m.form.value(0),
			Description: m.form.value(1),
			Price:       m.form.value(2),
			ImageURL:    m.form.value(3),
		})
		return func() tea.Msg {
			id, err := newItem.Submit(m.ctx)
			if err != nil {
				return doneMsg{err: err}
			}
			return doneMsg{status: "Item listed", next: views.ItemPath(id)}
		}
	case m.auth != nil:
		auth := m.auth
		auth.SetCredentials(m.form.value(0), m.form.value(1))
		return func() tea.Msg {
			if err := auth.Submit(m.ctx); err != nil {
				return doneMsg{err: err}
			}
			return doneMsg{status: "Signed in", next: string(views.RouteHome)}
		}
	}
	return nil
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(m.header() + "\n\n")

	switch m.route.Route {
	case views.RouteHome:
		b.WriteString(m.renderFeed())
	case views.RouteItemDetail:
		b.WriteString(m.renderDetail())
	case views.RouteMessages:
		b.WriteString(m.renderMessages())
	case views.RouteNewItem:
		b.WriteString(titleStyle.Render("Sell an item") + "\n" + m.form.render())
	case views.RouteAuth:
		title := "Sign In"
		if m.auth.Mode() == views.ModeSignUp {
			title = "Sign Up"
		}
		b.WriteString(titleStyle.Render(title) + "\n" + m.form.render())
	default:
		b.WriteString(mutedStyle.Render("Page not found"))
	}

	b.WriteString("\n\n")
	if m.failure != "" {
		b.WriteString(errorStyle.Render(m.failure) + "\n")
	} else if m.status != "" {
		b.WriteString(okStyle.Render(m.status) + "\n")
	}
	b.WriteString(mutedStyle.Render(m.hints()))
	if m.width > 0 {
		return lipgloss.NewStyle().MaxWidth(m.width).Render(b.String())
	}
	return b.String()
}

func (m *Model) header() string {
	parts := []string{titleStyle.Render("Marketplace")}
	for _, item := range m.shell.Nav() {
		parts = append(parts, navStyle.Render(navKey(item)+" "+item.Label))
	}
	if s := m.sessions.Session(); s != nil {
		parts = append(parts, mutedStyle.Render(s.User.Label()))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, strings.Join(parts, "  "))
}

func navKey(item views.NavItem) string {
	if item.Action == views.NavSignOut {
		return "[o]"
	}
	switch views.Resolve(item.Path).Route {
	case views.RouteNewItem:
		return "[s]"
	case views.RouteMessages:
		return "[m]"
	}
	return "[a]"
}

func (m *Model) hints() string {
	switch m.mode {
	case editSearch, editComposer:
		return "enter submit  esc cancel"
	case editForm:
		return "tab next field  enter submit  esc back"
	}
	return "j/k move  enter open  / search  c compose  esc back  q quit"
}

func (m *Model) renderFeed() string {
	if m.feed == nil {
		return ""
	}
	var b strings.Builder
	if m.mode == editSearch {
		b.WriteString(inputStyle.Render("Search: "+m.input+"_") + "\n")
	} else if q := m.feed.Query(); q != "" {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("Results for %q", q)) + "\n")
	}

	switch m.feed.State() {
	case views.StateLoading:
		b.WriteString(mutedStyle.Render("Loading..."))
	case views.StateEmpty, views.StateError:
		b.WriteString(mutedStyle.Render("No items found"))
	case views.StateGrid:
		for i, card := range m.feed.Cards() {
			line := fmt.Sprintf("%-32s %s", card.Title, priceStyle.Render(card.Price))
			if i == m.cursor {
				line = selectedStyle.Render(line)
			}
			b.WriteString(line + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *Model) renderDetail() string {
	d := m.detail
	if d == nil {
		return ""
	}
	switch d.State() {
	case views.DetailLoading:
		return mutedStyle.Render("Loading...")
	case views.DetailNotFound:
		return mutedStyle.Render("Item not found")
	case views.DetailError:
		return errorStyle.Render("Could not load item")
	}

	item := d.Item()
	body := []string{
		titleStyle.Render(item.Title),
		priceStyle.Render(views.FormatPrice(item.Price)),
		item.Description,
		mutedStyle.Render("Image: " + views.ImageOrPlaceholder(item.ImageURL)),
	}
	switch {
	case d.CanMessage() && m.mode == editComposer:
		body = append(body, inputStyle.Render("Message: "+m.input+"_"))
	case d.CanMessage():
		body = append(body, mutedStyle.Render("Press c to message the seller"))
	case d.SignInHint():
		body = append(body, mutedStyle.Render(views.SignInHintText))
	}
	return panelStyle.Render(strings.Join(body, "\n"))
}

func (m *Model) renderMessages() string {
	msgs := m.messages
	if msgs == nil {
		return ""
	}
	if msgs.Loading() {
		return mutedStyle.Render("Loading...")
	}

	var list strings.Builder
	list.WriteString(titleStyle.Render("Conversations") + "\n")
	convs := msgs.Conversations()
	if len(convs) == 0 {
		list.WriteString(mutedStyle.Render("No conversations yet"))
	}
	for i, c := range convs {
		line := c.OtherUserLabel + " · " + c.ItemTitle + "\n  " + mutedStyle.Render(c.LastMessage)
		if i == m.cursor {
			line = selectedStyle.Render(c.OtherUserLabel+" · "+c.ItemTitle) + "\n  " + mutedStyle.Render(c.LastMessage)
		}
		list.WriteString(line + "\n")
	}

	var thread strings.Builder
	if prompt := msgs.Prompt(); prompt != "" {
		thread.WriteString(mutedStyle.Render(prompt))
	} else {
		me := m.sessions.UserID()
		for _, msg := range msgs.Thread() {
			style := theirsStyle
			if msg.SenderID == me {
				style = mineStyle
			}
			thread.WriteString(style.Render(msg.CreatedAt.Format("15:04")+"  "+msg.Content) + "\n")
		}
		if m.mode == editComposer {
			thread.WriteString(inputStyle.Render("Message: " + m.input + "_"))
		} else {
			thread.WriteString(mutedStyle.Render("Press c to write"))
		}
	}

	return lipgloss.JoinHorizontal(lipgloss.Top,
		panelStyle.Render(strings.TrimRight(list.String(), "\n")),
		panelStyle.Render(thread.String()),
	)
}
