// Package tui is the terminal front end of medfit: a sign-in gate followed by
// the disease search and the medical assistant chat.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"go.uber.org/zap"

	"github.com/papercomputeco/medfit/pkg/auth"
	"github.com/papercomputeco/medfit/pkg/conversation"
	"github.com/papercomputeco/medfit/pkg/disease"
	"github.com/papercomputeco/medfit/pkg/search"
)

// Deps are the collaborators behind the screens.
type Deps struct {
	Auth    *auth.Manager
	Querier disease.Querier

	// NewConversation creates the conversation of a signed-in session.
	NewConversation func(opts ...conversation.Option) *conversation.Conversation

	SearchOptions []search.Option
	Logger        *zap.Logger
}

type screen int

const (
	screenSignIn screen = iota
	screenMain
)

type tab int

const (
	tabSearch tab = iota
	tabChat
)

// session is everything owned by one signed-in user.
type session struct {
	auth     auth.Session
	pipeline *search.Pipeline
	conv     *conversation.Conversation
}

// signedOutMsg reports that a session ended outside the UI, e.g. on an auth reload.
type signedOutMsg struct {
	id string
}

const cardHeight = 5 // border + name + diagnosis + treatment

type Model struct {
	deps   Deps
	bridge *bridge
	logger *zap.Logger

	screen  screen
	tab     tab
	session *session

	signInInput textinput.Model
	signInErr   string

	searchInput textinput.Model
	snapshot    search.Snapshot
	offset      int // first visible result

	chatInput textinput.Model
	viewport  viewport.Model
	turns     []conversation.Turn
	awaiting  bool

	spinner spinner.Model

	renderer      *glamour.TermRenderer
	rendererWidth int

	width    int
	height   int
	quitting bool
}

// New creates the root model showing the sign-in screen.
func New(deps Deps) *Model {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	si := textinput.New()
	si.Placeholder = "API token"
	si.EchoMode = textinput.EchoPassword
	si.EchoCharacter = '•'
	si.CharLimit = 256
	si.Focus()

	qi := textinput.New()
	qi.Placeholder = "Search diseases..."
	qi.Prompt = "🔍 "
	qi.CharLimit = 100

	ci := textinput.New()
	ci.Placeholder = "Ask a medical question..."
	ci.CharLimit = 2000

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := &Model{
		deps:        deps,
		bridge:      newBridge(),
		logger:      logger,
		signInInput: si,
		searchInput: qi,
		chatInput:   ci,
		spinner:     sp,
		viewport:    viewport.New(100, 20),
		width:       100,
		height:      30,
	}

	deps.Auth.OnSignOut(func(s auth.Session) {
		m.bridge.post(signedOutMsg{id: s.ID})
	})

	return m
}

// Run starts the program on the alternate screen and blocks until the user quits or ctx ends.
func Run(ctx context.Context, deps Deps) error {
	m := New(deps)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run terminal ui: %w", err)
	}
	return nil
}

// Close ends the active session, if any.
func (m *Model) Close() {
	if m.session != nil {
		s := m.session
		m.endSession()
		_ = m.deps.Auth.SignOut(s.auth.ID)
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.bridge.listen())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case searchChangedMsg:
		if m.session != nil && msg.session == m.session {
			m.snapshot = m.session.pipeline.Snapshot()
			m.clampOffset()
		}
		return m, m.bridge.listen()

	case chatChangedMsg:
		if m.session != nil && msg.session == m.session {
			m.refreshChat()
		}
		return m, m.bridge.listen()

	case signedOutMsg:
		if m.session != nil && m.session.auth.ID == msg.id {
			m.endSession()
			m.signInErr = "Your session has ended. Please sign in again."
		}
		return m, m.bridge.listen()

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			m.Close()
			return m, tea.Quit
		}
		switch m.screen {
		case screenSignIn:
			return m.updateSignIn(msg)
		case screenMain:
			return m.updateMain(msg)
		}
	}
	return m, nil
}

func (m *Model) updateSignIn(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() != "enter" {
		var cmd tea.Cmd
		m.signInInput, cmd = m.signInInput.Update(msg)
		return m, cmd
	}

	token := strings.TrimSpace(m.signInInput.Value())
	if token == "" {
		m.signInErr = "Enter your API token."
		return m, nil
	}

	sess, err := m.deps.Auth.SignIn(token)
	m.signInInput.Reset()
	if err != nil {
		m.signInErr = "Invalid API token."
		return m, nil
	}

	m.startSession(sess)
	return m, nil
}

func (m *Model) startSession(a auth.Session) {
	s := &session{auth: a}

	opts := append([]search.Option{}, m.deps.SearchOptions...)
	opts = append(opts, search.WithObserver(m.bridge.searchObserver(s)), search.WithLogger(m.logger))
	s.pipeline = search.New(m.deps.Querier, opts...)
	s.conv = m.deps.NewConversation(conversation.WithObserver(m.bridge.chatObserver(s)))

	m.session = s
	m.screen = screenMain
	m.signInErr = ""
	m.signInInput.Blur()
	m.setTab(tabSearch)

	m.searchInput.Reset()
	m.chatInput.Reset()
	m.offset = 0
	m.snapshot = s.pipeline.Snapshot()
	m.refreshChat()

	s.pipeline.Start()
	m.logger.Info("tui session started", zap.String("email", a.Email))
}

// endSession tears the session down locally. It does not revoke the auth session.
func (m *Model) endSession() {
	if m.session == nil {
		return
	}
	m.session.pipeline.Close()
	m.session = nil

	m.screen = screenSignIn
	m.searchInput.Blur()
	m.chatInput.Blur()
	m.signInInput.Reset()
	m.signInInput.Focus()
	m.snapshot = search.Snapshot{}
	m.turns = nil
	m.awaiting = false
}

func (m *Model) signOut() {
	s := m.session
	m.endSession()
	if err := m.deps.Auth.SignOut(s.auth.ID); err != nil && !errors.Is(err, auth.ErrSessionNotFound) {
		m.logger.Warn("sign out failed", zap.Error(err))
	}
}

func (m *Model) setTab(t tab) {
	m.tab = t
	if t == tabSearch {
		m.chatInput.Blur()
		m.searchInput.Focus()
	} else {
		m.searchInput.Blur()
		m.chatInput.Focus()
	}
}

func (m *Model) updateMain(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab":
		if m.tab == tabSearch {
			m.setTab(tabChat)
		} else {
			m.setTab(tabSearch)
		}
		return m, nil

	case "ctrl+x":
		m.signOut()
		return m, nil
	}

	if m.tab == tabSearch {
		return m.updateSearch(msg)
	}
	return m.updateChat(msg)
}

func (m *Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	p := m.session.pipeline

	switch msg.String() {
	case "ctrl+s":
		c := p.Criteria()
		key := disease.SortByCreatedAt
		if c.SortBy == disease.SortByCreatedAt {
			key = disease.SortByName
		}
		m.applyCriteria(p.SetSort(key, c.Direction))
		return m, nil

	case "ctrl+o":
		c := p.Criteria()
		dir := disease.Descending
		if c.Direction == disease.Descending {
			dir = disease.Ascending
		}
		m.applyCriteria(p.SetSort(c.SortBy, dir))
		return m, nil

	case "ctrl+r":
		p.Retry()
		m.snapshot = p.Snapshot()
		return m, nil

	case "esc":
		p.DismissError()
		m.snapshot = p.Snapshot()
		return m, nil

	case "up":
		m.offset--
		m.clampOffset()
		return m, nil

	case "down":
		m.offset++
		m.clampOffset()
		return m, nil

	case "pgup":
		m.offset -= m.visibleCards()
		m.clampOffset()
		return m, nil

	case "pgdown":
		m.offset += m.visibleCards()
		m.clampOffset()
		return m, nil
	}

	before := m.searchInput.Value()
	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	if m.searchInput.Value() != before {
		m.offset = 0
		m.applyCriteria(p.SetTerm(m.searchInput.Value()))
	}
	return m, cmd
}

func (m *Model) applyCriteria(err error) {
	if err != nil {
		m.logger.Warn("criteria rejected", zap.Error(err))
	}
	m.snapshot = m.session.pipeline.Snapshot()
}

func (m *Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "down", "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case "enter":
		if _, err := m.session.conv.Submit(context.Background(), m.chatInput.Value()); err != nil {
			m.logger.Debug("chat submission rejected", zap.Error(err))
			return m, nil
		}
		m.chatInput.Reset()
		m.refreshChat()
		return m, nil
	}

	// The input is read-only while a reply is pending.
	if m.awaiting {
		return m, nil
	}

	var cmd tea.Cmd
	m.chatInput, cmd = m.chatInput.Update(msg)
	return m, cmd
}

func (m *Model) refreshChat() {
	if m.session == nil {
		return
	}
	m.turns = m.session.conv.Transcript()
	m.awaiting = m.session.conv.IsAwaitingResponse()
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m *Model) resize() {
	m.searchInput.Width = max(10, m.width-8)
	m.chatInput.Width = max(10, m.width-8)
	m.signInInput.Width = min(40, max(10, m.width-12))

	// header(2) + status(1) + input(3) + help(1)
	m.viewport.Width = m.width
	m.viewport.Height = max(3, m.height-7)
	if m.session != nil {
		m.refreshChat()
	}
	m.clampOffset()
}

func (m *Model) visibleCards() int {
	// header(2) + input(3) + sort line(1) + banner(1) + help(1)
	return max(1, (m.height-8)/cardHeight)
}

func (m *Model) clampOffset() {
	limit := len(m.snapshot.Records) - m.visibleCards()
	if m.offset > limit {
		m.offset = limit
	}
	if m.offset < 0 {
		m.offset = 0
	}
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if m.screen == screenSignIn {
		return m.viewSignIn()
	}

	var b strings.Builder
	b.WriteString(m.viewHeader() + "\n\n")

	switch m.tab {
	case tabSearch:
		b.WriteString(m.viewSearch())
	case tabChat:
		b.WriteString(m.viewChat())
	}

	b.WriteString("\n" + m.viewHelp())
	return b.String()
}

func (m *Model) viewSignIn() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("MedFit") + "\n")
	b.WriteString(dimStyle.Render("Sign in with your API token") + "\n\n")
	b.WriteString(m.signInInput.View() + "\n")
	if m.signInErr != "" {
		b.WriteString("\n" + errorTextStyle.Render(m.signInErr) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("Enter: sign in  ctrl+c: quit"))

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, signInBoxStyle.Render(b.String()))
}

func (m *Model) viewHeader() string {
	tabs := []string{tabStyle.Render("Diseases"), tabStyle.Render("Assistant")}
	tabs[m.tab] = activeTabStyle.Render([]string{"Diseases", "Assistant"}[m.tab])

	left := titleStyle.Render("MedFit") + " " + strings.Join(tabs, " ")
	right := emailStyle.Render(m.session.auth.Email) + dimStyle.Render("  ctrl+x: sign out")

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func (m *Model) viewSearch() string {
	var b strings.Builder
	snap := m.snapshot

	b.WriteString(inputStyle.Render(m.searchInput.View()) + "\n")

	sortLine := sortStyle.Render("Sort: "+snap.Criteria.SortBy.Label()) + " " +
		sortStyle.Render(snap.Criteria.Direction.Label())
	if snap.Loading() {
		sortLine += "  " + m.spinner.View() + dimStyle.Render("Loading...")
	}
	b.WriteString(sortLine + "\n")

	if snap.ShowsError() {
		b.WriteString(errorBannerStyle.Render(search.FailureMessage+"  esc: dismiss  ctrl+r: retry") + "\n")
	} else {
		b.WriteString("\n")
	}

	switch {
	case snap.Empty():
		b.WriteString("\n" + lipgloss.PlaceHorizontal(m.width, lipgloss.Center, "No diseases found") + "\n")
		b.WriteString(lipgloss.PlaceHorizontal(m.width, lipgloss.Center, dimStyle.Render("Try adjusting your search terms")) + "\n")
	case len(snap.Records) == 0:
	default:
		end := min(len(snap.Records), m.offset+m.visibleCards())
		for _, rec := range snap.Records[m.offset:end] {
			b.WriteString(m.renderCard(rec) + "\n")
		}
		if len(snap.Records) > end || m.offset > 0 {
			b.WriteString(dimStyle.Render(fmt.Sprintf("%d-%d of %d", m.offset+1, end, len(snap.Records))) + "\n")
		}
	}

	return b.String()
}

func (m *Model) renderCard(rec disease.Record) string {
	inner := max(20, m.width-4)

	line := func(label, text string) string {
		l := fieldLabelStyle.Render(label + ": ")
		return l + ansi.Truncate(flatten(text), inner-lipgloss.Width(l), "…")
	}

	name := cardTitleStyle.Render(ansi.Truncate(rec.Name, inner-12, "…"))
	added := dimStyle.Render(rec.CreatedAt.Format("2006-01-02"))
	gap := max(1, inner-lipgloss.Width(name)-lipgloss.Width(added))

	body := name + strings.Repeat(" ", gap) + added + "\n" +
		line("Diagnosis", rec.Diagnosis) + "\n" +
		line("Treatment", rec.Treatment)

	return cardStyle.Width(inner + 2).Render(body)
}

func (m *Model) viewChat() string {
	var b strings.Builder
	b.WriteString(m.viewport.View() + "\n")

	if m.awaiting {
		b.WriteString(m.spinner.View() + dimStyle.Render("Thinking...") + "\n")
	} else {
		b.WriteString("\n")
	}

	b.WriteString(inputStyle.Render(m.chatInput.View()))
	return b.String()
}

func (m *Model) renderTranscript() string {
	width := max(20, m.viewport.Width-2)

	var b strings.Builder
	for i, t := range m.turns {
		if i > 0 {
			b.WriteString("\n")
		}
		switch {
		case t.Role == conversation.RoleUser:
			b.WriteString(userRoleStyle.Render("You") + "\n")
			b.WriteString(lipgloss.NewStyle().Width(width).Render(t.Content) + "\n")
		case t.Failed:
			b.WriteString(failedRoleStyle.Render("MedFit") + "\n")
			b.WriteString(errorTextStyle.Width(width).Render(t.Content) + "\n")
		default:
			b.WriteString(assistantRoleStyle.Render("MedFit") + "\n")
			b.WriteString(m.renderMarkdown(t.Content, width) + "\n")
		}
	}
	return b.String()
}

// renderMarkdown renders assistant text with glamour, falling back to plain
// wrapped text when rendering fails.
func (m *Model) renderMarkdown(text string, width int) string {
	if m.renderer == nil || m.rendererWidth != width {
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			m.logger.Debug("markdown renderer unavailable", zap.Error(err))
			return lipgloss.NewStyle().Width(width).Render(text)
		}
		m.renderer, m.rendererWidth = r, width
	}

	out, err := m.renderer.Render(text)
	if err != nil {
		return lipgloss.NewStyle().Width(width).Render(text)
	}
	return strings.Trim(out, "\n")
}

func (m *Model) viewHelp() string {
	if m.tab == tabChat {
		return helpStyle.Render("  Enter: send  ↑/↓: scroll  Tab: diseases  ctrl+c: quit")
	}
	return helpStyle.Render("  ctrl+s: sort by  ctrl+o: order  ↑/↓: scroll  Tab: assistant  ctrl+c: quit")
}

func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
