package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/papercomputeco/medfit/pkg/conversation"
	"github.com/papercomputeco/medfit/pkg/search"
)

// searchChangedMsg reports that the search pipeline of a session changed state.
type searchChangedMsg struct {
	session *session
}

// chatChangedMsg reports that a turn was appended to the session conversation.
type chatChangedMsg struct {
	session *session
}

// bridge carries pipeline notifications, which arrive on arbitrary
// goroutines, into the bubbletea event loop. Notifications only signal a
// change: the model re-reads the pipelines when it handles them, so a
// notification dropped on a full buffer never hides state.
type bridge struct {
	events chan tea.Msg
}

func newBridge() *bridge {
	return &bridge{events: make(chan tea.Msg, 64)}
}

func (b *bridge) post(msg tea.Msg) {
	select {
	case b.events <- msg:
	default:
	}
}

func (b *bridge) searchObserver(s *session) func(search.Snapshot) {
	return func(search.Snapshot) { b.post(searchChangedMsg{session: s}) }
}

func (b *bridge) chatObserver(s *session) func(conversation.Turn) {
	return func(conversation.Turn) { b.post(chatChangedMsg{session: s}) }
}

// listen waits for the next notification.
func (b *bridge) listen() tea.Cmd {
	return func() tea.Msg {
		return <-b.events
	}
}
