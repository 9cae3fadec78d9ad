package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Send       key.Binding
	Quit       key.Binding
	NewSession key.Binding
	Citations  key.Binding
	Upvote     key.Binding
	Downvote   key.Binding
	PageUp     key.Binding
	PageDown   key.Binding
}

var keys = keyMap{
	Send: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "send"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c", "esc"),
		key.WithHelp("esc", "quit"),
	),
	NewSession: key.NewBinding(
		key.WithKeys("ctrl+n"),
		key.WithHelp("ctrl+n", "new chat"),
	),
	Citations: key.NewBinding(
		key.WithKeys("ctrl+t"),
		key.WithHelp("ctrl+t", "sources"),
	),
	Upvote: key.NewBinding(
		key.WithKeys("ctrl+u"),
		key.WithHelp("ctrl+u", "upvote"),
	),
	Downvote: key.NewBinding(
		key.WithKeys("ctrl+x"),
		key.WithHelp("ctrl+x", "downvote"),
	),
	PageUp: key.NewBinding(
		key.WithKeys("pgup"),
		key.WithHelp("pgup", "scroll up"),
	),
	PageDown: key.NewBinding(
		key.WithKeys("pgdown"),
		key.WithHelp("pgdn", "scroll down"),
	),
}

func (k keyMap) help() []key.Binding {
	return []key.Binding{k.Send, k.Citations, k.Upvote, k.Downvote, k.NewSession, k.Quit}
}
