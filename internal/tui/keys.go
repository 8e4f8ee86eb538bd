package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Quit        key.Binding
	Cancel      key.Binding
	Send        key.Binding
	NextCountry key.Binding
	PrevCountry key.Binding
	Verify      key.Binding
	Resend      key.Binding
	Change      key.Binding
	Left        key.Binding
	Right       key.Binding
	Delete      key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit:        key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
		Cancel:      key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
		Send:        key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send OTP")),
		NextCountry: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "country")),
		PrevCountry: key.NewBinding(key.WithKeys("shift+tab")),
		Verify:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "verify")),
		Resend:      key.NewBinding(key.WithKeys("r", "ctrl+r"), key.WithHelp("r", "resend")),
		Change:      key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "change number")),
		Left:        key.NewBinding(key.WithKeys("left"), key.WithHelp("←/→", "move")),
		Right:       key.NewBinding(key.WithKeys("right")),
		Delete:      key.NewBinding(key.WithKeys("backspace", "delete")),
	}
}

func (k keyMap) phoneHelp() []key.Binding {
	return []key.Binding{k.Send, k.NextCountry, k.Cancel, k.Quit}
}

func (k keyMap) codeHelp(canResend bool) []key.Binding {
	bindings := []key.Binding{k.Verify, k.Left}
	if canResend {
		bindings = append(bindings, k.Resend)
	}
	return append(bindings, k.Change, k.Quit)
}
