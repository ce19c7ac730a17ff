package ui

import "github.com/rivo/tview"

// MenuHint describes a keyboard shortcut for display in the menu.
type MenuHint struct {
	Key         string
	Description string
}

// Component is a page that can be pushed on the page stack.
type Component interface {
	tview.Primitive
	Name() string
	Hints() []MenuHint
}
