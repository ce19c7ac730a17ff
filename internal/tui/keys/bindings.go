package keys

import (
	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/nearby/internal/tui/ui"
)

// Action represents a keybinding action.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	Hidden      bool
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Label is the key as shown in the menu.
func (a *Action) Label() string {
	if a.Key == tcell.KeyRune {
		return string(a.Rune)
	}
	if name, ok := tcell.KeyNames[a.Key]; ok {
		return name
	}
	return "?"
}

// Registry holds keybindings in registration order, global and per view.
type Registry struct {
	global []*Action
	views  map[string][]*Action
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{
		views: make(map[string][]*Action),
	}
}

// AddGlobal registers a binding active in every view.
func (r *Registry) AddGlobal(action *Action) {
	r.global = append(r.global, action)
}

// AddView registers a view-specific binding. It shadows a global binding
// on the same key.
func (r *Registry) AddView(view string, action *Action) {
	r.views[view] = append(r.views[view], action)
}

// Hints returns the visible bindings of a view, view bindings first.
func (r *Registry) Hints(view string) []ui.MenuHint {
	var hints []ui.MenuHint
	for _, a := range r.active(view) {
		if !a.Hidden {
			hints = append(hints, ui.MenuHint{Key: a.Label(), Description: a.Description})
		}
	}
	return hints
}

// HandleEvent runs the first binding of view matching ev. It reports
// whether one matched.
func (r *Registry) HandleEvent(view string, ev *tcell.EventKey) bool {
	for _, a := range r.active(view) {
		if a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	return false
}

func (r *Registry) active(view string) []*Action {
	local := r.views[view]
	out := make([]*Action, 0, len(local)+len(r.global))
	out = append(out, local...)
	for _, g := range r.global {
		shadowed := false
		for _, l := range local {
			if l.Key == g.Key && l.Rune == g.Rune {
				shadowed = true
				break
			}
		}
		if !shadowed {
			out = append(out, g)
		}
	}
	return out
}
