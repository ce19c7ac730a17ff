package keys

import (
	"testing"

	"github.com/gdamore/tcell/v2"
)

func runeKey(r rune) *tcell.EventKey {
	return tcell.NewEventKey(tcell.KeyRune, r, tcell.ModNone)
}

func TestViewBindingShadowsGlobal(t *testing.T) {
	r := NewRegistry()
	var got []string
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: 'q', Description: "Quit", Handler: func() { got = append(got, "quit") }})
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: '?', Description: "Help", Handler: func() { got = append(got, "help") }})
	r.AddView("Chat", &Action{Key: tcell.KeyRune, Rune: 'q', Description: "Back", Handler: func() { got = append(got, "back") }})

	if !r.HandleEvent("Radar", runeKey('q')) || !r.HandleEvent("Chat", runeKey('q')) || !r.HandleEvent("Chat", runeKey('?')) {
		t.Fatal("binding not matched")
	}
	if r.HandleEvent("Radar", runeKey('x')) {
		t.Error("unbound key matched")
	}
	want := []string{"quit", "back", "help"}
	if len(got) != len(want) {
		t.Fatalf("handled = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("handled[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestHintsKeepOrder(t *testing.T) {
	r := NewRegistry()
	noop := func() {}
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: 'q', Description: "Quit", Handler: noop})
	r.AddGlobal(&Action{Key: tcell.KeyCtrlC, Description: "Exit", Handler: noop, Hidden: true})
	r.AddView("Radar", &Action{Key: tcell.KeyEnter, Description: "Chat", Handler: noop})
	r.AddView("Radar", &Action{Key: tcell.KeyRune, Rune: 'c', Description: "Connect", Handler: noop})

	hints := r.Hints("Radar")
	want := []string{"Enter", "c", "q"}
	if len(hints) != len(want) {
		t.Fatalf("hints = %+v", hints)
	}
	for i, h := range hints {
		if h.Key != want[i] {
			t.Errorf("hint[%d] = %s, want %s", i, h.Key, want[i])
		}
	}
}
