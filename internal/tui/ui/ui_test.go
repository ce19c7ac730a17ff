package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

type page struct {
	*tview.Box
	name string
}

func (p page) Name() string      { return p.name }
func (p page) Hints() []MenuHint { return nil }

func newPage(name string) page { return page{Box: tview.NewBox(), name: name} }

func TestPagesStack(t *testing.T) {
	p := NewPages()
	var seen [][]string
	p.SetOnChange(func(_ Component, stack []string) { seen = append(seen, stack) })

	radar, chat, help := newPage("Radar"), newPage("Chat"), newPage("Help")
	p.Push(radar)
	p.Push(chat)
	p.Push(chat)
	p.Push(help)

	if got := strings.Join(p.Names(), ">"); got != "Radar>Chat>Help" {
		t.Fatalf("stack = %s", got)
	}
	if top := p.Pop(); top == nil || top.Name() != "Help" {
		t.Fatalf("Pop = %v, want Help", top)
	}
	if name, _ := p.GetFrontPage(); name != "Chat" {
		t.Errorf("front page = %s, want Chat", name)
	}
	p.Pop()
	if top := p.Pop(); top != nil {
		t.Errorf("root popped: %v", top.Name())
	}
	if len(seen) != 5 {
		t.Errorf("change notifications = %d, want 5", len(seen))
	}

	p.Push(help)
	p.Reset(chat)
	if got := strings.Join(p.Names(), ">"); got != "Chat" {
		t.Errorf("after reset = %s", got)
	}
}

func TestFlashExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := NewFlashModel()
	f.now = func() time.Time { return now }

	if f.Current() != nil {
		t.Fatal("fresh model has a message")
	}
	f.Warn("sync dropped")
	msg := f.Current()
	if msg == nil || msg.Level != FlashWarn || msg.Text != "sync dropped" {
		t.Fatalf("Current = %+v", msg)
	}
	select {
	case got := <-f.Watch():
		if got.Text != "sync dropped" {
			t.Errorf("watched %q", got.Text)
		}
	default:
		t.Error("nothing on watch channel")
	}

	now = now.Add(9 * time.Second)
	if f.Current() != nil {
		t.Error("warn still shown after 9s")
	}
}

func TestMenuColumns(t *testing.T) {
	m := NewMenu(DefaultTheme(), 2)
	out := m.layout([]MenuHint{
		{Key: "c", Description: "Connect"},
		{Key: "r", Description: "Refresh"},
		{Key: "Enter", Description: "Chat"},
	})
	lines := strings.Split(out, "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "<c>") || !strings.Contains(lines[0], "<Enter>") {
		t.Errorf("first row = %q, want c and Enter", lines[0])
	}
	if !strings.Contains(lines[1], "<r>") {
		t.Errorf("second row = %q, want r", lines[1])
	}
}

func press(p *Prompt, key tcell.Key) {
	p.InputHandler()(tcell.NewEventKey(key, 0, tcell.ModNone), func(tview.Primitive) {})
}

func TestPromptFiltersWhileTyping(t *testing.T) {
	p := NewPrompt(DefaultTheme())
	var typed []string
	cancelled := false
	p.SetOnChange(func(text string) { typed = append(typed, text) })
	p.SetOnCancel(func() { cancelled = true })

	p.Activate(PromptFilter, "tech")
	if len(typed) != 0 {
		t.Fatalf("prefill reported as typing: %q", typed)
	}
	p.SetText("mu")
	press(p, tcell.KeyEscape)

	if strings.Join(typed, ",") != "mu,tech" {
		t.Errorf("changes = %q, want typed text then the restored filter", typed)
	}
	if !cancelled {
		t.Error("Esc did not cancel")
	}
}

func TestPromptSubmitsCommand(t *testing.T) {
	p := NewPrompt(DefaultTheme())
	var got string
	var mode PromptMode = -1
	p.SetOnChange(func(text string) { t.Errorf("command text reported as filter: %q", text) })
	p.SetOnSubmit(func(m PromptMode, text string) { mode, got = m, text })

	p.Activate(PromptCommand, "")
	p.SetText("connect sim-alex")
	press(p, tcell.KeyEnter)
	if mode != PromptCommand || got != "connect sim-alex" {
		t.Errorf("submit = %d %q", mode, got)
	}
}
