package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/nearby/internal/tui/ui"
	"github.com/rivo/tview"
)

// HelpView displays the key binding reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	hv := &HelpView{
		TextView: tv,
		theme:    theme,
	}
	hv.render()
	return hv
}

// Name implements ui.Component.
func (hv *HelpView) Name() string { return "Help" }

// Hints implements ui.Component.
func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
	}
}

var helpSections = []struct {
	title string
	keys  [][2]string
}{
	{"Global", [][2]string{
		{":", "Command mode"},
		{"?", "Help"},
		{"o", "Toggle online / offline"},
		{"s", "Start / stop scanning"},
		{"r", "Refresh now"},
		{"p", "Share your profile"},
		{"Esc", "Back"},
		{"q", "Quit"},
	}},
	{"Radar", [][2]string{
		{"Enter", "Chat with user"},
		{"c", "Send connection request"},
		{"a / x", "Accept / decline their request"},
		{"d", "Profile details"},
		{"/", "Filter by name or interest"},
		{"1-9", "Jump to Nth user"},
	}},
	{"Chat", [][2]string{
		{"i", "Focus composer"},
		{"Enter", "Send (in composer)"},
		{"R", "Resend failed messages"},
	}},
	{"Commands", [][2]string{
		{":chat <user>", "Open a conversation"},
		{":connect <user>", "Send a connection request"},
		{":online / :offline", "Force connectivity"},
		{":drain", "Deliver queued actions now"},
		{":permission <cap>", "Ask again for bluetooth or location"},
		{":share", "Show profile QR"},
		{":quit", "Quit"},
	}},
}

func (hv *HelpView) render() {
	kc := ui.Tag(hv.theme.MenuKeyColor)

	var sb strings.Builder
	for _, s := range helpSections {
		fmt.Fprintf(&sb, "\n  [::b]%s[-:-:-]\n\n", s.title)
		for _, k := range s.keys {
			fmt.Fprintf(&sb, "  [%s]%-20s[-] %s\n", kc, tview.Escape(k[0]), k[1])
		}
	}
	_, _ = fmt.Fprint(hv, sb.String())
}
