package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// Menu displays keyboard shortcut hints in columns.
type Menu struct {
	*tview.TextView
	theme  *Theme
	height int
}

// NewMenu creates a menu that fills columns of at most height rows.
func NewMenu(theme *Theme, height int) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)

	return &Menu{
		TextView: tv,
		theme:    theme,
		height:   max(height, 1),
	}
}

// Update renders hints top to bottom, then left to right.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()
	_, _ = fmt.Fprint(m, m.layout(hints))
}

func (m *Menu) layout(hints []MenuHint) string {
	keyColor := Tag(m.theme.MenuKeyColor)
	fg := Tag(m.theme.FgColor)

	keyWidth := 0
	for _, h := range hints {
		keyWidth = max(keyWidth, len(h.Key))
	}

	rows := make([]strings.Builder, min(len(hints), m.height))
	for i, h := range hints {
		cell := fmt.Sprintf("[%s::b]%-*s[-:-:-] [%s]%-12s[-] ",
			keyColor, keyWidth+2, "<"+h.Key+">", fg, tview.Escape(h.Description))
		rows[i%m.height].WriteString(cell)
	}

	lines := make([]string, len(rows))
	for i := range rows {
		lines[i] = strings.TrimRight(rows[i].String(), " ")
	}
	return strings.Join(lines, "\n")
}
