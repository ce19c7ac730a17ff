package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// Logo displays a compact ASCII art logo.
type Logo struct {
	*tview.TextView
	theme *Theme
}

// NewLogo creates a new logo component.
func NewLogo(theme *Theme) *Logo {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignRight)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 0, 1)

	l := &Logo{
		TextView: tv,
		theme:    theme,
	}
	l.render()
	return l
}

func (l *Logo) render() {
	title := Tag(l.theme.TitleColor)
	fg := Tag(l.theme.FgColor)

	_, _ = fmt.Fprintf(l,
		"[%s::b]  ((( o )))[-:-:-]\n"+
			"[%s::b] ╔╗╔╔═╗╔═╗╦═╗[-:-:-]\n"+
			"[%s::b] ║║║║╣ ╠═╣╠╦╝[-:-:-]\n"+
			"[%s::b] ╝╚╝╚═╝╩ ╩╩╚═[-:-:-]\n"+
			"[%s]   people radar[-:-:-]",
		fg, title, title, title, fg,
	)
}
