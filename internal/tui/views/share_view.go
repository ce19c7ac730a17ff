package views

import (
	"fmt"

	"github.com/matheus3301/nearby/internal/share"
	"github.com/matheus3301/nearby/internal/tui/ui"
	"github.com/rivo/tview"
)

// ShareView displays the local profile link as a QR code.
type ShareView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewShareView creates a new share view.
func NewShareView(theme *ui.Theme) *ShareView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Share Profile ")
	tv.SetTitleColor(theme.TitleColor)

	return &ShareView{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements ui.Component.
func (sv *ShareView) Name() string { return "Share" }

// Hints implements ui.Component.
func (sv *ShareView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
	}
}

// ShowProfile renders the link of profileID as a scannable QR block.
func (sv *ShareView) ShowProfile(profileID, name string) {
	sv.Clear()

	link := share.Link(profileID)
	qr, err := share.QR(link, "")
	if err != nil {
		_, _ = fmt.Fprintf(sv, "\n\n[%s]%s[-]", ui.Tag(sv.theme.FlashErrColor), tview.Escape(err.Error()))
		return
	}
	_, _ = fmt.Fprintf(sv, "\nScan to find [::b]%s[-:-:-] nearby:\n\n%s\n[::d]%s[-:-:-]", display(name), qr, tview.Escape(link))
}
