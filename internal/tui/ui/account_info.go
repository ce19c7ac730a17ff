package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// AccountData holds the header summary of the running daemon.
type AccountData struct {
	Account      string
	Self         string
	Tier         string
	Backend      string
	Connectivity string
	Source       string
	Scanning     bool
	Nearby       int
}

// AccountInfo displays account metadata in the header.
type AccountInfo struct {
	*tview.TextView
	theme *Theme
}

// NewAccountInfo creates a new account info panel.
func NewAccountInfo(theme *Theme) *AccountInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &AccountInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the account info.
func (ai *AccountInfo) Update(data *AccountData) {
	ai.Clear()
	if data == nil {
		return
	}

	fg := Tag(ai.theme.FgColor)
	ct := Tag(ai.theme.CounterColor)

	netColor := Tag(ai.theme.OfflineColor)
	if data.Connectivity == "ONLINE" {
		netColor = Tag(ai.theme.OnlineColor)
	}
	scan := "idle"
	if data.Scanning {
		scan = "scanning"
	}

	_, _ = fmt.Fprintf(ai,
		"[%s::b]Account:[-:-:-] [%s]%s[-] [::d](%s)[-:-:-]\n"+
			"[%s::b]Tier:[-:-:-]    [%s]%s[-]\n"+
			"[%s::b]Backend:[-:-:-] [%s]%s[-]\n"+
			"[%s::b]Network:[-:-:-] [%s]%s[-]\n"+
			"[%s::b]Radar:[-:-:-]   [%s]%s, %s[-]\n"+
			"[%s::b]Nearby:[-:-:-]  [%s]%d[-]",
		fg, ct, tview.Escape(data.Account), tview.Escape(data.Self),
		fg, ct, data.Tier,
		fg, ct, tview.Escape(data.Backend),
		fg, netColor, data.Connectivity,
		fg, ct, data.Source, scan,
		fg, ct, data.Nearby,
	)
}
