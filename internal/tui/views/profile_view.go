package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/nearby/internal/domain"
	"github.com/matheus3301/nearby/internal/tui/ui"
	"github.com/rivo/tview"
)

// ProfileView shows what is known about one nearby user.
type ProfileView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewProfileView creates a new profile view.
func NewProfileView(theme *ui.Theme) *ProfileView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetWordWrap(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Profile ")
	tv.SetTitleColor(theme.TitleColor)

	return &ProfileView{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements ui.Component.
func (pv *ProfileView) Name() string { return "Profile" }

// Hints implements ui.Component.
func (pv *ProfileView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
	}
}

// Update renders u with the connection and meetups shared with them.
func (pv *ProfileView) Update(u domain.NearbyUser, conn *domain.Connection, meetups []domain.Meetup) {
	pv.Clear()

	fg := ui.Tag(pv.theme.FgColor)
	ct := ui.Tag(pv.theme.CounterColor)
	field := func(label, value string) {
		if value == "" {
			value = "-"
		}
		_, _ = fmt.Fprintf(pv, " [%s::b]%-11s[-:-:-] [%s]%s[-]\n", fg, label+":", ct, value)
	}

	name := u.Name
	if name == "" {
		name = u.ID
	}
	age := ""
	if u.Age > 0 {
		age = fmt.Sprint(u.Age)
	}
	seen := "online"
	if !u.IsOnline && !u.LastSeen.IsZero() {
		seen = u.LastSeen.Local().Format(time.DateTime)
	}
	status := "none (c to connect)"
	if conn != nil {
		status = string(conn.Status)
		if conn.Status == domain.ConnectionPending && conn.FromUserID == u.ID {
			status += " (a to accept, x to decline)"
		}
	}

	_, _ = fmt.Fprintln(pv)
	field("Name", display(name))
	field("ID", display(u.ID))
	field("Distance", formatDistance(u))
	field("Signal", signalBars(u.RSSI))
	field("Age", age)
	field("Gender", display(u.Gender))
	field("Interests", display(strings.Join(u.Interests, ", ")))
	field("Seen", seen)
	field("Connection", status)
	if u.Bio != "" {
		_, _ = fmt.Fprintf(pv, "\n [::i]%s[-:-:-]\n", display(u.Bio))
	}

	if len(meetups) > 0 {
		_, _ = fmt.Fprintf(pv, "\n [%s::b]Meetups[-:-:-]\n", fg)
		for _, m := range meetups {
			_, _ = fmt.Fprintf(pv, "  %s  %s  [%s]%s[-]\n",
				m.ProposedTime.Local().Format("01/02 15:04"), display(m.Venue.Name), ct, m.Status)
		}
	}

	pv.SetTitle(fmt.Sprintf(" %s ", display(name)))
	pv.ScrollToBeginning()
}
