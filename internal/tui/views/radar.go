package views

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/nearby/internal/domain"
	"github.com/matheus3301/nearby/internal/tui/ui"
	"github.com/rivo/tview"
)

// Radar is the ranked table of nearby users.
type Radar struct {
	*tview.Table
	theme   *ui.Theme
	users   []domain.NearbyUser
	conns   map[string]domain.ConnectionStatus
	filter  string
	visible []domain.NearbyUser
}

// NewRadar creates an empty radar table.
func NewRadar(theme *ui.Theme) *Radar {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitleColor(theme.TitleColor)

	r := &Radar{
		Table: table,
		theme: theme,
	}
	r.render()
	return r
}

// Name implements ui.Component.
func (r *Radar) Name() string { return "Radar" }

// Hints implements ui.Component.
func (r *Radar) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "1-9", Description: "Jump"},
		{Key: "Esc", Description: "Clear filter"},
	}
}

// Update replaces the users and their connection states. The selection
// stays on the same user when it is still listed.
func (r *Radar) Update(users []domain.NearbyUser, conns map[string]domain.ConnectionStatus) {
	selected := r.Selected()
	r.users = users
	r.conns = conns
	r.render()
	r.selectUser(selected)
}

// SetFilter keeps only users whose name, id or interests contain text.
func (r *Radar) SetFilter(text string) {
	r.filter = strings.TrimSpace(text)
	r.render()
}

// Filter returns the active filter.
func (r *Radar) Filter() string { return r.filter }

func (r *Radar) matches(u domain.NearbyUser) bool {
	if r.filter == "" {
		return true
	}
	if containsFold(u.Name, r.filter) || containsFold(u.ID, r.filter) {
		return true
	}
	for _, i := range u.Interests {
		if containsFold(i, r.filter) {
			return true
		}
	}
	return false
}

func (r *Radar) render() {
	r.Clear()

	headers := []struct {
		text  string
		exp   int
		align int
	}{
		{" #", 0, tview.AlignRight},
		{" NAME", 2, tview.AlignLeft},
		{" DISTANCE", 0, tview.AlignRight},
		{" SIGNAL", 0, tview.AlignLeft},
		{" AGE", 0, tview.AlignRight},
		{" INTERESTS", 3, tview.AlignLeft},
		{" CONNECTION", 0, tview.AlignLeft},
	}
	for col, h := range headers {
		r.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(r.theme.TableHeaderFg).
			SetBackgroundColor(r.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetAlign(h.align).
			SetExpansion(h.exp))
	}

	r.visible = r.visible[:0]
	for _, u := range r.users {
		if !r.matches(u) {
			continue
		}
		r.visible = append(r.visible, u)
		row := len(r.visible)

		name := u.Name
		if name == "" {
			name = u.ID
		}
		age := ""
		if u.Age > 0 {
			age = strconv.Itoa(u.Age)
		}
		conn := ""
		connColor := r.theme.FgColor
		if status, ok := r.conns[u.ID]; ok {
			conn = string(status)
			switch status {
			case domain.ConnectionPending:
				connColor = r.theme.PendingColor
			case domain.ConnectionAccepted:
				connColor = r.theme.OnlineColor
			}
		}

		r.SetCell(row, 0, tview.NewTableCell(strconv.Itoa(row)).SetAlign(tview.AlignRight).SetTextColor(r.theme.CounterColor))
		r.SetCell(row, 1, tview.NewTableCell(" "+display(name)).SetExpansion(2).SetTextColor(r.theme.FgColor))
		r.SetCell(row, 2, tview.NewTableCell(formatDistance(u)).SetAlign(tview.AlignRight).SetTextColor(distanceColor(r.theme, u)))
		r.SetCell(row, 3, tview.NewTableCell(" "+signalBars(u.RSSI)).SetTextColor(distanceColor(r.theme, u)))
		r.SetCell(row, 4, tview.NewTableCell(age).SetAlign(tview.AlignRight).SetTextColor(r.theme.FgColor))
		r.SetCell(row, 5, tview.NewTableCell(" "+display(strings.Join(u.Interests, ", "))).SetExpansion(3).SetTextColor(r.theme.FgColor))
		r.SetCell(row, 6, tview.NewTableCell(" "+conn).SetTextColor(connColor))
	}

	if r.filter != "" {
		r.SetTitle(fmt.Sprintf(" Nearby (%d/%d) filter: %s ", len(r.visible), len(r.users), tview.Escape(r.filter)))
	} else {
		r.SetTitle(fmt.Sprintf(" Nearby (%d) ", len(r.users)))
	}
}

// Selected returns the id of the selected user.
func (r *Radar) Selected() string {
	row, _ := r.GetSelection()
	idx := row - 1
	if idx < 0 || idx >= len(r.visible) {
		return ""
	}
	return r.visible[idx].ID
}

// ByIndex returns the id of the Nth visible user (1-based).
func (r *Radar) ByIndex(n int) string {
	if n < 1 || n > len(r.visible) {
		return ""
	}
	return r.visible[n-1].ID
}

// Jump moves the cursor to the Nth visible user (1-based).
func (r *Radar) Jump(n int) {
	if n >= 1 && n <= len(r.visible) {
		r.Select(n, 0)
	}
}

func (r *Radar) selectUser(id string) {
	for i, u := range r.visible {
		if u.ID == id {
			r.Select(i+1, 0)
			return
		}
	}
}
