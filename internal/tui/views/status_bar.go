package views

import (
	"fmt"
	"time"

	"github.com/matheus3301/nearby/internal/api"
	"github.com/matheus3301/nearby/internal/tui/ui"
	"github.com/rivo/tview"
)

var spinnerFrames = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

// StatusBar displays connectivity and the sync queue.
type StatusBar struct {
	*tview.TextView
	theme  *ui.Theme
	status *api.StatusReply
	frame  int
	now    func() time.Time
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	sb := &StatusBar{TextView: tv, theme: theme, now: time.Now}
	sb.render()
	return sb
}

// SetStatus updates the daemon status shown.
func (sb *StatusBar) SetStatus(st *api.StatusReply) {
	sb.status = st
	sb.render()
}

// Syncing reports whether the queue is draining.
func (sb *StatusBar) Syncing() bool {
	return sb.status != nil && sb.status.Draining
}

// Tick advances the syncing spinner.
func (sb *StatusBar) Tick() {
	sb.frame = (sb.frame + 1) % len(spinnerFrames)
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	_, _ = fmt.Fprint(sb, sb.line())
}

func (sb *StatusBar) line() string {
	clock := sb.now().Format("15:04")
	st := sb.status
	if st == nil {
		return fmt.Sprintf(" [::b]connecting...[-:-:-] | %s", clock)
	}

	net := fmt.Sprintf("[%s]%s[-]", ui.Tag(sb.theme.OnlineColor), st.Connectivity)
	if st.Connectivity != "ONLINE" {
		net = fmt.Sprintf("[%s]%s[-]", ui.Tag(sb.theme.OfflineColor), st.Connectivity)
	}
	if st.ForcedOffline {
		net += " (forced)"
	}

	queue := "queue empty"
	if st.Pending > 0 {
		queue = fmt.Sprintf("[%s]%d pending[-]", ui.Tag(sb.theme.PendingColor), st.Pending)
	}
	if st.Draining {
		queue += " " + string(spinnerFrames[sb.frame]) + " syncing"
	}

	scan := "radar idle"
	if st.Scanning {
		scan = "scanning " + st.Source
	}

	return fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s | %s | %s", tview.Escape(st.Account), net, queue, scan, clock)
}
