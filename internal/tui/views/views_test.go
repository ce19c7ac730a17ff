package views

import (
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/nearby/internal/api"
	"github.com/matheus3301/nearby/internal/domain"
	"github.com/matheus3301/nearby/internal/tui/ui"
)

func roster() []domain.NearbyUser {
	return []domain.NearbyUser{
		{ID: "sim-alex", Name: "Alex", Ranged: true, Distance: 2.24, RSSI: -66, Interests: []string{"Tech", "Music"}},
		{ID: "sim-sarah", Name: "Sarah", Ranged: true, Distance: 35.5, RSSI: -90, Interests: []string{"Art"}},
		{ID: "sim-mike", Name: "Mike", Interests: []string{"Tech"}},
	}
}

func TestRadarFilterAndSelection(t *testing.T) {
	r := NewRadar(ui.DefaultTheme())
	r.Update(roster(), map[string]domain.ConnectionStatus{"sim-sarah": domain.ConnectionPending})

	if got := r.GetCell(1, 2).Text; got != "2.2 m" {
		t.Errorf("distance cell = %q", got)
	}
	if got := r.GetCell(3, 2).Text; got != "-" {
		t.Errorf("unranged distance = %q", got)
	}
	if got := strings.TrimSpace(r.GetCell(2, 6).Text); got != "pending" {
		t.Errorf("connection cell = %q", got)
	}

	r.Jump(2)
	if got := r.Selected(); got != "sim-sarah" {
		t.Fatalf("Selected = %q, want sim-sarah", got)
	}

	r.SetFilter("tech")
	if r.ByIndex(1) != "sim-alex" || r.ByIndex(2) != "sim-mike" || r.ByIndex(3) != "" {
		t.Errorf("filtered = %q %q %q", r.ByIndex(1), r.ByIndex(2), r.ByIndex(3))
	}
	if !strings.Contains(r.GetTitle(), "2/3") {
		t.Errorf("title = %q", r.GetTitle())
	}

	// A reorder keeps the cursor on the same user.
	r.SetFilter("")
	r.Jump(1)
	users := roster()
	users[0], users[2] = users[2], users[0]
	r.Update(users, nil)
	if got := r.Selected(); got != "sim-alex" {
		t.Errorf("Selected after reorder = %q, want sim-alex", got)
	}
}

func TestFormatDistance(t *testing.T) {
	tests := []struct {
		user domain.NearbyUser
		want string
	}{
		{domain.NearbyUser{}, "-"},
		{domain.NearbyUser{Ranged: true, Distance: 0.5}, "0.5 m"},
		{domain.NearbyUser{Ranged: true, Distance: 150.4}, "150 m"},
		{domain.NearbyUser{Ranged: true, Distance: 1234}, "1.23 km"},
	}
	for _, tt := range tests {
		if got := formatDistance(tt.user); got != tt.want {
			t.Errorf("formatDistance(%+v) = %q, want %q", tt.user, got, tt.want)
		}
	}
}

func TestSignalBars(t *testing.T) {
	tests := map[float64]string{
		0:    "",
		-30:  "▮▮▮▮",
		-59:  "▮▮▯▯",
		-95:  "▯▯▯▯",
		-120: "▯▯▯▯",
	}
	for rssi, want := range tests {
		if got := signalBars(rssi); got != want {
			t.Errorf("signalBars(%v) = %q, want %q", rssi, got, want)
		}
	}
}

func TestSanitizeForTerminal(t *testing.T) {
	in := "hi \U0001F44D\U0001F3FB \U0001F468\u200D\U0001F469 \u2764\uFE0F"
	want := "hi \U0001F44D \U0001F468\U0001F469 \u2764"
	if got := sanitizeForTerminal(in); got != want {
		t.Errorf("sanitizeForTerminal = %q, want %q", got, want)
	}
}

func TestStatusBarShowsQueue(t *testing.T) {
	sb := NewStatusBar(ui.DefaultTheme())
	sb.now = func() time.Time { return time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC) }

	sb.SetStatus(&api.StatusReply{Account: "demo", Connectivity: "OFFLINE", ForcedOffline: true, Pending: 2})
	line := sb.line()
	for _, want := range []string{"demo", "OFFLINE", "(forced)", "2 pending", "radar idle", "09:30"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "syncing") {
		t.Errorf("line %q shows syncing while idle", line)
	}

	sb.SetStatus(&api.StatusReply{Account: "demo", Connectivity: "ONLINE", Pending: 1, Draining: true, Scanning: true, Source: "simulated"})
	first := sb.line()
	sb.Tick()
	if second := sb.line(); first == second || !strings.Contains(second, "syncing") {
		t.Errorf("spinner did not advance: %q -> %q", first, second)
	}
	if !sb.Syncing() || !strings.Contains(first, "scanning simulated") {
		t.Errorf("line = %q", first)
	}
}

func TestMessageThreadMarks(t *testing.T) {
	mt := NewMessageThread(ui.DefaultTheme())
	mt.SetPeer("sim-alex", "Alex")
	read := time.Now()
	mt.Update([]api.Message{
		{Message: domain.Message{ID: "1", SenderID: "sim-alex", ReceiverID: "me", Content: "hey"}, State: domain.MessageConfirmed},
		{Message: domain.Message{ID: "2", SenderID: "me", ReceiverID: "sim-alex", Content: "queued"}, State: domain.MessageLocal},
		{Message: domain.Message{ID: "3", SenderID: "me", ReceiverID: "sim-alex", Content: "lost"}, State: domain.MessageFailed},
		{Message: domain.Message{ID: "4", SenderID: "me", ReceiverID: "sim-alex", Content: "seen", ReadAt: &read}, State: domain.MessageConfirmed},
	})
	text := mt.Messages().GetText(true)
	for _, want := range []string{"Alex", "You", "sending", "failed, R to resend", "read"} {
		if !strings.Contains(text, want) {
			t.Errorf("thread missing %q:\n%s", want, text)
		}
	}
}

func TestShareViewRendersLink(t *testing.T) {
	sv := NewShareView(ui.DefaultTheme())
	sv.ShowProfile("me", "Me")
	text := sv.GetText(true)
	if !strings.Contains(text, "nearby://profile/me") || !strings.ContainsRune(text, '\u2588') {
		t.Errorf("share view = %q", text)
	}
}
