package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/nearby/internal/domain"
	"github.com/matheus3301/nearby/internal/tui/ui"
)

// Radar distance bands, in meters.
const (
	nearBand = 5.0
	midBand  = 20.0
)

func formatTimestamp(t time.Time, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now = now.Local()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

// formatDistance renders a ranged distance; unranged users show "-".
func formatDistance(u domain.NearbyUser) string {
	switch {
	case !u.Ranged:
		return "-"
	case u.Distance >= 1000:
		return fmt.Sprintf("%.2f km", u.Distance/1000)
	case u.Distance >= 100:
		return fmt.Sprintf("%.0f m", u.Distance)
	default:
		return fmt.Sprintf("%.1f m", u.Distance)
	}
}

func distanceColor(theme *ui.Theme, u domain.NearbyUser) tcell.Color {
	switch {
	case !u.Ranged:
		return theme.FgColor
	case u.Distance <= nearBand:
		return theme.NearColor
	case u.Distance <= midBand:
		return theme.MidColor
	default:
		return theme.FarColor
	}
}

// signalBars draws RSSI as four bars, one per 15 dB above -100.
func signalBars(rssi float64) string {
	if rssi == 0 {
		return ""
	}
	n := int((rssi + 100) / 15)
	n = max(0, min(n, 4))
	return strings.Repeat("▮", n) + strings.Repeat("▯", 4-n)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
