package views

import (
	"strings"

	"github.com/rivo/tview"
)

// sanitizeForTerminal drops the codepoints tcell cannot lay out: skin tone
// modifiers, zero width joiners and variation selectors. A composed emoji
// then renders as its 2-cell base character.
func sanitizeForTerminal(s string) string {
	return strings.Map(func(r rune) rune {
		if isProblematicRune(r) {
			return -1
		}
		return r
	}, s)
}

func isProblematicRune(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF: // skin tones
		return true
	case r == 0x200D: // ZWJ
		return true
	case r >= 0xFE00 && r <= 0xFE0F, r >= 0xE0100 && r <= 0xE01EF:
		return true
	default:
		return false
	}
}

// display escapes user-provided text for a dynamic-color view.
func display(s string) string {
	return tview.Escape(sanitizeForTerminal(s))
}
