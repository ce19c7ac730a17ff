// Package share renders the link other users scan to open a profile.
package share

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// Scheme prefixes every profile link.
const Scheme = "nearby://profile/"

// Link returns the profile link for a user id.
func Link(profileID string) string {
	return Scheme + profileID
}

// ProfileID extracts the user id from a profile link.
func ProfileID(link string) (string, bool) {
	id, ok := strings.CutPrefix(link, Scheme)
	if !ok || id == "" || strings.ContainsAny(id, "/?#") {
		return "", false
	}
	return id, true
}

// QR converts content to a compact QR code using Unicode half-block
// characters. Two bitmap rows become one terminal line. Each line starts
// with indent.
func QR(content, indent string) (string, error) {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("generate qr: %w", err)
	}

	bitmap := qr.Bitmap()
	rows := len(bitmap)
	cols := 0
	if rows > 0 {
		cols = len(bitmap[0])
	}

	var sb strings.Builder
	for y := 0; y < rows; y += 2 {
		sb.WriteString(indent)
		for x := 0; x < cols; x++ {
			top := bitmap[y][x]
			bot := y+1 < rows && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('\u2588') // █
			case top:
				sb.WriteRune('\u2580') // ▀
			case bot:
				sb.WriteRune('\u2584') // ▄
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String(), nil
}
