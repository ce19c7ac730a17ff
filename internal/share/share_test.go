package share

import (
	"strings"
	"testing"

	qrcode "github.com/skip2/go-qrcode"
)

func TestLinkRoundTrip(t *testing.T) {
	link := Link("0190a1b2-c3d4")
	if link != "nearby://profile/0190a1b2-c3d4" {
		t.Fatalf("Link = %q", link)
	}
	id, ok := ProfileID(link)
	if !ok || id != "0190a1b2-c3d4" {
		t.Errorf("ProfileID = %q, %v", id, ok)
	}
}

func TestProfileIDRejects(t *testing.T) {
	for _, link := range []string{
		"",
		"nearby://profile/",
		"https://example.com/profile/x",
		"nearby://profile/a/b",
		"nearby://profile/a?x=1",
	} {
		if id, ok := ProfileID(link); ok {
			t.Errorf("ProfileID(%q) = %q, want rejected", link, id)
		}
	}
}

func TestQRHalvesRows(t *testing.T) {
	content := Link("me")
	out, err := QR(content, "  ")
	if err != nil {
		t.Fatal(err)
	}
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		t.Fatal(err)
	}
	rows := len(qr.Bitmap())

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if want := (rows + 1) / 2; len(lines) != want {
		t.Fatalf("lines = %d, want %d", len(lines), want)
	}
	for i, line := range lines {
		if !strings.HasPrefix(line, "  ") {
			t.Fatalf("line %d missing indent: %q", i, line)
		}
	}
	if !strings.ContainsRune(out, '\u2588') {
		t.Error("no full blocks rendered")
	}
}
