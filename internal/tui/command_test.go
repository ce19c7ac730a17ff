package tui

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"quit", Command{Name: "quit"}},
		{"  Q ", Command{Name: "quit"}},
		{"chat sim-alex", Command{Name: "chat", Args: "sim-alex"}},
		{"c   sim-alex  ", Command{Name: "chat", Args: "sim-alex"}},
		{"perm bluetooth", Command{Name: "permission", Args: "bluetooth"}},
		{"Connect Sim-Mike", Command{Name: "connect", Args: "Sim-Mike"}},
		{"", Command{}},
	}
	for _, tt := range tests {
		if got := ParseCommand(tt.in); got != tt.want {
			t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
