package tui

import "strings"

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// aliases maps short command names to their full form.
var aliases = map[string]string{
	"q":    "quit",
	"h":    "help",
	"c":    "chat",
	"conn": "connect",
	"perm": "permission",
}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	name, args, _ := strings.Cut(input, " ")
	cmd := Command{Name: strings.ToLower(name), Args: strings.TrimSpace(args)}
	if full, ok := aliases[cmd.Name]; ok {
		cmd.Name = full
	}
	return cmd
}
