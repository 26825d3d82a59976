package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// UserCommand is one client-menu entry pushed to clients that advertise the
// UserCommand extension. Command holds the fully rendered wire frame.
type UserCommand struct {
	Name       string
	Permission int
	Position   float64
	Type       int
	Context    int
	Command    string
}

// LoadUserCommands reads the [dchub-usercommands] section. Each value has
// the form: permission position type context command. The raw command text
// has $ and | escaped before it is framed, per the UserCommand extension.
func LoadUserCommands(path string) (map[string]*UserCommand, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load usercommands file: %w", err)
	}
	commands := make(map[string]*UserCommand)
	sec, err := f.GetSection("dchub-usercommands")
	if err != nil {
		return commands, nil
	}
	for name, value := range sec.KeysHash() {
		uc, err := parseUserCommand(name, value)
		if err != nil {
			return nil, err
		}
		commands[name] = uc
	}
	return commands, nil
}

func parseUserCommand(name, value string) (*UserCommand, error) {
	parts := strings.SplitN(value, " ", 5)
	if len(parts) != 5 {
		return nil, fmt.Errorf("usercommand %q: value is not perm position type context command", name)
	}
	perm, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("usercommand %q: permission: %w", name, err)
	}
	position, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, fmt.Errorf("usercommand %q: position: %w", name, err)
	}
	typ, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, fmt.Errorf("usercommand %q: type: %w", name, err)
	}
	context, err := strconv.Atoi(parts[3])
	if err != nil {
		return nil, fmt.Errorf("usercommand %q: context: %w", name, err)
	}
	escaped := strings.ReplaceAll(parts[4], "$", "$&#36;")
	escaped = strings.ReplaceAll(escaped, "|", "&#124;")
	return &UserCommand{
		Name:       name,
		Permission: perm,
		Position:   position,
		Type:       typ,
		Context:    context,
		Command:    fmt.Sprintf("$UserCommand %d %d %s|", typ, context, escaped),
	}, nil
}
