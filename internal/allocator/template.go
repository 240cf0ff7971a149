package allocator

import (
	"errors"
	"strconv"
	"strings"
)

// ErrNoCommand is returned when the supervisor has no server command
// configured.
var ErrNoCommand = errors.New("no server command configured")

// renderCommand splits a command template into argv and substitutes the
// {match_id} and {port} placeholders. The template is whitespace-separated;
// placeholders may appear embedded in larger arguments
// (e.g. "--listen=0.0.0.0:{port}").
func renderCommand(template, matchID string, port int) ([]string, error) {
	fields := strings.Fields(template)
	if len(fields) == 0 {
		return nil, ErrNoCommand
	}

	portText := strconv.Itoa(port)
	argv := make([]string, len(fields))
	for i, f := range fields {
		f = strings.ReplaceAll(f, "{match_id}", matchID)
		f = strings.ReplaceAll(f, "{port}", portText)
		argv[i] = f
	}
	return argv, nil
}
