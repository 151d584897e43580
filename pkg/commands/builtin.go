package commands

import (
	"context"
	"fmt"
	"strings"
)

// BuiltinDefinitions returns the commands every chat sees. usage is the
// fixed reply to /start.
func BuiltinDefinitions(usage string) []Definition {
	defs := []Definition{
		{
			Name:        "start",
			Description: "Show how to use the bot",
			Usage:       "/start",
			Handler:     replyText(usage),
		},
	}
	defs = append(defs, Definition{
		Name:        "help",
		Description: "List available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, req Request) error {
			if req.Reply == nil {
				return nil
			}
			visible := NewRegistry(defs).ForChannel(req.Channel)
			return req.Reply(usage + "\n\n" + FormatHelpMessage(visible))
		},
	})
	return defs
}

func replyText(text string) Handler {
	return func(_ context.Context, req Request) error {
		if req.Reply == nil {
			return nil
		}
		return req.Reply(text)
	}
}

// FormatHelpMessage renders one "/name - description" line per definition.
func FormatHelpMessage(defs []Definition) string {
	lines := make([]string, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		line := fmt.Sprintf("/%s - %s", def.Name, def.Description)
		if len(def.Aliases) > 0 {
			line += fmt.Sprintf(" (aliases: /%s)", strings.Join(def.Aliases, ", /"))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
