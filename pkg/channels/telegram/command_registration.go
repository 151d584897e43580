package telegram

import (
	"context"
	"slices"
	"time"

	"github.com/mymmrac/telego"

	"github.com/sipeed/mp3relay/pkg/commands"
	"github.com/sipeed/mp3relay/pkg/logger"
)

var commandRegistrationBackoff = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	60 * time.Second,
	5 * time.Minute,
	10 * time.Minute,
}

// RegisterCommands publishes defs as the bot's command menu.
func (c *TelegramChannel) RegisterCommands(ctx context.Context, defs []commands.Definition) error {
	return c.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{
		Commands: botCommands(defs),
	})
}

func botCommands(defs []commands.Definition) []telego.BotCommand {
	out := make([]telego.BotCommand, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" || def.Description == "" {
			continue
		}
		if len(def.Channels) > 0 && !slices.Contains(def.Channels, channelName) {
			continue
		}
		out = append(out, telego.BotCommand{
			Command:     def.Name,
			Description: def.Description,
		})
	}
	return out
}

func (c *TelegramChannel) startCommandRegistration(ctx context.Context, defs []commands.Definition) {
	if len(defs) == 0 {
		return
	}

	register := c.registerFunc
	if register == nil {
		register = c.RegisterCommands
	}

	regCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.commandRegCancel = cancel
	c.mu.Unlock()

	go func() {
		attempt := 0
		for {
			err := register(regCtx, defs)
			if err == nil {
				logger.InfoCF("telegram", "Telegram commands registered", map[string]any{
					"count": len(defs),
				})
				return
			}

			if regCtx.Err() != nil {
				return
			}

			delay := commandRegistrationBackoff[min(attempt, len(commandRegistrationBackoff)-1)]
			logger.WarnCF("telegram", "Telegram command registration failed; will retry", map[string]any{
				"attempt":     attempt + 1,
				"error":       err.Error(),
				"retry_after": delay.String(),
			})
			attempt++

			select {
			case <-regCtx.Done():
				return
			case <-time.After(delay):
			}
		}
	}()
}
