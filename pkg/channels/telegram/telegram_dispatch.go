package telegram

import (
	"context"
	"strconv"

	"github.com/mymmrac/telego"

	"github.com/sipeed/mp3relay/pkg/commands"
	"github.com/sipeed/mp3relay/pkg/logger"
)

func (c *TelegramChannel) DispatchCommand(ctx context.Context, req commands.Request) commands.Result {
	if c.dispatcher == nil {
		return commands.Result{Matched: commands.IsCommand(req.Text)}
	}
	return c.dispatcher.Dispatch(ctx, req)
}

// dispatchCommand reports whether message was a slash command. Unknown
// commands count as handled so they never reach the downloader.
func (c *TelegramChannel) dispatchCommand(ctx context.Context, message telego.Message) bool {
	senderID := ""
	if message.From != nil {
		senderID = strconv.FormatInt(message.From.ID, 10)
	}

	res := c.DispatchCommand(ctx, commands.Request{
		Channel:   channelName,
		ChatID:    strconv.FormatInt(message.Chat.ID, 10),
		SenderID:  senderID,
		Text:      message.Text,
		MessageID: strconv.Itoa(message.MessageID),
		Reply: func(text string) error {
			_, err := c.bot.SendMessage(ctx, &telego.SendMessageParams{
				ChatID: telego.ChatID{ID: message.Chat.ID},
				Text:   text,
				ReplyParameters: &telego.ReplyParameters{
					MessageID: message.MessageID,
				},
			})
			return err
		},
	})
	if !res.Matched {
		return false
	}

	if !res.Handled {
		logger.DebugCF("telegram", "Ignoring unknown command", map[string]any{
			"command": res.Command,
		})
		return true
	}

	c.metrics.RecordCommand(res.Command)
	if res.Err != nil {
		logger.ErrorCF("telegram", "Command execution failed", map[string]any{
			"command": res.Command,
			"error":   res.Err.Error(),
		})
	}

	return true
}
