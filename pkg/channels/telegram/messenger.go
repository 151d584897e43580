package telegram

import (
	"context"
	"fmt"
	"os"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/sipeed/mp3relay/pkg/relay"
)

// messenger implements relay.Messenger on top of the Bot API.
type messenger struct {
	bot botAPI
}

var _ relay.Messenger = (*messenger)(nil)

func (m *messenger) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return m.bot.DeleteMessage(ctx, tu.Delete(tu.ID(chatID), messageID))
}

func (m *messenger) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	msg, err := m.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	if err != nil {
		return 0, err
	}
	if msg == nil {
		return 0, nil
	}
	return msg.MessageID, nil
}

func (m *messenger) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	_, err := m.bot.EditMessageText(ctx, tu.EditMessageText(tu.ID(chatID), messageID, text))
	return err
}

// SendAudio uploads audio.Path under audio.Filename, so the on-disk name
// never reaches the user.
func (m *messenger) SendAudio(ctx context.Context, chatID int64, audio relay.Audio) error {
	f, err := os.Open(audio.Path)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	params := &telego.SendAudioParams{
		ChatID:    tu.ID(chatID),
		Audio:     tu.File(tu.NameReader(f, audio.Filename)),
		Title:     audio.Title,
		Performer: audio.Performer,
		Duration:  audio.Duration,
	}
	_, err = m.bot.SendAudio(ctx, params)
	return err
}
