package telegram

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/mymmrac/telego"
)

type sentAudio struct {
	chatID    int64
	filename  string
	body      string
	title     string
	performer string
	duration  int
}

type fakeBot struct {
	mu sync.Mutex

	updates   chan telego.Update
	pollErr   error
	nextMsgID int

	sent     []*telego.SendMessageParams
	edited   []*telego.EditMessageTextParams
	deleted  []*telego.DeleteMessageParams
	audio    []sentAudio
	commands [][]telego.BotCommand

	sendErr   error
	setCmdErr error
}

func newFakeBot() *fakeBot {
	return &fakeBot{updates: make(chan telego.Update, 8), nextMsgID: 100}
}

func (b *fakeBot) Username() string { return "mp3relay_bot" }

func (b *fakeBot) UpdatesViaLongPolling(ctx context.Context, _ *telego.GetUpdatesParams, _ ...telego.LongPollingOption) (<-chan telego.Update, error) {
	if b.pollErr != nil {
		return nil, b.pollErr
	}
	return b.updates, nil
}

func (b *fakeBot) SendMessage(_ context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return nil, b.sendErr
	}
	b.sent = append(b.sent, params)
	b.nextMsgID++
	return &telego.Message{MessageID: b.nextMsgID, Chat: telego.Chat{ID: params.ChatID.ID}}, nil
}

func (b *fakeBot) EditMessageText(_ context.Context, params *telego.EditMessageTextParams) (*telego.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.edited = append(b.edited, params)
	return &telego.Message{MessageID: params.MessageID}, nil
}

func (b *fakeBot) DeleteMessage(_ context.Context, params *telego.DeleteMessageParams) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, params)
	return nil
}

func (b *fakeBot) SendAudio(_ context.Context, params *telego.SendAudioParams) (*telego.Message, error) {
	if params.Audio.File == nil {
		return nil, errors.New("no file")
	}
	data, err := io.ReadAll(params.Audio.File)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audio = append(b.audio, sentAudio{
		chatID:    params.ChatID.ID,
		filename:  params.Audio.File.Name(),
		body:      string(data),
		title:     params.Title,
		performer: params.Performer,
		duration:  params.Duration,
	})
	return &telego.Message{}, nil
}

func (b *fakeBot) SetMyCommands(_ context.Context, params *telego.SetMyCommandsParams) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.setCmdErr != nil {
		return b.setCmdErr
	}
	b.commands = append(b.commands, params.Commands)
	return nil
}

func (b *fakeBot) sentTexts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.sent))
	for _, p := range b.sent {
		out = append(out, p.Text)
	}
	return out
}

func textMessage(userID int64, username, text string) telego.Update {
	return telego.Update{Message: &telego.Message{
		MessageID: 7,
		From:      &telego.User{ID: userID, Username: username},
		Chat:      telego.Chat{ID: userID},
		Text:      text,
	}}
}
