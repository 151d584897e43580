// Package telegram connects the relay to the Telegram Bot API through telego.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/sipeed/mp3relay/pkg/commands"
	"github.com/sipeed/mp3relay/pkg/config"
	"github.com/sipeed/mp3relay/pkg/logger"
	"github.com/sipeed/mp3relay/pkg/metrics"
	"github.com/sipeed/mp3relay/pkg/ratelimit"
	"github.com/sipeed/mp3relay/pkg/relay"
)

const channelName = "telegram"

// RateLimitedText is the reply to a user who sends links faster than allowed.
const RateLimitedText = "Too many requests. Please wait a moment and try again."

// botAPI is the part of *telego.Bot the channel uses.
type botAPI interface {
	Username() string
	UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, options ...telego.LongPollingOption) (<-chan telego.Update, error)
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	EditMessageText(ctx context.Context, params *telego.EditMessageTextParams) (*telego.Message, error)
	DeleteMessage(ctx context.Context, params *telego.DeleteMessageParams) error
	SendAudio(ctx context.Context, params *telego.SendAudioParams) (*telego.Message, error)
	SetMyCommands(ctx context.Context, params *telego.SetMyCommandsParams) error
}

// RequestHandler runs one download request to completion.
type RequestHandler interface {
	Handle(ctx context.Context, req relay.Request) relay.Outcome
}

type TelegramChannel struct {
	bot        botAPI
	config     config.TelegramConfig
	allowList  []string
	dispatcher commands.Dispatching
	defs       []commands.Definition
	handler    RequestHandler
	limiter    *ratelimit.Limiter
	metrics    *metrics.Metrics

	mu         sync.Mutex
	running    bool
	pollCancel context.CancelFunc
	workCancel context.CancelFunc
	pollDone   chan struct{}
	inflight   sync.WaitGroup

	commandRegCancel context.CancelFunc
	registerFunc     func(context.Context, []commands.Definition) error
}

type Option func(*TelegramChannel)

// WithCommands installs the slash commands the bot answers and advertises.
func WithCommands(defs []commands.Definition) Option {
	return func(c *TelegramChannel) {
		c.defs = defs
		c.dispatcher = commands.NewDispatcher(commands.NewRegistry(defs))
	}
}

func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(c *TelegramChannel) { c.limiter = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *TelegramChannel) { c.metrics = m }
}

func NewTelegramChannel(cfg config.TelegramConfig, opts ...Option) (*TelegramChannel, error) {
	var botOpts []telego.BotOption

	if cfg.Proxy != "" {
		proxyURL, parseErr := url.Parse(cfg.Proxy)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, parseErr)
		}
		botOpts = append(botOpts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			},
		}))
	}

	apiBaseURL, err := normalizeTelegramAPIBaseURL(cfg.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram api_base_url %q: %w", cfg.APIBaseURL, err)
	}
	if apiBaseURL != "" {
		botOpts = append(botOpts, telego.WithAPIServer(apiBaseURL))
	}

	bot, err := telego.NewBot(cfg.Token, botOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return newChannel(bot, cfg, opts...), nil
}

func newChannel(bot botAPI, cfg config.TelegramConfig, opts ...Option) *TelegramChannel {
	c := &TelegramChannel{
		bot:       bot,
		config:    cfg,
		allowList: []string(cfg.AllowFrom),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Messenger returns the relay.Messenger backed by this bot.
func (c *TelegramChannel) Messenger() relay.Messenger {
	return &messenger{bot: c.bot}
}

// SetRequestHandler sets where non-command text is sent.
func (c *TelegramChannel) SetRequestHandler(h RequestHandler) {
	c.handler = h
}

func (c *TelegramChannel) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// IsAllowed checks senderID against allow_from. Entries may be a numeric
// ID, a username with or without "@", or the "id|username" compound form.
func (c *TelegramChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if i := strings.Index(senderID, "|"); i > 0 {
		idPart = senderID[:i]
		userPart = senderID[i+1:]
	}

	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(strings.TrimSpace(allowed), "@")
		if trimmed == "" {
			continue
		}
		if trimmed == senderID || trimmed == idPart {
			return true
		}
		if i := strings.Index(trimmed, "|"); i > 0 && trimmed[:i] == idPart {
			return true
		}
		if userPart != "" && strings.EqualFold(trimmed, userPart) {
			return true
		}
	}
	return false
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	logger.InfoC("telegram", "Starting Telegram bot (polling mode)...")

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("telegram channel already running")
	}
	c.mu.Unlock()

	pollCtx, pollCancel := context.WithCancel(ctx)
	// Requests outlive the poll loop so Stop can drain them.
	workCtx, workCancel := context.WithCancel(context.WithoutCancel(ctx))

	timeout := c.config.PollTimeout
	if timeout <= 0 {
		timeout = 30
	}
	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        timeout,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		pollCancel()
		workCancel()
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.running = true
	c.pollCancel = pollCancel
	c.workCancel = workCancel
	c.pollDone = done
	c.mu.Unlock()

	logger.InfoCF("telegram", "Telegram bot connected", map[string]any{
		"username": c.bot.Username(),
	})

	c.startCommandRegistration(pollCtx, c.defs)

	go func() {
		defer close(done)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					logger.InfoC("telegram", "Updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(workCtx, *update.Message)
				}
			}
		}
	}()

	return nil
}

// Stop ends polling and waits for in-flight requests. When ctx expires
// first, the remaining requests are cancelled.
func (c *TelegramChannel) Stop(ctx context.Context) error {
	logger.InfoC("telegram", "Stopping Telegram bot...")

	c.mu.Lock()
	pollCancel, workCancel, done := c.pollCancel, c.workCancel, c.pollDone
	regCancel := c.commandRegCancel
	c.running = false
	c.pollCancel, c.workCancel, c.pollDone = nil, nil, nil
	c.mu.Unlock()

	if regCancel != nil {
		regCancel()
	}
	if pollCancel == nil {
		return nil
	}
	pollCancel()
	<-done

	waited := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(waited)
	}()

	defer workCancel()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight requests: %w", ctx.Err())
	}
}

func (c *TelegramChannel) handleMessage(ctx context.Context, message telego.Message) {
	user := message.From
	if user == nil {
		return
	}
	if message.Text == "" {
		return
	}

	userID := strconv.FormatInt(user.ID, 10)
	senderID := userID
	if user.Username != "" {
		senderID = userID + "|" + user.Username
	}

	if !c.IsAllowed(senderID) {
		logger.DebugCF("telegram", "Message rejected by allowlist", map[string]any{
			"user_id":  userID,
			"username": user.Username,
		})
		return
	}

	if c.dispatchCommand(ctx, message) {
		return
	}

	if !c.limiter.Allow(userID) {
		c.metrics.RecordRateLimited()
		logger.WarnCF("telegram", "Request rate limited", map[string]any{
			"user_id":     userID,
			"retry_after": c.limiter.RetryAfter(userID).Round(time.Second).String(),
		})
		if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(message.Chat.ID), RateLimitedText)); err != nil {
			logger.WarnCF("telegram", "Failed to send rate limit notice", map[string]any{
				"error": err.Error(),
			})
		}
		return
	}

	if c.handler == nil {
		logger.WarnC("telegram", "No request handler configured; dropping message")
		return
	}

	req := relay.Request{
		ChatID:    message.Chat.ID,
		MessageID: message.MessageID,
		SenderID:  senderID,
		Text:      message.Text,
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		c.handler.Handle(ctx, req)
	}()
}
