package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sipeed/mp3relay/cmd/mp3relay/internal"
	"github.com/sipeed/mp3relay/pkg/channels/telegram"
	"github.com/sipeed/mp3relay/pkg/commands"
	"github.com/sipeed/mp3relay/pkg/config"
	"github.com/sipeed/mp3relay/pkg/fetcher"
	"github.com/sipeed/mp3relay/pkg/logger"
	"github.com/sipeed/mp3relay/pkg/media"
	"github.com/sipeed/mp3relay/pkg/metrics"
	"github.com/sipeed/mp3relay/pkg/ratelimit"
	"github.com/sipeed/mp3relay/pkg/relay"
)

const (
	shutdownTimeout = 2 * time.Minute
	limiterIdleTTL  = time.Hour
)

// relayApp is everything runRelay starts, assembled without network calls.
type relayApp struct {
	cfg     *config.Config
	channel *telegram.TelegramChannel
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
}

func runRelay(ctx context.Context, debug bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := configureLogging(cfg, debug); err != nil {
		return err
	}
	defer logger.DisableFileLogging()

	app, err := buildRelay(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.run(ctx)
}

func configureLogging(cfg *config.Config, debug bool) error {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}
	if debug {
		level = logger.DEBUG
	}
	logger.SetLevel(level)
	logger.ConfigureRedaction(cfg.Log.Redaction)
	logger.SetRedactionEnabled(cfg.Log.Redaction.Enabled)

	if cfg.Log.File != "" {
		if err := logger.EnableFileLogging(cfg.Log.File); err != nil {
			return err
		}
	}
	return nil
}

func buildRelay(cfg *config.Config) (*relayApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Listen != "" {
		m = metrics.New()
	}

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimits.RequestsPerMinute,
		Burst:             cfg.RateLimits.Burst,
	})

	channel, err := telegram.NewTelegramChannel(cfg.Telegram,
		telegram.WithCommands(commands.BuiltinDefinitions(relay.UsageText)),
		telegram.WithRateLimiter(limiter),
		telegram.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	ytdlp := fetcher.NewYTDLP(fetcher.Options{
		Binary:         cfg.Fetcher.Binary,
		Format:         cfg.Fetcher.Format,
		AudioCodec:     cfg.Fetcher.AudioCodec,
		AudioQuality:   cfg.Fetcher.AudioQuality,
		OutputTemplate: cfg.Fetcher.OutputTemplate,
		CookieFile:     cfg.Fetcher.CookieFile,
		WorkDir:        cfg.Fetcher.WorkDir,
		Timeout:        cfg.FetchTimeout(),
	})

	handler := relay.NewHandler(channel.Messenger(), ytdlp,
		relay.WithStore(media.NewFileMediaStore()),
		relay.WithMetrics(m),
	)
	channel.SetRequestHandler(handler)

	opts := ytdlp.Options()
	logger.InfoCF("main", "Fetcher configured", map[string]any{
		"binary":   opts.Binary,
		"format":   opts.Format,
		"codec":    opts.AudioCodec,
		"quality":  opts.AudioQuality,
		"work_dir": opts.WorkDir,
	})

	return &relayApp{cfg: cfg, channel: channel, limiter: limiter, metrics: m}, nil
}

func (a *relayApp) run(ctx context.Context) error {
	if a.metrics != nil {
		go func() {
			if err := a.metrics.Serve(ctx, a.cfg.Metrics.Listen); err != nil {
				logger.ErrorCF("metrics", "Metrics listener failed", map[string]any{
					"addr":  a.cfg.Metrics.Listen,
					"error": err.Error(),
				})
			}
		}()
	}

	if a.limiter.Enabled() {
		go a.limiter.RunCleanup(ctx, 10*time.Minute, limiterIdleTTL)
	}

	if err := a.channel.Start(ctx); err != nil {
		return fmt.Errorf("error starting telegram channel: %w", err)
	}

	fmt.Printf("%s mp3relay is running. Press Ctrl+C to stop.\n", internal.Logo)
	<-ctx.Done()
	fmt.Println("\nShutting down...")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.channel.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WarnCF("main", "Shutdown did not finish cleanly", map[string]any{
			"error": err.Error(),
		})
	}

	logger.InfoC("main", "mp3relay stopped")
	return nil
}
