package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/sipeed/mp3relay/pkg/redaction"
	"github.com/sipeed/mp3relay/pkg/utils"
)

// ErrMissingToken is returned by Validate when no bot token is configured.
var ErrMissingToken = errors.New("BOT_TOKEN is not set")

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Fetcher    FetcherConfig    `json:"fetcher"`
	RateLimits RateLimitsConfig `json:"rate_limits"`
	Metrics    MetricsConfig    `json:"metrics"`
	Log        LogConfig        `json:"log"`
}

type TelegramConfig struct {
	Token       string              `json:"token" env:"BOT_TOKEN"`
	Proxy       string              `json:"proxy" env:"MP3RELAY_TELEGRAM_PROXY"`
	APIBaseURL  string              `json:"api_base_url" env:"MP3RELAY_TELEGRAM_API_BASE_URL"`
	AllowFrom   FlexibleStringSlice `json:"allow_from" env:"MP3RELAY_TELEGRAM_ALLOW_FROM"`
	PollTimeout int                 `json:"poll_timeout" env:"MP3RELAY_TELEGRAM_POLL_TIMEOUT"` // seconds
}

// FetcherConfig configures the external media-extraction tool.
type FetcherConfig struct {
	Binary         string `json:"binary" env:"MP3RELAY_FETCHER_BINARY"`
	Format         string `json:"format" env:"MP3RELAY_FETCHER_FORMAT"`
	AudioCodec     string `json:"audio_codec" env:"MP3RELAY_FETCHER_AUDIO_CODEC"`
	AudioQuality   string `json:"audio_quality" env:"MP3RELAY_FETCHER_AUDIO_QUALITY"`
	OutputTemplate string `json:"output_template" env:"MP3RELAY_FETCHER_OUTPUT_TEMPLATE"`
	CookieFile     string `json:"cookie_file" env:"MP3RELAY_FETCHER_COOKIE_FILE"`
	WorkDir        string `json:"work_dir" env:"MP3RELAY_FETCHER_WORK_DIR"`
	Timeout        int    `json:"timeout" env:"MP3RELAY_FETCHER_TIMEOUT"` // seconds, 0 leaves it to the tool
}

type RateLimitsConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" env:"MP3RELAY_RATE_LIMITS_REQUESTS_PER_MINUTE"` // per user, 0 disables
	Burst             int `json:"burst" env:"MP3RELAY_RATE_LIMITS_BURST"`
}

type MetricsConfig struct {
	Listen string `json:"listen" env:"MP3RELAY_METRICS_LISTEN"` // empty disables the /metrics listener
}

type LogConfig struct {
	Level     string           `json:"level" env:"MP3RELAY_LOG_LEVEL"`
	File      string           `json:"file" env:"MP3RELAY_LOG_FILE"`
	Redaction redaction.Config `json:"redaction"`
}

func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			AllowFrom:   FlexibleStringSlice{},
			PollTimeout: 30,
		},
		Fetcher: FetcherConfig{
			Binary:         "yt-dlp",
			Format:         "bestaudio/best",
			AudioCodec:     "mp3",
			AudioQuality:   "192",
			OutputTemplate: "%(id)s.%(ext)s",
			CookieFile:     "cookies.txt",
			WorkDir:        ".",
		},
		RateLimits: RateLimitsConfig{
			RequestsPerMinute: 6,
			Burst:             2,
		},
		Log: LogConfig{
			Level:     "info",
			Redaction: redaction.DefaultConfig(),
		},
	}
}

// LoadConfig reads path (a missing file yields defaults) and then applies
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.Fetcher.WorkDir = expandHome(cfg.Fetcher.WorkDir)
	cfg.Fetcher.CookieFile = expandHome(cfg.Fetcher.CookieFile)
	cfg.Log.File = expandHome(cfg.Log.File)

	return cfg, nil
}

// Validate reports configuration the relay cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return ErrMissingToken
	}
	if c.Fetcher.Binary == "" {
		return errors.New("fetcher.binary is empty")
	}
	if c.Fetcher.AudioCodec == "" {
		return errors.New("fetcher.audio_codec is empty")
	}
	if !strings.Contains(c.Fetcher.OutputTemplate, "%(id)s") {
		return fmt.Errorf("fetcher.output_template %q must contain %%(id)s", c.Fetcher.OutputTemplate)
	}
	if c.Fetcher.Timeout < 0 {
		return errors.New("fetcher.timeout must not be negative")
	}
	if c.RateLimits.RequestsPerMinute < 0 || c.RateLimits.Burst < 0 {
		return errors.New("rate_limits values must not be negative")
	}
	return nil
}

// FetchTimeout returns the configured tool timeout, zero meaning none.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.Timeout) * time.Second
}

// SaveConfig writes cfg as indented JSON. The bot token is never written;
// it is expected to come from BOT_TOKEN.
func SaveConfig(path string, cfg *Config) error {
	out := *cfg
	out.Telegram.Token = ""

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return err
	}

	return utils.WriteFileAtomic(path, data, 0o600)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
