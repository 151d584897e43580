// Package redaction masks secrets before they reach log sinks.
// Telegram bot tokens, cookie values and generic key/token assignments are
// detected by pattern; structured fields are also masked by key name.
package redaction

import (
	"regexp"
	"strings"
	"sync"
)

// Config holds redaction configuration.
type Config struct {
	// Enabled controls whether redaction is active.
	Enabled bool `json:"enabled"`

	// RedactTokens redacts bot tokens, API keys and bearer tokens.
	RedactTokens bool `json:"redact_tokens"`

	// RedactCookies redacts cookie header and Netscape cookie-file values.
	RedactCookies bool `json:"redact_cookies"`

	// RedactEmails masks email addresses down to their first character.
	RedactEmails bool `json:"redact_emails"`

	// CustomPatterns allows additional regex patterns to redact.
	CustomPatterns []string `json:"custom_patterns"`

	// Replacement is the string used to replace sensitive data.
	Replacement string `json:"replacement"`
}

// DefaultConfig returns the default redaction configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		RedactTokens:  true,
		RedactCookies: true,
		RedactEmails:  true,
		Replacement:   "[REDACTED]",
	}
}

// Redactor provides sensitive data redaction capabilities.
type Redactor struct {
	config          Config
	compiledCustom  []*regexp.Regexp
	compiledBuiltin map[string]*regexp.Regexp
	mu              sync.RWMutex
}

// NewRedactor creates a new Redactor with the given configuration.
// Invalid custom patterns are skipped.
func NewRedactor(config Config) *Redactor {
	if config.Replacement == "" {
		config.Replacement = "[REDACTED]"
	}
	r := &Redactor{
		config:          config,
		compiledBuiltin: make(map[string]*regexp.Regexp),
	}

	r.compileBuiltinPatterns()

	for _, pattern := range config.CustomPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			r.compiledCustom = append(r.compiledCustom, re)
		}
	}

	return r
}

func (r *Redactor) compileBuiltinPatterns() {
	// Telegram bot tokens: "<bot id>:<35 char secret>", also inside api URLs.
	r.compiledBuiltin["telegram_token"] = regexp.MustCompile(`\d{6,12}:[A-Za-z0-9_-]{30,}`)
	r.compiledBuiltin["api_key"] = regexp.MustCompile(`(?i)(api[_-]?key|apikey|api[_-]?secret)\s*[=:]\s*['"]?([a-zA-Z0-9_\-]{20,})['"]?`)
	r.compiledBuiltin["bearer_token"] = regexp.MustCompile(`(?i)bearer\s+([a-zA-Z0-9_\-\.]{20,})`)
	r.compiledBuiltin["auth_token"] = regexp.MustCompile(`(?i)(bot[_-]?token|auth[_-]?token|access[_-]?token)\s*[=:]\s*['"]?([a-zA-Z0-9_\-\.:]{20,})['"]?`)

	r.compiledBuiltin["cookie_header"] = regexp.MustCompile(`(?i)(cookie:\s*)([^\r\n]+)`)
	r.compiledBuiltin["session_cookie"] = regexp.MustCompile(`(?i)\b(SID|HSID|SSID|APISID|SAPISID|__Secure-[A-Za-z0-9_-]+|LOGIN_INFO)=([^;\s]+)`)

	r.compiledBuiltin["email"] = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
}

// Redact applies all configured redaction rules to the input string.
func (r *Redactor) Redact(input string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.config.Enabled {
		return input
	}

	result := input

	if r.config.RedactTokens {
		result = r.redactPatterns(result, "telegram_token", "api_key", "bearer_token", "auth_token")
	}

	if r.config.RedactCookies {
		result = r.redactPatterns(result, "cookie_header", "session_cookie")
	}

	if r.config.RedactEmails {
		result = r.compiledBuiltin["email"].ReplaceAllStringFunc(result, r.maskEmail)
	}

	for _, re := range r.compiledCustom {
		result = re.ReplaceAllString(result, r.config.Replacement)
	}

	return result
}

// redactPatterns replaces the last capture group of each match, or the
// whole match when the pattern has no groups.
func (r *Redactor) redactPatterns(input string, patternNames ...string) string {
	result := input
	for _, name := range patternNames {
		re, ok := r.compiledBuiltin[name]
		if !ok {
			continue
		}
		result = re.ReplaceAllStringFunc(result, func(match string) string {
			submatches := re.FindStringSubmatch(match)
			if len(submatches) < 2 {
				return r.config.Replacement
			}
			secret := submatches[len(submatches)-1]
			if secret == "" {
				return match
			}
			idx := strings.LastIndex(match, secret)
			return match[:idx] + r.config.Replacement + match[idx+len(secret):]
		})
	}
	return result
}

func (r *Redactor) maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return r.config.Replacement
	}
	return email[:1] + "***" + email[at:]
}

// RedactFields redacts sensitive values in a map.
// Keys that look like secrets are replaced outright; string values are
// passed through Redact and nested maps are walked.
func (r *Redactor) RedactFields(fields map[string]any) map[string]any {
	r.mu.RLock()
	enabled := r.config.Enabled
	replacement := r.config.Replacement
	r.mu.RUnlock()

	if !enabled {
		return fields
	}

	result := make(map[string]any, len(fields))
	for k, v := range fields {
		if isSensitiveKey(strings.ToLower(k)) {
			result[k] = replacement
			continue
		}
		switch val := v.(type) {
		case string:
			result[k] = r.Redact(val)
		case map[string]any:
			result[k] = r.RedactFields(val)
		default:
			result[k] = v
		}
	}
	return result
}

var sensitiveKeys = []string{
	"password", "passwd",
	"api_key", "apikey", "secret",
	"token", "cookie", "credential",
}

func isSensitiveKey(key string) bool {
	for _, sk := range sensitiveKeys {
		if strings.Contains(key, sk) {
			return true
		}
	}
	return false
}

var (
	globalMu       sync.RWMutex
	globalRedactor = NewRedactor(DefaultConfig())
)

// Redact applies redaction using the global redactor.
func Redact(input string) string {
	globalMu.RLock()
	r := globalRedactor
	globalMu.RUnlock()
	return r.Redact(input)
}

// RedactFields redacts fields using the global redactor.
func RedactFields(fields map[string]any) map[string]any {
	globalMu.RLock()
	r := globalRedactor
	globalMu.RUnlock()
	return r.RedactFields(fields)
}

// SetGlobalConfig sets the configuration for the global redactor.
func SetGlobalConfig(config Config) {
	r := NewRedactor(config)
	globalMu.Lock()
	globalRedactor = r
	globalMu.Unlock()
}
