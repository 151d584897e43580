package telegram

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// normalizeTelegramAPIBaseURL validates a custom Bot API server address and
// strips the trailing slash. An empty value selects the public server.
func normalizeTelegramAPIBaseURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "https":
	case "":
		return "", errors.New("missing scheme")
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("missing host")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", errors.New("query and fragment are not allowed")
	}

	return strings.TrimRight(u.String(), "/"), nil
}
