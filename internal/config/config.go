package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"edugate/internal/domain"
)

type Config struct {
	APIBaseURL  string
	LoginPath   string
	RefreshPath string
	LoginRoute  string

	// RestrictedPrefixes maps an API path prefix to the role required to
	// call it. Requests that fail this check are cancelled before dispatch.
	RestrictedPrefixes map[string]domain.Role

	ChatHubURL   string
	NotifyHubURL string

	HTTPTimeout      time.Duration
	ReconnectBackoff []time.Duration
	DebounceWindow   time.Duration
	FollowUpTimeout  time.Duration

	VaultPath   string
	VaultKey    string
	DeviceLabel string

	AlertWebhookURL string

	AgentUsername string
	AgentPassword string
	AgentRemember bool
}

func Load() Config {
	return Config{
		APIBaseURL:         getEnv("API_BASE_URL", "http://localhost:5000"),
		LoginPath:          getEnv("LOGIN_PATH", "/auth/login"),
		RefreshPath:        getEnv("REFRESH_PATH", "/auth/refresh"),
		LoginRoute:         getEnv("LOGIN_ROUTE", "/login"),
		RestrictedPrefixes: getPrefixRoles("RESTRICTED_PREFIXES", "/api/staff=Staff;/api/admin=Admin"),
		ChatHubURL:         getEnv("CHAT_HUB_URL", "ws://localhost:5000/hubs/chat"),
		NotifyHubURL:       getEnv("NOTIFY_HUB_URL", "ws://localhost:5000/hubs/notifications"),
		HTTPTimeout:        getDuration("HTTP_TIMEOUT", 15*time.Second),
		ReconnectBackoff:   getDurationList("RECONNECT_BACKOFF", "500ms,1s,2s,5s,10s"),
		DebounceWindow:     getDuration("DEBOUNCE_WINDOW", 300*time.Millisecond),
		FollowUpTimeout:    getDuration("FOLLOW_UP_TIMEOUT", 15*time.Second),
		VaultPath:          getEnv("VAULT_PATH", ""),
		VaultKey:           getEnv("VAULT_KEY", ""),
		DeviceLabel:        getEnv("DEVICE_LABEL", defaultDeviceLabel()),
		AlertWebhookURL:    getEnv("ALERT_WEBHOOK_URL", ""),
		AgentUsername:      getEnv("AGENT_USERNAME", ""),
		AgentPassword:      getEnv("AGENT_PASSWORD", ""),
		AgentRemember:      getBool("AGENT_REMEMBER", true),
	}
}

func defaultDeviceLabel() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "edugate-agent"
	}
	return host
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// getDurationList parses a comma-separated ascending delay table. A value
// that fails to parse invalidates the whole table and the fallback is used.
func getDurationList(key, fallback string) []time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		raw = fallback
	}
	out, err := parseDurationList(raw)
	if err != nil {
		out, _ = parseDurationList(fallback)
	}
	return out
}

func parseDurationList(raw string) ([]time.Duration, error) {
	parts := strings.Split(raw, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := time.ParseDuration(p)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// getPrefixRoles parses "prefix=Role;prefix=Role" pairs. Malformed pairs are
// skipped so one typo cannot open a restricted prefix to everyone.
func getPrefixRoles(key, fallback string) map[string]domain.Role {
	raw := os.Getenv(key)
	if raw == "" {
		raw = fallback
	}
	out := make(map[string]domain.Role)
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		eq := strings.Index(pair, "=")
		if eq <= 0 || eq == len(pair)-1 {
			continue
		}
		prefix := strings.TrimSpace(pair[:eq])
		role := strings.TrimSpace(pair[eq+1:])
		if prefix == "" || role == "" {
			continue
		}
		out[prefix] = domain.Role(role)
	}
	return out
}
