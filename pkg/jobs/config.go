package jobs

import (
	"strings"
	"time"
)

// Config describes the AI job backend.
type Config struct {
	APIBaseURL string `env:"API_BASE_URL" envDefault:"http://localhost:8000"`
	// WSBaseURL defaults to APIBaseURL with its scheme switched to ws/wss.
	WSBaseURL         string        `env:"WS_BASE_URL"`
	RequestTimeout    time.Duration `env:"JOBS_REQUEST_TIMEOUT" envDefault:"30s"`
	DialTimeout       time.Duration `env:"JOBS_DIAL_TIMEOUT" envDefault:"10s"`
	HeartbeatInterval time.Duration `env:"JOBS_HEARTBEAT_INTERVAL" envDefault:"30s"`
	ReconnectDelay    time.Duration `env:"JOBS_RECONNECT_DELAY" envDefault:"3s"`
	ReconnectAttempts int           `env:"JOBS_RECONNECT_ATTEMPTS" envDefault:"5"`
}

func (c Config) apiBase() string {
	return strings.TrimRight(c.APIBaseURL, "/")
}

func (c Config) wsBase() string {
	if c.WSBaseURL != "" {
		return strings.TrimRight(c.WSBaseURL, "/")
	}
	base := c.apiBase()
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
