package gateway

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config describes the gateway's runtime configuration, populated from
// the environment.
type Config struct {
	Addr string `env:"VILLAGE_ADDR" envDefault:":8080"`

	RosterPath  string `env:"VILLAGE_ROSTER_PATH" envDefault:"roster.yaml"`
	ArchivePath string `env:"VILLAGE_ARCHIVE_PATH"`

	NotifierURL   string `env:"VILLAGE_NOTIFIER_URL"`
	NotifierToken string `env:"VILLAGE_NOTIFIER_TOKEN"`

	EscalationWindow time.Duration `env:"VILLAGE_ESCALATION_WINDOW" envDefault:"78s"`
	TimerInterval    time.Duration `env:"VILLAGE_TIMER_INTERVAL" envDefault:"1s"`
	Retention        time.Duration `env:"VILLAGE_RETENTION" envDefault:"15m"`

	QueueSize int `env:"VILLAGE_QUEUE_SIZE" envDefault:"64"`
}

// ParseEnv loads the gateway configuration from environment variables.
func ParseEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
