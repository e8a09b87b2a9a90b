package config

import (
	"fmt"
	"time"
)

// ServerConfig holds the process settings read once at startup. Unlike Config it is
// not reloaded.
type ServerConfig struct {
	App struct {
		Name string `mapstructure:"name"`
	} `mapstructure:"app"`

	Log struct {
		Development bool `mapstructure:"development"`
	} `mapstructure:"log"`

	NATS    NATSSettings    `mapstructure:"nats"`
	SMTP    SMTPSettings    `mapstructure:"smtp"`
	Mailgun MailgunSettings `mapstructure:"mailgun"`
	Consul  ConsulSettings  `mapstructure:"consul"`
	History HistorySettings `mapstructure:"history"`
	Metrics MetricsSettings `mapstructure:"metrics"`
}

// NATSSettings configures the JetStream alert channel. No URLs disables it.
type NATSSettings struct {
	URLs           []string      `mapstructure:"urls"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// SMTPSettings configures the email channel. An empty host disables it.
type SMTPSettings struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// Enabled reports whether the channel is configured
func (s SMTPSettings) Enabled() bool {
	return s.Host != ""
}

// Addr returns host:port
func (s SMTPSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MailgunSettings configures the mailgun channel
type MailgunSettings struct {
	Domain string   `mapstructure:"domain"`
	APIKey string   `mapstructure:"api_key"`
	From   string   `mapstructure:"from"`
	To     []string `mapstructure:"to"`
}

// Enabled reports whether the channel is configured
func (s MailgunSettings) Enabled() bool {
	return s.Domain != "" && s.APIKey != ""
}

// ConsulSettings configures the consul liveness probe. An empty address disables it.
type ConsulSettings struct {
	Address string `mapstructure:"address"`
}

// HistorySettings configures the SQLite alert history. An empty path disables it.
type HistorySettings struct {
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// Retention returns how long history rows are kept
func (s HistorySettings) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// MetricsSettings configures the Prometheus listener. An empty address disables it.
type MetricsSettings struct {
	Address string `mapstructure:"address"`
}
