// Package config handles sensorpub configuration loading.
//
// A config file is optional. It supplies broker connection defaults that
// command-line flags override on a per-invocation basis.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Broker session constants. These are the values every invocation uses
// unless the config file or a flag says otherwise.
const (
	DefaultClientID     = "sensorpub"
	DefaultKeepAlive    = 5 * time.Second
	DefaultHost         = "localhost"
	DefaultPort         = 1883
	DefaultTimeout      = 10 * time.Second
	DefaultWebSocketURL = "/mqtt"
	DefaultMetricsJob   = "sensorpub"
)

// Supported protocol versions.
const (
	ProtocolV311 = "3.1.1"
	ProtocolV5   = "5"
)

// Supported transports.
const (
	TransportTCP = "tcp"
	TransportTLS = "tls"
	TransportWS  = "ws"
	TransportWSS = "wss"
)

// Confirmation modes. ConfirmSent completes when the PUBLISH frame has
// been written to the connection; ConfirmAcked waits for the broker's
// PUBACK.
const (
	ConfirmSent  = "sent"
	ConfirmAcked = "acked"
)

// ErrNotFound is returned by [FindConfig] when no explicit path was given
// and none of the default locations holds a config file.
var ErrNotFound = errors.New("no config file found")

// DefaultSearchPaths returns the config file search order.
// An explicit path (from --config) is checked first.
// Then: ./sensorpub.yaml, ~/.config/sensorpub/config.yaml, /etc/sensorpub/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"sensorpub.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "sensorpub", "config.yaml"))
	}

	paths = append(paths, "/etc/sensorpub/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists,
// or an error wrapping [ErrNotFound].
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNotFound, DefaultSearchPaths())
}

// Config holds all sensorpub configuration.
type Config struct {
	Broker    BrokerConfig  `yaml:"broker"`
	Metrics   MetricsConfig `yaml:"metrics"`
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"` // text (default) or json
}

// BrokerConfig defines how to reach the MQTT broker and how long to
// wait for a publish to be confirmed.
type BrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ClientID is sent on CONNECT. Every invocation uses the same
	// identifier, so two overlapping runs will knock each other off
	// the broker.
	ClientID     string `yaml:"client_id"`
	KeepAliveSec int    `yaml:"keep_alive_sec"`

	Protocol      string `yaml:"protocol"`       // 3.1.1 or 5
	Transport     string `yaml:"transport"`      // tcp, tls, ws, wss
	WebSocketPath string `yaml:"websocket_path"` // ws/wss only

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	TLSInsecureSkipVerify bool `yaml:"tls_insecure_skip_verify"`

	// ProxyURL routes the broker connection through a SOCKS5 proxy,
	// e.g. socks5://127.0.0.1:1080.
	ProxyURL string `yaml:"proxy_url"`

	// Confirm selects the completion signal: "sent" or "acked".
	Confirm string `yaml:"confirm"`

	// TimeoutSec bounds connect, publish and confirmation together.
	TimeoutSec int `yaml:"timeout_sec"`
}

// MetricsConfig defines the optional Prometheus Pushgateway target.
// When PushgatewayURL is empty no metrics leave the process.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

// KeepAlive returns the keep-alive interval as a duration.
func (b BrokerConfig) KeepAlive() time.Duration {
	return time.Duration(b.KeepAliveSec) * time.Second
}

// Timeout returns the confirmation deadline as a duration.
func (b BrokerConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSec) * time.Second
}

// Validate reports the first invalid broker setting.
func (b BrokerConfig) Validate() error {
	switch {
	case b.Host == "":
		return fmt.Errorf("broker host must not be empty")
	case b.Port < 1 || b.Port > 65535:
		return fmt.Errorf("broker port %d out of range 1-65535", b.Port)
	case b.ClientID == "":
		return fmt.Errorf("client id must not be empty")
	case len(b.ClientID) > 65535:
		return fmt.Errorf("client id longer than 65535 bytes")
	case b.KeepAliveSec < 1 || b.KeepAliveSec > 65535:
		return fmt.Errorf("keep-alive %ds out of range 1-65535", b.KeepAliveSec)
	case b.TimeoutSec < 1 || b.TimeoutSec > 3600:
		return fmt.Errorf("timeout %ds out of range 1-3600", b.TimeoutSec)
	}

	switch b.Protocol {
	case ProtocolV311, ProtocolV5:
	default:
		return fmt.Errorf("unknown protocol %q (valid: %s, %s)", b.Protocol, ProtocolV311, ProtocolV5)
	}

	switch b.Transport {
	case TransportTCP, TransportTLS, TransportWS, TransportWSS:
	default:
		return fmt.Errorf("unknown transport %q (valid: tcp, tls, ws, wss)", b.Transport)
	}

	switch b.Confirm {
	case ConfirmSent, ConfirmAcked:
	default:
		return fmt.Errorf("unknown confirm mode %q (valid: %s, %s)", b.Confirm, ConfirmSent, ConfirmAcked)
	}

	if b.ProxyURL != "" {
		u, err := url.Parse(b.ProxyURL)
		if err != nil {
			return fmt.Errorf("parse proxy URL: %w", err)
		}
		if u.Scheme != "socks5" && u.Scheme != "socks5h" {
			return fmt.Errorf("unsupported proxy scheme %q (valid: socks5, socks5h)", u.Scheme)
		}
	}

	return nil
}

// Validate checks the whole configuration, including the log settings.
func (c *Config) Validate() error {
	if err := c.Broker.Validate(); err != nil {
		return err
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := ParseLogFormat(c.LogFormat); err != nil {
		return err
	}
	if c.Metrics.PushgatewayURL != "" {
		if _, err := url.ParseRequestURI(c.Metrics.PushgatewayURL); err != nil {
			return fmt.Errorf("parse pushgateway URL: %w", err)
		}
	}
	return nil
}

// Load reads configuration from a YAML file. Values the file does not
// set keep their [Default] value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:          DefaultHost,
			Port:          DefaultPort,
			ClientID:      DefaultClientID,
			KeepAliveSec:  int(DefaultKeepAlive / time.Second),
			Protocol:      ProtocolV311,
			Transport:     TransportTCP,
			WebSocketPath: DefaultWebSocketURL,
			Confirm:       ConfirmSent,
			TimeoutSec:    int(DefaultTimeout / time.Second),
		},
		Metrics: MetricsConfig{
			Job: DefaultMetricsJob,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}
