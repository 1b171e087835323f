// cmd/config.go
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aceteam-ai/imposium-cli/internal/api"
	"github.com/aceteam-ai/imposium-cli/internal/delivery"
	"github.com/aceteam-ai/imposium-cli/internal/push"
)

// defaultAPIURL is used when neither the config file, the environment nor --api-url name one.
const defaultAPIURL = "https://api.imposium.com"

// PushConfig holds the push channel settings. An empty URL means poll-only delivery.
type PushConfig struct {
	URL       string        `yaml:"url"`
	Login     string        `yaml:"login,omitempty"`
	Passcode  string        `yaml:"passcode,omitempty"`
	Host      string        `yaml:"host,omitempty"`
	HeartBeat time.Duration `yaml:"heart_beat,omitempty"`

	// HandshakeTimeout bounds the STOMP CONNECT exchange (default: 10s)
	HandshakeTimeout time.Duration `yaml:"handshake_timeout,omitempty"`
}

// Config is the structure of ~/.imposium.yaml.
type Config struct {
	APIURL            string        `yaml:"api_url"`
	AccessToken       string        `yaml:"access_token"`
	APIVersion        string        `yaml:"api_version,omitempty"`
	RequestsPerSecond float64       `yaml:"requests_per_second,omitempty"`
	Push              PushConfig    `yaml:"push"`
	PollInterval      time.Duration `yaml:"poll_interval,omitempty"`
	MaxPollDuration   time.Duration `yaml:"max_poll_duration,omitempty"`
	MaxReconnects     int           `yaml:"max_reconnects,omitempty"`
}

func defaultConfig() *Config {
	return &Config{
		APIURL:       defaultAPIURL,
		APIVersion:   api.DefaultAPIVersion,
		PollInterval: delivery.DefaultPollInterval,
	}
}

// defaultConfigPath returns $HOME/.imposium.yaml, or "" when there is no home directory.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".imposium.yaml")
}

// readConfig loads path over the defaults. A missing file is only an error when required.
func readConfig(path string, required bool) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return cfg, nil
		}
		return nil, fmt.Errorf("could not read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("could not parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv overrides file values with IMPOSIUM_* environment variables.
func (c *Config) applyEnv() {
	c.APIURL = getEnvOrDefault("IMPOSIUM_API_URL", c.APIURL)
	c.AccessToken = getEnvOrDefault("IMPOSIUM_ACCESS_TOKEN", c.AccessToken)
	c.Push.URL = getEnvOrDefault("IMPOSIUM_PUSH_URL", c.Push.URL)
	c.Push.Login = getEnvOrDefault("IMPOSIUM_PUSH_LOGIN", c.Push.Login)
	c.Push.Passcode = getEnvOrDefault("IMPOSIUM_PUSH_PASSCODE", c.Push.Passcode)
}

// loadConfig resolves the effective configuration: defaults, then the config
// file, then the environment, then flags.
func loadConfig(cmd *cobra.Command) (*Config, error) {
	path, required := cfgFile, cfgFile != ""
	if path == "" {
		path = defaultConfigPath()
	}

	cfg, err := readConfig(path, required)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if cmd != nil && cmd.Flags().Changed("api-url") {
		cfg.APIURL = apiURL
	}
	if cmd != nil && cmd.Flags().Changed("push-url") {
		cfg.Push.URL = pushURL
	}

	Debug("config: api=%s push=%q version=%s poll=%s", cfg.APIURL, cfg.Push.URL, cfg.APIVersion, cfg.PollInterval)
	return cfg, nil
}

// newAPIClient builds the job API client for cfg.
func newAPIClient(cfg *Config) (*api.Client, error) {
	return api.NewClient(api.ClientConfig{
		BaseURL:           cfg.APIURL,
		AccessToken:       cfg.AccessToken,
		APIVersion:        cfg.APIVersion,
		RequestsPerSecond: cfg.RequestsPerSecond,
		DebugFunc:         Debug,
	})
}

// newTransport builds the push transport, or returns nil for poll-only delivery.
func newTransport(cfg *Config) (push.Transport, error) {
	if cfg.Push.URL == "" {
		return nil, nil
	}
	return push.NewTransport(push.TransportConfig{
		URL:              cfg.Push.URL,
		Login:            cfg.Push.Login,
		Passcode:         cfg.Push.Passcode,
		Host:             cfg.Push.Host,
		HeartBeat:        cfg.Push.HeartBeat,
		HandshakeTimeout: cfg.Push.HandshakeTimeout,
		DebugFunc:        Debug,
	})
}

// newCoordinator wires a delivery coordinator from cfg.
func newCoordinator(cfg *Config, handler delivery.Handler) (*delivery.Coordinator, error) {
	client, err := newAPIClient(cfg)
	if err != nil {
		return nil, err
	}
	transport, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}

	return delivery.New(delivery.Config{
		PollInterval:    cfg.PollInterval,
		MaxReconnects:   cfg.MaxReconnects,
		MaxPollDuration: cfg.MaxPollDuration,
		LogFn:           logFn,
	}, client, transport, handler), nil
}
