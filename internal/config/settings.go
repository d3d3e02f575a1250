package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const defaultServerURL = "http://127.0.0.1:8080"

const (
	defaultPageSize             = 50
	defaultPingIntervalSeconds  = 25
	defaultReconnectMaxAttempts = 10
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Stream  StreamConfig  `toml:"stream"`
	History HistoryConfig `toml:"history"`
	Logging LoggingConfig `toml:"logging"`
	Debug   DebugConfig   `toml:"debug"`
}

type ServerConfig struct {
	URL       string `toml:"url"`
	Token     string `toml:"token"`
	TokenFile string `toml:"token_file"`
}

type StreamConfig struct {
	PingIntervalSeconds  int `toml:"ping_interval_seconds"`
	ReconnectMaxAttempts int `toml:"reconnect_max_attempts"`
}

type HistoryConfig struct {
	PageSize int `toml:"page_size"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

type DebugConfig struct {
	StreamDebug bool `toml:"stream_debug"`
}

func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			URL: defaultServerURL,
		},
		Stream: StreamConfig{
			PingIntervalSeconds:  defaultPingIntervalSeconds,
			ReconnectMaxAttempts: defaultReconnectMaxAttempts,
		},
		History: HistoryConfig{
			PageSize: defaultPageSize,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func LoadConfig() (Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Config{}, err
	}
	return loadConfigFromPath(path)
}

// ServerBaseURL returns the configured server URL with the scheme intact.
// The transport derives the websocket scheme from it.
func (c Config) ServerBaseURL() string {
	addr := strings.TrimSpace(c.Server.URL)
	if addr == "" {
		return defaultServerURL
	}
	addr = strings.TrimRight(addr, "/")
	if addr == "" {
		return defaultServerURL
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return addr
}

// Token returns the inline token, which takes precedence over the token
// file.
func (c Config) Token() string {
	return strings.TrimSpace(c.Server.Token)
}

// ResolveTokenPath returns the token file path, honoring an override in the
// config. Relative overrides resolve under the data directory.
func (c Config) ResolveTokenPath() (string, error) {
	defaultPath, err := TokenPath()
	if err != nil {
		return "", err
	}
	path := strings.TrimSpace(c.Server.TokenFile)
	if path == "" {
		return defaultPath, nil
	}
	return resolveConfigPath(path)
}

func (c Config) LogLevel() string {
	level := strings.TrimSpace(c.Logging.Level)
	if level == "" {
		return "info"
	}
	return level
}

func (c Config) StreamDebugEnabled() bool {
	return c.Debug.StreamDebug
}

func (c Config) PageSize() int {
	if c.History.PageSize <= 0 {
		return defaultPageSize
	}
	return c.History.PageSize
}

func (c Config) PingInterval() time.Duration {
	seconds := c.Stream.PingIntervalSeconds
	if seconds <= 0 {
		seconds = defaultPingIntervalSeconds
	}
	return time.Duration(seconds) * time.Second
}

func (c Config) ReconnectMaxAttempts() int {
	if c.Stream.ReconnectMaxAttempts <= 0 {
		return defaultReconnectMaxAttempts
	}
	return c.Stream.ReconnectMaxAttempts
}

func loadConfigFromPath(path string) (Config, error) {
	cfg := DefaultConfig()
	if err := readTOML(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readTOML(path string, out any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return toml.Unmarshal(data, out)
}

func resolveConfigPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("path is required")
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, path), nil
}
