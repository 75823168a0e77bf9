package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	toml "github.com/pelletier/go-toml/v2"
)

type Config struct {
	Account AccountConfig `toml:"account"`
	Server  ServerConfig  `toml:"server"`
	Cleaner CleanerConfig `toml:"cleaner"`
	Logging LoggingConfig `toml:"logging"`
}

type AccountConfig struct {
	Handle      string `toml:"handle"`
	AppPassword string `toml:"app_password"`
	// PDSHost skips identity resolution when set, e.g. "https://bsky.social".
	PDSHost       string `toml:"pds_host"`
	HTTPTimeout   string `toml:"http_timeout"`
	RefreshWindow string `toml:"refresh_window"`
}

type ServerConfig struct {
	ListenHost string `toml:"listen_host"`
	Port       int    `toml:"port"`
}

type CleanerConfig struct {
	VerifyExists bool `toml:"verify_exists"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

func Default() Config {
	return Config{
		Account: AccountConfig{
			HTTPTimeout:   "30s",
			RefreshWindow: "10m",
		},
		Server: ServerConfig{
			ListenHost: "127.0.0.1",
			Port:       3000,
		},
		Cleaner: CleanerConfig{
			VerifyExists: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load layers an optional TOML file and then POSTCLEANER_* environment
// variables over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if len(content) > 0 {
			if err := toml.Unmarshal(content, &cfg); err != nil {
				return Config{}, fmt.Errorf("decode toml: %w", err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(lookup func(string) (string, bool)) error {
	stringVars := map[string]*string{
		"POSTCLEANER_HANDLE":         &cfg.Account.Handle,
		"POSTCLEANER_APP_PASSWORD":   &cfg.Account.AppPassword,
		"POSTCLEANER_PDS_HOST":       &cfg.Account.PDSHost,
		"POSTCLEANER_HTTP_TIMEOUT":   &cfg.Account.HTTPTimeout,
		"POSTCLEANER_REFRESH_WINDOW": &cfg.Account.RefreshWindow,
		"POSTCLEANER_LISTENHOST":     &cfg.Server.ListenHost,
		"POSTCLEANER_LOG_LEVEL":      &cfg.Logging.Level,
	}
	for name, target := range stringVars {
		if value, ok := lookup(name); ok {
			*target = value
		}
	}
	if value, ok := lookup("POSTCLEANER_PORT"); ok {
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid POSTCLEANER_PORT %q: %w", value, err)
		}
		cfg.Server.Port = port
	}
	if value, ok := lookup("POSTCLEANER_VERIFY_EXISTS"); ok {
		verify, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid POSTCLEANER_VERIFY_EXISTS %q: %w", value, err)
		}
		cfg.Cleaner.VerifyExists = verify
	}
	return nil
}

func (cfg Config) Validate() error {
	if strings.TrimSpace(cfg.Account.Handle) == "" {
		return errors.New("account.handle is required")
	}
	if cfg.Account.AppPassword == "" {
		return errors.New("account.app_password is required")
	}
	if _, err := cfg.HTTPTimeout(); err != nil {
		return err
	}
	if _, err := cfg.RefreshWindow(); err != nil {
		return err
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", cfg.Server.Port)
	}
	if _, err := log.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level %q: %w", cfg.Logging.Level, err)
	}
	return nil
}

func (cfg Config) HTTPTimeout() (time.Duration, error) {
	return positiveDuration("account.http_timeout", cfg.Account.HTTPTimeout)
}

func (cfg Config) RefreshWindow() (time.Duration, error) {
	return positiveDuration("account.refresh_window", cfg.Account.RefreshWindow)
}

func (cfg Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", cfg.Server.ListenHost, cfg.Server.Port)
}

func positiveDuration(name string, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return duration, nil
}
