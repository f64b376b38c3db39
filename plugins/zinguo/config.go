package zinguo

import (
	"fmt"
	"strings"
	"time"

	"github.com/joshp123/zinguo/internal/config"
)

const (
	defaultBaseURL        = config.DefaultBaseURL
	defaultPollInterval   = config.DefaultPollInterval
	defaultRequestTimeout = config.DefaultRequestTimeout
)

// Config defines runtime configuration for one coordinated device.
type Config struct {
	Name     string
	Account  string
	Password string
	MAC      string

	LoginURL   string
	DevicesURL string
	ControlURL string

	PollInterval   time.Duration
	RequestTimeout time.Duration
	Codes          StatusMap
}

// ConfigFromFile resolves the YAML section into a runtime Config.
func ConfigFromFile(cfg *config.ZinguoConfig) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("zinguo config is required")
	}
	password, err := cfg.ResolvePassword()
	if err != nil {
		return Config{}, err
	}

	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}

	codes := DefaultStatusMap()
	if cfg.OnCode != nil {
		codes.OnCode = *cfg.OnCode
	}
	if cfg.OffCode != nil {
		codes.OffCode = *cfg.OffCode
	}

	out := Config{
		Name:           cfg.Name,
		Account:        cfg.Account,
		Password:       password,
		MAC:            cfg.MAC,
		LoginURL:       joinURL(base, cfg.LoginPath, config.DefaultLoginPath),
		DevicesURL:     joinURL(base, cfg.DevicesPath, config.DefaultDevicesPath),
		ControlURL:     joinURL(base, cfg.ControlPath, config.DefaultControlPath),
		PollInterval:   cfg.PollInterval,
		RequestTimeout: cfg.RequestTimeout,
		Codes:          codes,
	}
	out = out.withDefaults()
	if err := out.validate(); err != nil {
		return Config{}, err
	}
	return out, nil
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "Zinguo"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.Codes == (StatusMap{}) {
		c.Codes = DefaultStatusMap()
	}
	return c
}

func (c Config) validate() error {
	if c.Account == "" {
		return fmt.Errorf("zinguo account is required")
	}
	if c.Password == "" {
		return fmt.Errorf("zinguo password is required")
	}
	if c.MAC == "" {
		return fmt.Errorf("zinguo mac is required")
	}
	if c.LoginURL == "" || c.DevicesURL == "" || c.ControlURL == "" {
		return fmt.Errorf("zinguo endpoint urls are required")
	}
	if c.Codes.OnCode == c.Codes.OffCode {
		return fmt.Errorf("zinguo on and off codes must differ")
	}
	return nil
}

func joinURL(base, path, fallback string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		path = fallback
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
