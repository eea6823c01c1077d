package core

import (
	"fmt"
	"strings"
	"time"
)

type RefreshConfig struct {
	Interval    time.Duration `koanf:"interval" mapstructure:"interval"`
	LeadWindow  time.Duration `koanf:"lead_window" mapstructure:"lead_window"`
	MaxFailures int           `koanf:"max_failures" mapstructure:"max_failures"`
}

type PublishConfig struct {
	MaxConcurrent int `koanf:"max_concurrent" mapstructure:"max_concurrent"`
}

type Config struct {
	ServiceName string        `koanf:"service_name" mapstructure:"service_name"`
	StateTTL    time.Duration `koanf:"state_ttl" mapstructure:"state_ttl"`
	Refresh     RefreshConfig `koanf:"refresh" mapstructure:"refresh"`
	Publish     PublishConfig `koanf:"publish" mapstructure:"publish"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "social",
		StateTTL:    DefaultStateTokenTTL,
		Refresh: RefreshConfig{
			Interval:    time.Hour,
			LeadWindow:  2 * time.Hour,
			MaxFailures: 3,
		},
		Publish: PublishConfig{
			MaxConcurrent: 4,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.StateTTL < 0 {
		return fmt.Errorf("core: state_ttl must not be negative")
	}
	if c.Refresh.Interval < 0 || c.Refresh.LeadWindow < 0 {
		return fmt.Errorf("core: refresh windows must not be negative")
	}
	if c.Refresh.MaxFailures < 0 {
		return fmt.Errorf("core: refresh max_failures must not be negative")
	}
	if c.Publish.MaxConcurrent < 0 {
		return fmt.Errorf("core: publish max_concurrent must not be negative")
	}
	return nil
}
