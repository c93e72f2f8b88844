// Package config loads the startup configuration surface consumed by the
// core: the gateway's tool targets and the memory strategy set with their
// namespace templates, plus the deadline/retry/budget knobs. Both are supplied
// by external provisioning and treated as static input.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/gateway"
	"github.com/hupe1980/agentgate/memory"
)

// TargetConfig declares one gateway target.
type TargetConfig struct {
	Name      string `mapstructure:"name"`
	Transport string `mapstructure:"transport"`
	Endpoint  string `mapstructure:"endpoint"`
	AuthMode  string `mapstructure:"auth_mode"`
}

// StrategyConfig declares one memory strategy with its namespace templates.
type StrategyConfig struct {
	Strategy   string   `mapstructure:"strategy"`
	Namespaces []string `mapstructure:"namespaces"`
}

// GatewayConfig groups dispatcher settings.
type GatewayConfig struct {
	Targets         []TargetConfig `mapstructure:"targets"`
	MaxAttempts     int            `mapstructure:"max_attempts"`
	RetryBaseDelay  time.Duration  `mapstructure:"retry_base_delay"`
	RetryMultiplier float64        `mapstructure:"retry_multiplier"`
	CallTimeout     time.Duration  `mapstructure:"call_timeout"`
}

// MemoryConfig groups hook lifecycle settings.
type MemoryConfig struct {
	Strategies   []StrategyConfig `mapstructure:"strategies"`
	TopK         int              `mapstructure:"top_k"`
	RecentTurns  int              `mapstructure:"recent_turns"`
	PersistGrace time.Duration    `mapstructure:"persist_grace"`
}

// InvocationConfig groups per-request settings.
type InvocationConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	QueueBuffer int           `mapstructure:"queue_buffer"`
	MaxRounds   int           `mapstructure:"max_rounds"`
}

// Config is the full startup configuration.
type Config struct {
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Invocation InvocationConfig `mapstructure:"invocation"`
}

// Load reads and validates a configuration file (YAML, TOML or JSON,
// whatever viper recognizes from the extension).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("gateway.max_attempts", 3)
	v.SetDefault("gateway.retry_base_delay", "200ms")
	v.SetDefault("gateway.retry_multiplier", 2.0)
	v.SetDefault("gateway.call_timeout", "30s")
	v.SetDefault("memory.top_k", 5)
	v.SetDefault("memory.recent_turns", 10)
	v.SetDefault("memory.persist_grace", "3s")
	v.SetDefault("invocation.timeout", "2m")
	v.SetDefault("invocation.queue_buffer", core.DefaultQueueBuffer)
	v.SetDefault("invocation.max_rounds", 10)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if _, err := cfg.Registry(); err != nil {
		return nil, err
	}
	if _, err := cfg.Strategies(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Registry builds the gateway's immutable target registry.
func (c *Config) Registry() (*gateway.Registry, error) {
	targets := make([]gateway.Target, len(c.Gateway.Targets))
	for i, tc := range c.Gateway.Targets {
		targets[i] = gateway.Target{
			Name:      tc.Name,
			Transport: gateway.TransportKind(tc.Transport),
			Endpoint:  tc.Endpoint,
			AuthMode:  gateway.AuthMode(tc.AuthMode),
		}
	}
	return gateway.NewRegistry(targets...)
}

// Strategies builds the validated memory strategy set.
func (c *Config) Strategies() ([]memory.StrategyConfig, error) {
	strategies := make([]memory.StrategyConfig, len(c.Memory.Strategies))
	for i, sc := range c.Memory.Strategies {
		strategies[i] = memory.StrategyConfig{
			Strategy:   core.Strategy(sc.Strategy),
			Namespaces: sc.Namespaces,
		}
		if err := strategies[i].Validate(); err != nil {
			return nil, err
		}
	}
	return strategies, nil
}
