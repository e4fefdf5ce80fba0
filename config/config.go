// Package config loads the daemon configuration from the environment via
// viper. Every key has a prefixed form (PREDEX_SERVER_PORT) and the
// operational knobs also answer to their bare deployment names (PORT,
// DATABASE_URL); the bare form wins when both are set.
package config

import (
	"fmt"
	"strings"
	"time"

	"cosmossdk.io/log"
	"github.com/spf13/viper"

	"github.com/openpredict/predex/pkg/num"
)

// Config is the top-level daemon configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Market    MarketConfig    `mapstructure:"market"`
	Orderbook OrderbookConfig `mapstructure:"orderbook"`
	Websocket WebsocketConfig `mapstructure:"websocket"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Decimal   DecimalConfig   `mapstructure:"decimal"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	DisableRateLimit bool          `mapstructure:"disable_rate_limit"`
}

// DatabaseConfig points at the SQLite database file.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// BrokerConfig points at the Redis instance backing queues and pub/sub.
type BrokerConfig struct {
	URL string `mapstructure:"url"`
}

// MarketConfig holds market creation defaults.
type MarketConfig struct {
	// InitialLiquidityPerOutcome is the default LMSR liquidity parameter
	// for markets created without one, as a decimal string.
	InitialLiquidityPerOutcome string `mapstructure:"initial_liquidity_per_outcome"`
}

// LiquidityB parses the configured default liquidity parameter.
func (c MarketConfig) LiquidityB() (num.Dec, error) {
	return num.NewDecFromStr(c.InitialLiquidityPerOutcome)
}

// OrderbookConfig selects the ladder data structure backing each book side.
type OrderbookConfig struct {
	Backend string `mapstructure:"backend"`
}

// WebsocketConfig tunes the fan-out hub.
type WebsocketConfig struct {
	HeartbeatIntervalMs int64 `mapstructure:"heartbeat_interval_ms"`
	SendBuffer          int   `mapstructure:"send_buffer"`
	MaxSubscriptions    int   `mapstructure:"max_subscriptions"`
}

// HeartbeatInterval returns the ping cadence as a duration.
func (c WebsocketConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// AgentConfig tunes the agent scheduler.
type AgentConfig struct {
	// TradingEnabled lets agent evaluations place real orders. When false
	// the scheduler logs the decision and publishes it without trading.
	TradingEnabled bool  `mapstructure:"trading_enabled"`
	PollIntervalMs int64 `mapstructure:"poll_interval_ms"`
	Batch          int   `mapstructure:"batch"`
	Workers        int64 `mapstructure:"workers"`
}

// PollInterval returns the scheduler poll cadence as a duration.
func (c AgentConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// DecimalConfig mirrors the wire serialisation scale. The scale is a
// compile-time property of the decimal type, so the only accepted value is
// the built-in one; the knob exists to fail fast on a mismatched deployment.
type DecimalConfig struct {
	Precision int `mapstructure:"precision"`
}

// LoggingConfig tunes the root logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PREDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The bare deployment names take precedence over the prefixed forms.
	for key, bare := range bareNames {
		prefixed := "PREDEX_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, bare, prefixed); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

var bareNames = map[string]string{
	"server.port":                          "PORT",
	"server.host":                          "HOST",
	"database.url":                         "DATABASE_URL",
	"broker.url":                           "BROKER_URL",
	"market.initial_liquidity_per_outcome": "PLATFORM_INITIAL_LIQUIDITY_PER_OUTCOME",
	"orderbook.backend":                    "ORDERBOOK_BACKEND",
	"websocket.heartbeat_interval_ms":      "HEARTBEAT_INTERVAL_MS",
	"decimal.precision":                    "DECIMAL_PRECISION",
	"agent.trading_enabled":                "AGENT_TRADING_ENABLED",
	"logging.level":                        "LOG_LEVEL",
	"logging.format":                       "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.disable_rate_limit", false)

	v.SetDefault("database.url", "")
	v.SetDefault("broker.url", "")

	v.SetDefault("market.initial_liquidity_per_outcome", "100")

	v.SetDefault("orderbook.backend", "skiplist")

	v.SetDefault("websocket.heartbeat_interval_ms", 30000)
	v.SetDefault("websocket.send_buffer", 64)
	v.SetDefault("websocket.max_subscriptions", 64)

	v.SetDefault("agent.trading_enabled", false)
	v.SetDefault("agent.poll_interval_ms", 250)
	v.SetDefault("agent.batch", 32)
	v.SetDefault("agent.workers", 5)

	v.SetDefault("decimal.precision", num.Precision)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "plain")
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required (set DATABASE_URL)")
	}
	if c.Broker.URL == "" {
		return fmt.Errorf("broker url is required (set BROKER_URL)")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}

	b, err := c.Market.LiquidityB()
	if err != nil {
		return fmt.Errorf("initial liquidity per outcome: %w", err)
	}
	if !b.IsPositive() {
		return fmt.Errorf("initial liquidity per outcome %s must be positive", b)
	}

	switch c.Orderbook.Backend {
	case "skiplist", "btree":
	default:
		return fmt.Errorf("orderbook backend %q must be skiplist or btree", c.Orderbook.Backend)
	}

	if c.Websocket.HeartbeatIntervalMs <= 0 {
		return fmt.Errorf("heartbeat interval %dms must be positive", c.Websocket.HeartbeatIntervalMs)
	}
	if c.Agent.PollIntervalMs <= 0 {
		return fmt.Errorf("agent poll interval %dms must be positive", c.Agent.PollIntervalMs)
	}

	if c.Decimal.Precision != num.Precision {
		return fmt.Errorf("decimal precision is fixed at %d in this build, got %d", num.Precision, c.Decimal.Precision)
	}

	if _, err := log.ParseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	switch c.Logging.Format {
	case "plain", "json":
	default:
		return fmt.Errorf("log format %q must be plain or json", c.Logging.Format)
	}
	return nil
}
