package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvTelegramToken 优先于配置文件中的 telegram.token
const EnvTelegramToken = "TELEGRAM_BOT_TOKEN"

// DefaultSymbols 默认订阅的 canonical 交易对
var DefaultSymbols = []string{
	"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT", "DOGEUSDT",
	"ADAUSDT", "AVAXUSDT", "LINKUSDT", "PEPEUSDT", "XAUTUSDT",
}

type ExchangeConfig struct {
	Enabled      bool              `toml:"enabled"`
	WsURL        string            `toml:"ws_url"`
	KeepaliveSec int               `toml:"keepalive_sec"`
	SymbolMap    map[string]string `toml:"symbol_map"` // canonical -> native
}

func (e ExchangeConfig) Keepalive() time.Duration {
	return time.Duration(e.KeepaliveSec) * time.Second
}

type Config struct {
	App struct {
		LogLevel       string `toml:"log_level"`
		StatusEveryMin int    `toml:"status_every_min"`
	} `toml:"app"`

	Symbols struct {
		List []string `toml:"list"`
	} `toml:"symbols"`

	Exchange struct {
		Binance ExchangeConfig `toml:"binance"`
		Bybit   ExchangeConfig `toml:"bybit"`
	} `toml:"exchange"`

	Reconnect struct {
		BaseDelayMs int `toml:"base_delay_ms"`
		MaxDelayMs  int `toml:"max_delay_ms"`
		MaxRetries  int `toml:"max_retries"` // 0 = unbounded
	} `toml:"reconnect"`

	Notifier struct {
		MinIntervalMs        int `toml:"min_interval_ms"`
		DefaultRetryAfterSec int `toml:"default_retry_after_sec"`
	} `toml:"notifier"`

	Telegram struct {
		Enabled bool   `toml:"enabled"`
		Token   string `toml:"token"`
	} `toml:"telegram"`

	Storage struct {
		Driver string `toml:"driver"` // sqlite | postgres
		SQLite struct {
			Path string `toml:"path"`
		} `toml:"sqlite"`
		Postgres struct {
			DSN string `toml:"dsn"`
		} `toml:"postgres"`
	} `toml:"storage"`

	Redis struct {
		Enabled        bool   `toml:"enabled"`
		Addr           string `toml:"addr"`
		Password       string `toml:"password"`
		DB             int    `toml:"db"`
		Prefix         string `toml:"prefix"`
		TTLSeconds     int    `toml:"ttl_seconds"`
		TriggerStream  string `toml:"trigger_stream"`
		TriggerChannel string `toml:"trigger_channel"`
		FlushMs        int    `toml:"flush_ms"`
	} `toml:"redis"`

	Metrics struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"metrics"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	if err := finish(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse 从字符串加载（测试 / 内嵌配置）
func Parse(data string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(data, &cfg); err != nil {
		return nil, err
	}
	if err := finish(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func finish(cfg *Config) error {
	applyEnv(cfg)
	applyDefaults(cfg)
	return validate(cfg)
}

func applyEnv(cfg *Config) {
	if tok := strings.TrimSpace(os.Getenv(EnvTelegramToken)); tok != "" {
		cfg.Telegram.Token = tok
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.StatusEveryMin <= 0 {
		cfg.App.StatusEveryMin = 5
	}
	if len(cfg.Symbols.List) == 0 {
		cfg.Symbols.List = append([]string(nil), DefaultSymbols...)
	}
	if cfg.Exchange.Binance.WsURL == "" {
		cfg.Exchange.Binance.WsURL = "wss://fstream.binance.com"
	}
	if cfg.Exchange.Bybit.WsURL == "" {
		cfg.Exchange.Bybit.WsURL = "wss://stream.bybit.com/v5/public/linear"
	}
	if cfg.Reconnect.BaseDelayMs <= 0 {
		cfg.Reconnect.BaseDelayMs = 1000
	}
	if cfg.Reconnect.MaxDelayMs <= 0 {
		cfg.Reconnect.MaxDelayMs = 30000
	}
	if cfg.Notifier.MinIntervalMs <= 0 {
		cfg.Notifier.MinIntervalMs = 1000
	}
	if cfg.Notifier.DefaultRetryAfterSec <= 0 {
		cfg.Notifier.DefaultRetryAfterSec = 5
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "./data/alerts.db"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "pricealert"
	}
	if cfg.Redis.FlushMs <= 0 {
		cfg.Redis.FlushMs = 500
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9108"
	}
}

func validate(cfg *Config) error {
	cfg.Symbols.List = normalizeSymbols(cfg.Symbols.List)
	if len(cfg.Symbols.List) == 0 {
		return errors.New("symbols.list is empty")
	}

	if cfg.Exchange.Binance.Enabled && strings.TrimSpace(cfg.Exchange.Binance.WsURL) == "" {
		return errors.New("exchange.binance.ws_url empty but enabled")
	}
	if cfg.Exchange.Bybit.Enabled && strings.TrimSpace(cfg.Exchange.Bybit.WsURL) == "" {
		return errors.New("exchange.bybit.ws_url empty but enabled")
	}
	if cfg.Reconnect.MaxDelayMs < cfg.Reconnect.BaseDelayMs {
		return fmt.Errorf("reconnect.max_delay_ms (%d) < base_delay_ms (%d)", cfg.Reconnect.MaxDelayMs, cfg.Reconnect.BaseDelayMs)
	}
	if cfg.Reconnect.MaxRetries < 0 {
		return errors.New("reconnect.max_retries must be >= 0")
	}

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	switch cfg.Storage.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
			return errors.New("storage.postgres.dsn empty but driver is postgres")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", cfg.Storage.Driver)
	}

	if cfg.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram enabled but no token (set telegram.token or %s)", EnvTelegramToken)
	}
	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis.addr empty but enabled")
	}
	return nil
}

// EnabledExchanges 按配置顺序返回启用的交易所名
func (c *Config) EnabledExchanges() []string {
	var out []string
	if c.Exchange.Binance.Enabled {
		out = append(out, "binance")
	}
	if c.Exchange.Bybit.Enabled {
		out = append(out, "bybit")
	}
	return out
}

// ExchangeByName 未知名称返回 false
func (c *Config) ExchangeByName(name string) (ExchangeConfig, bool) {
	switch name {
	case "binance":
		return c.Exchange.Binance, true
	case "bybit":
		return c.Exchange.Bybit, true
	}
	return ExchangeConfig{}, false
}

func (c *Config) ReconnectBase() time.Duration {
	return time.Duration(c.Reconnect.BaseDelayMs) * time.Millisecond
}

func (c *Config) ReconnectMax() time.Duration {
	return time.Duration(c.Reconnect.MaxDelayMs) * time.Millisecond
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
