package pricefeed

import (
	"sort"
	"time"

	"pricealert/internal/application/port"
	"pricealert/internal/infrastructure/websocket"

	"github.com/rs/zerolog/log"
)

// Config 创建价格源所需的参数（来自 [exchange.<name>] 配置段）
type Config struct {
	WsURL     string
	Symbols   []string          // canonical watch-list
	SymbolMap map[string]string // canonical -> native, 仅需登记不同的符号
	Keepalive time.Duration     // <= 0 使用交易所默认值
	Retry     websocket.RetryConfig
}

// Factory 交易所价格源工厂
type Factory func(cfg Config) port.PriceFeed

// registry maps exchange names to their respective price feed factories
var registry = make(map[string]Factory)

// Register 注册一个交易所的 price feed factory
// 由各交易所包的 init() 调用完成自注册
func Register(exchangeName string, factory Factory) {
	if factory == nil {
		log.Warn().Str("exchange", exchangeName).Msg("invalid price feed factory")
		return
	}
	if _, exists := registry[exchangeName]; exists {
		log.Warn().Str("exchange", exchangeName).Msg("price feed factory already registered, overwriting")
	}
	registry[exchangeName] = factory
	log.Debug().Str("exchange", exchangeName).Msg("price feed factory registered")
}

// Get 获取已注册的 price feed factory
func Get(exchangeName string) (Factory, bool) {
	factory, ok := registry[exchangeName]
	return factory, ok
}

// Names 已注册的交易所（按字母序）
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
