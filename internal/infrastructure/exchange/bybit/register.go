package bybit

import (
	"pricealert/internal/application/port"
	"pricealert/internal/domain/model"
	"pricealert/internal/infrastructure/pricefeed"
)

// init() automatically registers Bybit WebSocket price feed factory
func init() {
	pricefeed.Register(model.SourceBybit, func(cfg pricefeed.Config) port.PriceFeed {
		return NewLinearTickerFeed(cfg)
	})
}
