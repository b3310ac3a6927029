package binance

import (
	"pricealert/internal/application/port"
	"pricealert/internal/domain/model"
	"pricealert/internal/infrastructure/pricefeed"
)

// init() automatically registers Binance WebSocket price feed factory
func init() {
	pricefeed.Register(model.SourceBinance, func(cfg pricefeed.Config) port.PriceFeed {
		return NewFuturesMiniTickerFeed(cfg)
	})
}
