package monitor

import (
	"time"

	"pricealert/internal/application/port"
	"pricealert/internal/domain/model"
)

type PriceFeed = port.PriceFeed

// PriceReader 状态页读取分来源的最新价格
type PriceReader interface {
	LastPriceBySource(symbol, source string) (model.PriceUpdate, bool)
}

// FeedStatus 单个 feed 的健康快照
type FeedStatus struct {
	Name   string
	Health model.FeedHealth
}

// SourcePrice 某来源的参考价格
type SourcePrice struct {
	Source string
	Price  model.PriceUpdate
}

// Status 一次状态采样
type Status struct {
	Now          time.Time
	Uptime       time.Duration
	Feeds        []FeedStatus
	RefSymbol    string
	RefPrices    []SourcePrice
	ActiveAlerts int
	QueueDepth   int
}
