package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 价格来源（feed 标识）
const (
	SourceBinance = "binance"
	SourceBybit   = "bybit"
)

// PriceUpdate 归一化后的价格更新，由 Connector 产生，Price Bus 与 Alert Engine 消费
type PriceUpdate struct {
	Symbol    string          `json:"symbol"` // canonical, e.g. "BTCUSDT"
	Price     decimal.Decimal `json:"price"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"ts"` // ingestion instant
}

// FeedHealth 单个 feed 的健康状态快照
type FeedHealth struct {
	Connected      bool
	LastMessageAt  time.Time // zero when nothing received yet
	ReconnectCount int64
	// Down 仅在配置了 max_retries 且重试耗尽后为 true
	Down bool
}

// HasMessage 是否收到过任何消息
func (h FeedHealth) HasMessage() bool { return !h.LastMessageAt.IsZero() }
