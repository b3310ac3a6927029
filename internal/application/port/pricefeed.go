package port

import (
	"context"
	"errors"

	"pricealert/internal/domain/model"
)

// ErrSubscriptionFailed 交易所拒绝了订阅请求（非致命，只上报）
var ErrSubscriptionFailed = errors.New("subscription failed")

// PriceHandler 价格回调，必须快速返回
type PriceHandler func(update model.PriceUpdate)

// PriceFeed 一个交易所的流式价格源
type PriceFeed interface {
	Name() string
	// Start 建立连接并在后台运行，断线自动重连，直到 Stop 或 ctx 结束
	Start(ctx context.Context, onPrice PriceHandler)
	// Stop 关闭连接并停止重连，幂等且不阻塞
	Stop()
	// Health 非阻塞快照，重连期间同样可用
	Health() model.FeedHealth
}
