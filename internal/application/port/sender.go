package port

import (
	"context"
	"fmt"
	"time"
)

// Sender 外部消息服务
type Sender interface {
	// Send 被限流时返回 *RateLimitedError，其它失败返回普通 error
	Send(ctx context.Context, chatID, text string) error
}

// Notifier 通知入队（由 NotificationDispatcher 实现）
type Notifier interface {
	Enqueue(chatID, text string)
}

// RateLimitedError 服务方限流，RetryAfter 之后可重试
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}
