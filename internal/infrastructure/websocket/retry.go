package websocket

import (
	"context"
	"time"
)

// RetryConfig WebSocket 重连退避配置
type RetryConfig struct {
	MaxRetries int           // 0 表示无限重试
	BaseDelay  time.Duration // 首次重试延迟
	MaxDelay   time.Duration // 最大延迟
}

// DefaultRetryConfig 默认重试配置
var DefaultRetryConfig = RetryConfig{
	MaxRetries: 0,
	BaseDelay:  1 * time.Second,
	MaxDelay:   30 * time.Second,
}

// Delay 第 attempt 次（从 1 开始）重试的无抖动延迟：min(base * 2^(attempt-1), max)
func (r RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := r.BaseDelay
	for i := 1; i < attempt; i++ {
		// 指数退避：每次翻倍，但不超过最大延迟
		d *= 2
		if d >= r.MaxDelay {
			return r.MaxDelay
		}
	}
	return min(d, r.MaxDelay)
}

// Jittered 在 Delay 基础上乘以 [0.5, 1.0) 的随机因子，f 取值 [0, 1)
func (r RetryConfig) Jittered(attempt int, f float64) time.Duration {
	return time.Duration(float64(r.Delay(attempt)) * (0.5 + f*0.5))
}

// Exhausted 配置了上限且已超过
func (r RetryConfig) Exhausted(attempt int) bool {
	return r.MaxRetries > 0 && attempt > r.MaxRetries
}

// sleepCtx 可被 ctx 打断的 sleep，被打断返回 false
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
