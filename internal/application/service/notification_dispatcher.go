package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"pricealert/internal/application/port"
	"pricealert/internal/infrastructure/metrics"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	DefaultMinInterval = time.Second
	DefaultRetryAfter  = 5 * time.Second
	defaultSendTimeout = 15 * time.Second
)

type NotificationDispatcherConfig struct {
	// MinInterval 两次发送之间的最小间隔
	MinInterval time.Duration
	// DefaultRetryAfter 限流响应未给出等待时间时使用
	DefaultRetryAfter time.Duration
	SendTimeout       time.Duration
}

type notification struct {
	chatID string
	text   string
}

// NotificationDispatcher FIFO 发送队列：单个后台 drain 协程，遇到限流时消息放回队首等待后重试
// 不持久化，进程退出时队列中的消息丢失
type NotificationDispatcher struct {
	sender  port.Sender
	cfg     NotificationDispatcherConfig
	limiter *rate.Limiter
	// sleep 可替换（测试）
	sleep func(ctx context.Context, d time.Duration) bool

	mu       sync.Mutex
	queue    []notification
	draining bool
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ port.Notifier = (*NotificationDispatcher)(nil)

func NewNotificationDispatcher(sender port.Sender, cfg NotificationDispatcherConfig) *NotificationDispatcher {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.DefaultRetryAfter <= 0 {
		cfg.DefaultRetryAfter = DefaultRetryAfter
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &NotificationDispatcher{
		sender:  sender,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		sleep:   sleepCtx,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Enqueue 非阻塞，入队后如无 drain 协程则启动一个
func (d *NotificationDispatcher) Enqueue(chatID, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		log.Warn().Str("chat_id", chatID).Msg("dispatcher closed, notification dropped")
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		return
	}
	d.queue = append(d.queue, notification{chatID: chatID, text: text})
	metrics.NotificationQueueDepth.Set(float64(len(d.queue)))
	if !d.draining {
		d.draining = true
		d.wg.Add(1)
		go d.drain()
	}
}

// QueueDepth 当前排队中的消息数
func (d *NotificationDispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close 停止发送并等待 drain 协程退出，剩余消息丢弃
func (d *NotificationDispatcher) Close() error {
	d.mu.Lock()
	d.closed = true
	left := len(d.queue)
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	if left > 0 {
		log.Warn().Int("pending", left).Msg("dispatcher closed with pending notifications")
	}
	return nil
}

func (d *NotificationDispatcher) pop() (notification, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 || d.closed {
		d.draining = false
		return notification{}, false
	}
	n := d.queue[0]
	d.queue = d.queue[1:]
	metrics.NotificationQueueDepth.Set(float64(len(d.queue)))
	return n, true
}

func (d *NotificationDispatcher) pushFront(n notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append([]notification{n}, d.queue...)
	metrics.NotificationQueueDepth.Set(float64(len(d.queue)))
}

func (d *NotificationDispatcher) drain() {
	defer d.wg.Done()
	for {
		n, ok := d.pop()
		if !ok {
			return
		}
		if err := d.limiter.Wait(d.ctx); err != nil {
			return
		}

		sctx, cancel := context.WithTimeout(d.ctx, d.cfg.SendTimeout)
		err := d.sender.Send(sctx, n.chatID, n.text)
		cancel()

		if err == nil {
			metrics.NotificationsTotal.WithLabelValues("sent").Inc()
			continue
		}

		var rl *port.RateLimitedError
		if errors.As(err, &rl) {
			wait := rl.RetryAfter
			if wait <= 0 {
				wait = d.cfg.DefaultRetryAfter
			}
			metrics.NotificationsTotal.WithLabelValues("rate_limited").Inc()
			log.Warn().Str("chat_id", n.chatID).Dur("retry_after", wait).Msg("notification rate limited, pausing queue")
			d.pushFront(n)
			if !d.sleep(d.ctx, wait) {
				return
			}
			continue
		}

		if d.ctx.Err() != nil {
			return
		}
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		log.Error().Err(err).Str("chat_id", n.chatID).Msg("notification send failed, dropped")
	}
}

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
