package websocket

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"pricealert/internal/application/port"
	"pricealert/internal/domain/model"
	"pricealert/internal/infrastructure/metrics"

	gws "github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	dialTimeout  = 10 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 5 * time.Second
	// stableAfter 连接持续这么久才视为稳定，重置退避计数
	stableAfter = 30 * time.Second
)

// Protocol 交易所相关的部分：地址、订阅、心跳、消息归一化
// 重连、读循环、健康状态由 Connector 统一处理
type Protocol interface {
	Name() string
	// URL 完整的连接地址（含订阅参数时一并拼好）
	URL() (string, error)
	// OnOpen 连接建立后调用，用于发送订阅帧
	OnOpen(conn *gws.Conn) error
	// KeepaliveInterval <= 0 表示不需要心跳
	KeepaliveInterval() time.Duration
	Ping(conn *gws.Conn) error
	// Decode 将一条原始消息转换为价格更新；控制消息返回 nil, nil
	Decode(b []byte, now time.Time) ([]model.PriceUpdate, error)
}

// Connector 通用的 WebSocket 价格源：一个连接 + 指数退避重连
type Connector struct {
	proto  Protocol
	retry  RetryConfig
	dialer *gws.Dialer
	jitter func() float64

	mu      sync.Mutex
	health  model.FeedHealth
	conn    *gws.Conn
	cancel  context.CancelFunc
	stopped bool

	stopOnce sync.Once
	done     chan struct{}
}

var _ port.PriceFeed = (*Connector)(nil)

func NewConnector(proto Protocol, retry RetryConfig) *Connector {
	return &Connector{
		proto:  proto,
		retry:  retry,
		dialer: gws.DefaultDialer,
		jitter: rand.Float64,
		done:   make(chan struct{}),
	}
}

func (c *Connector) Name() string { return c.proto.Name() }

// Start 后台运行连接循环，立即返回
func (c *Connector) Start(ctx context.Context, onPrice port.PriceHandler) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.stopped || c.cancel != nil {
		c.mu.Unlock()
		cancel()
		return
	}
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx, onPrice)
}

// Stop 关闭连接并阻止后续重连；可在退避等待中调用
func (c *Connector) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		cancel, conn := c.cancel, c.conn
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		} else {
			close(c.done)
		}
		if conn != nil {
			_ = conn.Close()
		}
	})
}

// Done 连接循环退出后关闭
func (c *Connector) Done() <-chan struct{} { return c.done }

func (c *Connector) Health() model.FeedHealth {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

func (c *Connector) run(ctx context.Context, onPrice port.PriceHandler) {
	defer close(c.done)
	name := c.Name()

	wsURL, err := c.proto.URL()
	if err != nil {
		log.Error().Str("feed", name).Err(err).Msg("invalid ws url, feed down")
		c.markDown()
		return
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		log.Info().Str("feed", name).Str("url", wsURL).Msg("ws connecting")
		conn, err := c.open(ctx, wsURL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			if !c.backoff(ctx, attempt, err) {
				return
			}
			continue
		}

		if !c.setConn(conn) {
			_ = conn.Close()
			return
		}
		log.Info().Str("feed", name).Msg("ws connected")

		connectedAt := time.Now()
		err = c.readLoop(ctx, conn, onPrice)
		_ = conn.Close()
		c.setConn(nil)

		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		c.health.ReconnectCount++
		c.mu.Unlock()
		metrics.FeedReconnectsTotal.WithLabelValues(name).Inc()
		log.Warn().Str("feed", name).Err(err).Dur("uptime", time.Since(connectedAt)).Msg("ws disconnected, reconnecting")

		// 稳定运行过的连接断开后立即重连；连上就断的计入退避，避免空转
		if time.Since(connectedAt) >= stableAfter {
			attempt = 0
			continue
		}
		attempt++
		if !c.backoff(ctx, attempt, err) {
			return
		}
	}
}

// backoff 第 attempt 次失败后等待；重试耗尽或被 Stop 打断时返回 false
func (c *Connector) backoff(ctx context.Context, attempt int, cause error) bool {
	name := c.Name()
	if c.retry.Exhausted(attempt) {
		log.Error().Str("feed", name).Err(cause).Int("attempt", attempt).Msg("ws reconnect gave up, feed down")
		c.markDown()
		return false
	}
	delay := c.retry.Jittered(attempt, c.jitter())
	log.Warn().Str("feed", name).Err(cause).
		Int("attempt", attempt).
		Int64("delay_ms", delay.Milliseconds()).
		Msg("ws retrying")
	return sleepCtx(ctx, delay)
}

func (c *Connector) open(ctx context.Context, wsURL string) (*gws.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := c.dialer.DialContext(dctx, wsURL, nil)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if err := c.proto.OnOpen(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return conn, nil
}

// setConn 记录当前连接并更新 connected 状态；已 Stop 时返回 false
func (c *Connector) setConn(conn *gws.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn != nil && c.stopped {
		return false
	}
	c.conn = conn
	c.health.Connected = conn != nil
	v := 0.0
	if c.health.Connected {
		v = 1
	}
	metrics.FeedConnected.WithLabelValues(c.Name()).Set(v)
	return true
}

func (c *Connector) markDown() {
	c.mu.Lock()
	c.health.Connected = false
	c.health.Down = true
	c.mu.Unlock()
	metrics.FeedConnected.WithLabelValues(c.Name()).Set(0)
}

func (c *Connector) touch(now time.Time) {
	c.mu.Lock()
	c.health.LastMessageAt = now
	c.mu.Unlock()
}

// readLoop 读消息直到出错或 ctx 结束；心跳与读循环同生命周期
func (c *Connector) readLoop(ctx context.Context, conn *gws.Conn, onPrice port.PriceHandler) error {
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		now := time.Now()
		_ = conn.SetReadDeadline(now.Add(readTimeout))
		c.touch(now)
		return nil
	})

	var pingC <-chan time.Time
	if interval := c.proto.KeepaliveInterval(); interval > 0 {
		pingTicker := time.NewTicker(interval)
		defer pingTicker.Stop()
		pingC = pingTicker.C
	}

	errCh := make(chan error, 1)
	go func() {
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			now := time.Now()
			_ = conn.SetReadDeadline(now.Add(readTimeout))
			c.touch(now)
			c.handle(b, now, onPrice)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingC:
			if err := c.proto.Ping(conn); err != nil {
				return fmt.Errorf("keepalive: %w", err)
			}
		}
	}
}

func (c *Connector) handle(b []byte, now time.Time, onPrice port.PriceHandler) {
	name := c.Name()
	metrics.FeedMessagesTotal.WithLabelValues(name).Inc()

	updates, err := c.proto.Decode(b, now)
	if err != nil {
		if errors.Is(err, port.ErrSubscriptionFailed) {
			log.Warn().Str("feed", name).Err(err).Msg("subscription failed")
			return
		}
		metrics.FeedMalformedTotal.WithLabelValues(name).Inc()
		log.Error().Str("feed", name).Err(err).Msg("malformed message dropped")
		return
	}
	for _, u := range updates {
		onPrice(u)
	}
}

// WriteJSON 带写超时的 JSON 帧
func WriteJSON(conn *gws.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

// WritePing 标准 ping 控制帧
func WritePing(conn *gws.Conn) error {
	return conn.WriteControl(gws.PingMessage, []byte("ping"), time.Now().Add(writeTimeout))
}
