package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"pricealert/internal/application/port"
	"pricealert/internal/domain/model"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const defaultFlushEvery = 500 * time.Millisecond

type Options struct {
	Prefix         string
	TTL            time.Duration
	TriggerStream  string
	TriggerChannel string
	FlushEvery     time.Duration
}

// Repo 最新价格镜像（HSET）+ 触发事件广播（XADD / PUBLISH）
type Repo struct {
	rdb           *redis.Client
	prefix        string
	ttl           time.Duration
	keyLatest     string // prefix + ":latest"
	triggerStream string
	triggerChan   string
	flushEvery    time.Duration

	mu      sync.Mutex
	pending map[string]LatestPrice
}

var _ port.TriggerSink = (*Repo)(nil)

type LatestPrice struct {
	Source string `json:"source"`
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Ts     int64  `json:"ts"`
}

// TriggerMessage PUBLISH 的 JSON
type TriggerMessage struct {
	EventID   int64  `json:"event_id"`
	AlertID   int64  `json:"alert_id"`
	UserID    int64  `json:"user_id"`
	Symbol    string `json:"symbol"`
	Direction string `json:"direction"`
	Price     string `json:"price"`
	Anchor    string `json:"prev_anchor"`
	Move      string `json:"move_amount"`
	Source    string `json:"source"`
	TsMs      int64  `json:"ts_ms"`
}

func New(rdb *redis.Client, opt Options) *Repo {
	prefix := strings.TrimSpace(opt.Prefix)
	if prefix == "" {
		prefix = "pricealert"
	}
	if strings.TrimSpace(opt.TriggerStream) == "" {
		opt.TriggerStream = prefix + ":triggers"
	}
	if strings.TrimSpace(opt.TriggerChannel) == "" {
		opt.TriggerChannel = prefix + ":triggers:pub"
	}
	if opt.FlushEvery <= 0 {
		opt.FlushEvery = defaultFlushEvery
	}
	return &Repo{
		rdb:           rdb,
		prefix:        prefix,
		ttl:           opt.TTL,
		keyLatest:     prefix + ":latest",
		triggerStream: opt.TriggerStream,
		triggerChan:   opt.TriggerChannel,
		flushEvery:    opt.FlushEvery,
		pending:       make(map[string]LatestPrice),
	}
}

// OnPrice bus handler：只合并到内存，由 Run 定时写入，不阻塞 feed
func (r *Repo) OnPrice(u model.PriceUpdate) {
	lp := LatestPrice{Source: u.Source, Symbol: u.Symbol, Price: u.Price.String(), Ts: u.Timestamp.UnixMilli()}
	r.mu.Lock()
	r.pending[field(u.Source, u.Symbol)] = lp
	r.mu.Unlock()
}

// Run 定时 flush，ctx 结束时再 flush 一次
func (r *Repo) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = r.Flush(fctx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				log.Warn().Err(err).Msg("redis price mirror flush failed")
			}
		}
	}
}

// Flush 把合并后的价格一次 pipeline 写入；失败的批次丢弃，下一次价格会覆盖
func (r *Repo) Flush(ctx context.Context) error {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return nil
	}
	batch := r.pending
	r.pending = make(map[string]LatestPrice, len(batch))
	r.mu.Unlock()

	// Hash: field = "binance:BTCUSDT" -> json
	values := make([]any, 0, len(batch)*2)
	for f, lp := range batch {
		b, _ := json.Marshal(lp)
		values = append(values, f, string(b))
	}
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyLatest, values...)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// LatestPrices 读回镜像（status / 外部消费者）
func (r *Repo) LatestPrices(ctx context.Context) (map[string]LatestPrice, error) {
	raw, err := r.rdb.HGetAll(ctx, r.keyLatest).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]LatestPrice, len(raw))
	for f, v := range raw {
		var lp LatestPrice
		if err := json.Unmarshal([]byte(v), &lp); err != nil {
			continue
		}
		out[f] = lp
	}
	return out, nil
}

func (r *Repo) PublishTrigger(ctx context.Context, ev *model.AlertEvent) error {
	msg := TriggerMessage{
		EventID:   ev.ID,
		AlertID:   ev.AlertID,
		UserID:    ev.UserID,
		Symbol:    ev.Snapshot.Alert.Symbol,
		Direction: string(ev.Snapshot.Direction),
		Anchor:    ev.Snapshot.Alert.AnchorPrice.String(),
		Move:      ev.Snapshot.Alert.MoveAmount.String(),
		Source:    ev.Snapshot.Source,
		TsMs:      time.Now().UnixMilli(),
	}
	if ev.Snapshot.Price != nil {
		msg.Price = ev.Snapshot.Price.String()
	}
	if !ev.CreatedAt.IsZero() {
		msg.TsMs = ev.CreatedAt.UnixMilli()
	}

	// 1) Stream: XADD <stream> * ...
	_, err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.triggerStream,
		Values: map[string]any{
			"ts_ms":     msg.TsMs,
			"alert_id":  msg.AlertID,
			"symbol":    msg.Symbol,
			"direction": msg.Direction,
			"price":     msg.Price,
			"source":    msg.Source,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd: %w", err)
	}

	// 2) PubSub: PUBLISH <channel> json
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.triggerChan, b).Err()
}

func field(source, symbol string) string {
	return fmt.Sprintf("%s:%s", source, symbol)
}
