package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"pricealert/internal/application/port"
	"pricealert/internal/domain/model"
	domainsvc "pricealert/internal/domain/service"
	"pricealert/internal/infrastructure/metrics"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	ErrEngineNotStarted = errors.New("alert engine not started")
	ErrEngineStopped    = errors.New("alert engine stopped")
)

const (
	defaultPriceQueue   = 1024
	defaultStoreTimeout = 5 * time.Second
)

// PriceSource Engine 订阅价格的来源（PriceBus）
type PriceSource interface {
	Subscribe(h port.PriceHandler)
}

type AlertEngineDeps struct {
	Store    port.AlertStore
	Notifier port.Notifier
	// Triggers 可选，触发事件的外部广播
	Triggers port.TriggerSink

	PriceQueue   int
	StoreTimeout time.Duration
}

type engineOp struct {
	fn    func(ctx context.Context, ix *AlertIndex) error
	reply chan error
}

// engineMsg 价格与操作共用一个 FIFO，Apply 之前入队的价格一定先被评估
type engineMsg struct {
	price model.PriceUpdate
	op    *engineOp
}

// AlertEngine 单 goroutine 拥有索引：价格评估与增删改都在同一个 actor 上串行执行
// 因此同一个 alert 的触发与用户编辑不会交错
type AlertEngine struct {
	store        port.AlertStore
	notifier     port.Notifier
	triggers     port.TriggerSink
	storeTimeout time.Duration

	index *AlertIndex
	inbox chan engineMsg

	active  atomic.Int64
	started atomic.Bool
	done    chan struct{}
}

func NewAlertEngine(deps AlertEngineDeps) *AlertEngine {
	if deps.PriceQueue <= 0 {
		deps.PriceQueue = defaultPriceQueue
	}
	if deps.StoreTimeout <= 0 {
		deps.StoreTimeout = defaultStoreTimeout
	}
	return &AlertEngine{
		store:        deps.Store,
		notifier:     deps.Notifier,
		triggers:     deps.Triggers,
		storeTimeout: deps.StoreTimeout,
		index:        NewAlertIndex(),
		inbox:        make(chan engineMsg, deps.PriceQueue),
		done:         make(chan struct{}),
	}
}

// Start 从存储加载活跃 alert，订阅价格并启动 actor，直到 ctx 结束
func (e *AlertEngine) Start(ctx context.Context, src PriceSource) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("alert engine already started")
	}

	alerts, err := e.store.LoadActive(ctx)
	if err != nil {
		e.started.Store(false)
		return fmt.Errorf("load active alerts: %w", err)
	}
	e.index.Reset(alerts)
	e.syncActive()

	go e.run(ctx)
	if src != nil {
		src.Subscribe(e.OnPrice)
	}

	log.Info().Int("alerts", e.index.Len()).Int("symbols", e.index.Symbols()).Msg("alert engine started")
	return nil
}

// Done actor 退出后关闭
func (e *AlertEngine) Done() <-chan struct{} { return e.done }

// OnPrice bus handler：只做转交，评估在 actor 上完成
func (e *AlertEngine) OnPrice(u model.PriceUpdate) {
	select {
	case e.inbox <- engineMsg{price: u}:
	case <-e.done:
	}
}

// Apply 在 actor 上执行 fn，fn 可以做存储写入再修改索引，期间不会有价格评估插入
func (e *AlertEngine) Apply(ctx context.Context, fn func(ctx context.Context, ix *AlertIndex) error) error {
	if !e.started.Load() {
		return ErrEngineNotStarted
	}
	op := &engineOp{fn: fn, reply: make(chan error, 1)}
	select {
	case e.inbox <- engineMsg{op: op}:
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-op.reply:
		return err
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register 新建或重新激活的 alert 加入索引
func (e *AlertEngine) Register(ctx context.Context, a *model.Alert) error {
	return e.Apply(ctx, func(_ context.Context, ix *AlertIndex) error {
		ix.Register(a)
		return nil
	})
}

// Unregister 移除（drop 后调用）
func (e *AlertEngine) Unregister(ctx context.Context, alertID int64) error {
	return e.Apply(ctx, func(_ context.Context, ix *AlertIndex) error {
		ix.Unregister(alertID)
		return nil
	})
}

// UpdateIndexed 编辑后刷新内存中的 payload
func (e *AlertEngine) UpdateIndexed(ctx context.Context, alertID int64, payload model.MovementPayload) error {
	return e.Apply(ctx, func(_ context.Context, ix *AlertIndex) error {
		if !ix.Update(alertID, payload) {
			return model.ErrAlertNotFound
		}
		return nil
	})
}

// Reload 用存储中的活跃 alert 重建索引
func (e *AlertEngine) Reload(ctx context.Context) error {
	return e.Apply(ctx, func(ctx context.Context, ix *AlertIndex) error {
		return e.reload(ctx, ix)
	})
}

// ActiveCount 索引中的活跃 alert 数，非阻塞
func (e *AlertEngine) ActiveCount() int { return int(e.active.Load()) }

func (e *AlertEngine) run(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("alert engine stopped")
			return
		case m := <-e.inbox:
			if m.op != nil {
				m.op.reply <- m.op.fn(ctx, e.index)
				e.syncActive()
				continue
			}
			e.evaluate(ctx, m.price)
		}
	}
}

func (e *AlertEngine) syncActive() {
	n := e.index.Len()
	e.active.Store(int64(n))
	metrics.ActiveAlerts.Set(float64(n))
}

func (e *AlertEngine) reload(ctx context.Context, ix *AlertIndex) error {
	sctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	alerts, err := e.store.LoadActive(sctx)
	if err != nil {
		metrics.AlertStoreErrorsTotal.WithLabelValues("load_active").Inc()
		return fmt.Errorf("load active alerts: %w", err)
	}
	ix.Reset(alerts)
	return nil
}

// evaluate 一条价格对该符号所有活跃 alert 各评估一次
func (e *AlertEngine) evaluate(ctx context.Context, u model.PriceUpdate) {
	alerts := e.index.Lookup(u.Symbol)
	if len(alerts) == 0 {
		return
	}

	stale := false
	for _, a := range alerts {
		res, ok := domainsvc.EvaluateMovement(a.Payload, u.Price)
		if !ok {
			continue
		}
		if err := e.trigger(ctx, a, u, res); err != nil {
			if errors.Is(err, model.ErrAlertNotFound) {
				stale = true
			}
		}
	}

	if stale {
		if err := e.reload(ctx, e.index); err != nil {
			log.Error().Err(err).Msg("alert index reload failed")
		}
		e.syncActive()
	}
}

// trigger 顺序：事件 -> 新锚点 -> 内存 -> 广播 -> 通知
// 前两步失败则放弃本次触发，内存锚点不变，下一条价格会再次评估
func (e *AlertEngine) trigger(ctx context.Context, a *model.Alert, u model.PriceUpdate, res domainsvc.MovementResult) error {
	prev := a.Payload
	price := u.Price
	ev := model.NewEvent(a, model.EventTriggered, model.EventSnapshot{
		Price:     &price,
		Direction: res.Direction,
		Source:    u.Source,
	})

	sctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	if err := e.store.AppendEvent(sctx, ev); err != nil {
		metrics.AlertStoreErrorsTotal.WithLabelValues("append_event").Inc()
		log.Error().Err(err).Int64("alert_id", a.ID).Str("symbol", u.Symbol).Msg("trigger aborted: append event failed")
		return err
	}

	next := prev.Reanchored(price)
	if err := e.store.UpdatePayload(sctx, a.ID, next); err != nil {
		metrics.AlertStoreErrorsTotal.WithLabelValues("update_payload").Inc()
		log.Error().Err(err).Int64("alert_id", a.ID).Str("symbol", u.Symbol).Msg("trigger aborted: re-anchor failed")
		return err
	}
	a.Payload = next

	metrics.AlertsTriggeredTotal.WithLabelValues(string(res.Direction)).Inc()
	log.Info().
		Int64("alert_id", a.ID).
		Str("symbol", u.Symbol).
		Str("source", u.Source).
		Str("direction", string(res.Direction)).
		Str("price", price.String()).
		Str("prev_anchor", prev.AnchorPrice.String()).
		Msg("alert triggered")

	if e.triggers != nil {
		if err := e.triggers.PublishTrigger(sctx, ev); err != nil {
			log.Warn().Err(err).Int64("alert_id", a.ID).Msg("publish trigger failed")
		}
	}

	if a.ChatID == "" {
		log.Warn().Int64("alert_id", a.ID).Msg("alert has no chat, notification skipped")
		return nil
	}
	e.notifier.Enqueue(a.ChatID, FormatTriggerMessage(prev, price, res.Direction))
	return nil
}

// FormatTriggerMessage 触发通知文本
func FormatTriggerMessage(prev model.MovementPayload, price decimal.Decimal, dir model.Direction) string {
	return fmt.Sprintf("%s moved %s $%s\nPrice: $%s\nPrevious anchor: $%s\nNew anchor: $%s",
		prev.Symbol,
		dir.Label(),
		prev.MoveAmount.String(),
		model.FormatPrice(price),
		model.FormatPrice(prev.AnchorPrice),
		model.FormatPrice(price),
	)
}
