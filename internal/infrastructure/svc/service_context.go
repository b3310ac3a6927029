package svc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pricealert/internal/application/port"
	"pricealert/internal/application/service"
	"pricealert/internal/application/usecase/monitor"
	"pricealert/internal/infrastructure/config"
	"pricealert/internal/infrastructure/container"
	"pricealert/internal/infrastructure/metrics"
	"pricealert/internal/infrastructure/pricefeed"
	"pricealert/internal/infrastructure/websocket"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	// 交易所 price feed 自注册
	_ "pricealert/internal/infrastructure/exchange/binance"
	_ "pricealert/internal/infrastructure/exchange/bybit"
)

type ServiceContext struct {
	Config *config.Config

	// 基础设施层（存储、Redis、消息发送）
	infra *container.Container

	// 应用组件
	Bus        *service.PriceBus
	Feeds      []port.PriceFeed
	Engine     *service.AlertEngine
	Dispatcher *service.NotificationDispatcher
	Alerts     *service.AlertService
	Monitor    *monitor.Service

	startedAt time.Time
}

// New 创建并初始化 ServiceContext
// 这是应用启动的唯一入口点，所有依赖初始化都在这里完成
func New(cfg *config.Config) (*ServiceContext, error) {
	feeds, err := BuildFeeds(cfg)
	if err != nil {
		return nil, err
	}

	infra, err := container.New(cfg)
	if err != nil {
		return nil, err
	}

	sc := &ServiceContext{
		Config:    cfg,
		infra:     infra,
		Bus:       service.NewPriceBus(),
		Feeds:     feeds,
		startedAt: time.Now(),
	}

	sc.Dispatcher = service.NewNotificationDispatcher(infra.Sender(), service.NotificationDispatcherConfig{
		MinInterval:       time.Duration(cfg.Notifier.MinIntervalMs) * time.Millisecond,
		DefaultRetryAfter: time.Duration(cfg.Notifier.DefaultRetryAfterSec) * time.Second,
	})

	deps := service.AlertEngineDeps{
		Store:    infra.Repository(),
		Notifier: sc.Dispatcher,
	}
	if rr := infra.RedisRepo(); rr != nil {
		deps.Triggers = rr
	}
	sc.Engine = service.NewAlertEngine(deps)
	sc.Alerts = service.NewAlertService(infra.Repository(), sc.Engine, sc.Bus)

	sc.Monitor = monitor.NewService(monitor.ServiceDeps{
		Feeds:         feeds,
		Prices:        sc.Bus,
		ActiveAlerts:  sc.Engine.ActiveCount,
		QueueDepth:    sc.Dispatcher.QueueDepth,
		PrintEveryMin: cfg.App.StatusEveryMin,
		StartedAt:     sc.startedAt,
	})

	log.Info().
		Int("feeds", len(feeds)).
		Str("storage", cfg.Storage.Driver).
		Bool("redis", cfg.Redis.Enabled).
		Bool("telegram", cfg.Telegram.Enabled).
		Msg("all components initialized")
	return sc, nil
}

// BuildFeeds 按配置通过 pricefeed 注册表创建价格源
func BuildFeeds(cfg *config.Config) ([]port.PriceFeed, error) {
	retry := websocket.RetryConfig{
		MaxRetries: cfg.Reconnect.MaxRetries,
		BaseDelay:  cfg.ReconnectBase(),
		MaxDelay:   cfg.ReconnectMax(),
	}

	var feeds []port.PriceFeed
	for _, name := range cfg.EnabledExchanges() {
		factory, ok := pricefeed.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s (registered: %v)", ErrUnknownFeed, name, pricefeed.Names())
		}
		ex, _ := cfg.ExchangeByName(name)
		feeds = append(feeds, factory(pricefeed.Config{
			WsURL:     ex.WsURL,
			Symbols:   cfg.Symbols.List,
			SymbolMap: ex.SymbolMap,
			Keepalive: ex.Keepalive(),
			Retry:     retry,
		}))
	}
	if len(feeds) == 0 {
		return nil, ErrNoFeedsEnabled
	}
	return feeds, nil
}

// Run 启动顺序：引擎加载活跃 alert 并订阅 -> Redis 镜像 -> feed -> 状态输出 / metrics
// 阻塞直到 ctx 结束或某个组件失败
func (sc *ServiceContext) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if err := sc.Engine.Start(gctx, sc.Bus); err != nil {
		return fmt.Errorf("alert engine: %w", err)
	}

	if rr := sc.infra.RedisRepo(); rr != nil {
		sc.Bus.Subscribe(rr.OnPrice)
		g.Go(func() error { return ignoreCanceled(rr.Run(gctx)) })
	}

	for _, f := range sc.Feeds {
		f.Start(gctx, sc.Bus.Publish)
		log.Info().Str("feed", f.Name()).Msg("feed started")
	}
	g.Go(func() error {
		<-gctx.Done()
		sc.stopFeeds()
		return nil
	})

	g.Go(func() error { return ignoreCanceled(sc.Monitor.Run(gctx)) })

	if sc.Config.Metrics.Enabled {
		addr := sc.Config.Metrics.Addr
		g.Go(func() error {
			log.Info().Str("addr", addr).Msg("metrics server listening")
			if err := metrics.Serve(gctx, addr); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	log.Info().
		Int("symbols", len(sc.Config.Symbols.List)).
		Int("active_alerts", sc.Engine.ActiveCount()).
		Msg("pricealert started")

	return g.Wait()
}

// Status 当前状态文本
func (sc *ServiceContext) Status() string {
	return sc.Monitor.Render()
}

func (sc *ServiceContext) stopFeeds() {
	for _, f := range sc.Feeds {
		f.Stop()
	}
}

// Close 停止 feed，丢弃未发送的通知，最后关闭基础设施（后进先出）
func (sc *ServiceContext) Close() error {
	sc.stopFeeds()
	_ = sc.Dispatcher.Close()
	err := sc.infra.Close()
	log.Info().Dur("uptime", time.Since(sc.startedAt)).Msg("service context closed")
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
